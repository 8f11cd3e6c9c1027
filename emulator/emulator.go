// Package emulator is a software stand-in for the Solana app on a Ledger. It
// answers GET_PUBKEY with a deterministic ed25519 key per path and serves the
// Speculos TCP protocol so the real client stack can run without hardware.
package emulator

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skythen/apdu"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// Approver decides whether the simulated user approves showing the key at
// path. It is only consulted for requests with P1 set.
type Approver func(path ledger.DerivationPath) bool

// AlwaysApprove approves every confirmation request.
func AlwaysApprove(ledger.DerivationPath) bool { return true }

// Option configures a Device.
type Option func(*Device)

// WithApprover sets the confirmation handler.
func WithApprover(approve Approver) Option {
	return func(d *Device) {
		d.approve = approve
	}
}

// WithDelay makes every request take at least delay, simulating a slow link
// or a user reading the screen.
func WithDelay(delay time.Duration) Option {
	return func(d *Device) {
		d.delay = delay
	}
}

// Device is the emulated secure element.
type Device struct {
	seed    []byte
	approve Approver
	delay   time.Duration

	mu     sync.Mutex
	locked bool
}

// New returns a device whose keys are derived from seed.
func New(seed []byte, opts ...Option) *Device {
	d := &Device{
		seed:    append([]byte(nil), seed...),
		approve: AlwaysApprove,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLocked simulates the device lock screen.
func (d *Device) SetLocked(locked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.locked = locked
}

func (d *Device) isLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.locked
}

// PublicKey returns the key the device reports for path.
func (d *Device) PublicKey(path ledger.DerivationPath) (ledger.PublicKey, error) {
	encoded, err := ledger.EncodePath(path)
	if err != nil {
		return ledger.PublicKey{}, err
	}
	return d.publicKey(encoded), nil
}

func (d *Device) publicKey(encodedPath []byte) ledger.PublicKey {
	seed := sha256.Sum256(append(append([]byte(nil), d.seed...), encodedPath...))
	private := ed25519.NewKeyFromSeed(seed[:])

	var key ledger.PublicKey
	copy(key[:], private.Public().(ed25519.PublicKey))
	return key
}

// HandleAPDU processes one raw command and returns the raw reply.
func (d *Device) HandleAPDU(command []byte) []byte {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	data, sw := d.handle(command)

	slog.Debug("EMULATOR", "Command", fmt.Sprintf("%x", command), "Status", sw)

	reply := make([]byte, len(data)+2)
	copy(reply, data)
	binary.BigEndian.PutUint16(reply[len(data):], uint16(sw))
	return reply
}

func (d *Device) handle(command []byte) ([]byte, ledger.StatusWord) {
	capdu, err := apdu.ParseCapdu(command)
	if err != nil {
		return nil, ledger.SWWrongLength
	}
	if d.isLocked() {
		return nil, ledger.SWDeviceLocked
	}
	if capdu.Cla != ledger.ClaSolana {
		return nil, ledger.SWClassNotSupported
	}

	switch capdu.Ins {
	case ledger.InsGetPubkey:
		return d.getPubkey(capdu)
	default:
		return nil, ledger.SWInstructionNotSupported
	}
}

func (d *Device) getPubkey(capdu *apdu.Capdu) ([]byte, ledger.StatusWord) {
	if capdu.P1 != ledger.P1NonConfirm && capdu.P1 != ledger.P1Confirm {
		return nil, ledger.SWWrongData
	}
	path, err := ledger.DecodePath(capdu.Data)
	if err != nil {
		return nil, ledger.SWWrongData
	}
	if capdu.P1 == ledger.P1Confirm && !d.approve(path) {
		return nil, ledger.SWUserDenied
	}

	key := d.publicKey(capdu.Data)
	return key[:], ledger.SWSuccess
}

// Package replay plays back APDU sessions recorded with a Recorder. Sessions
// are stored as CBOR so fixtures stay compact and byte exact.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// Failure kinds stored in a recording instead of a reply.
const (
	FailureTimeout      = "timeout"
	FailureDisconnected = "disconnected"
	FailureTransport    = "transport"
	FailureCanceled     = "canceled"
)

// Exchange is one recorded request/response pair.
type Exchange struct {
	Command []byte `cbor:"command"`
	Reply   []byte `cbor:"reply,omitempty"`
	Failure string `cbor:"failure,omitempty"`
}

// Session is a recorded sequence of exchanges with one device.
type Session struct {
	Device    string     `cbor:"device"`
	Exchanges []Exchange `cbor:"exchanges"`
}

// Decode reads a session, rejecting unknown fields.
func Decode(r io.Reader) (*Session, error) {
	decMode, _ := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()

	var session Session
	if err := decMode.NewDecoder(r).Decode(&session); err != nil {
		return nil, fmt.Errorf("replay: decode session: %w", err)
	}
	return &session, nil
}

// Encode writes session to w.
func Encode(w io.Writer, session *Session) error {
	return cbor.NewEncoder(w).Encode(session)
}

// Load reads a session file.
func Load(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", ledger.ErrDeviceNotFound, err)
		}
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// Opener returns a ledger.Opener playing back the session file at path.
func Opener(path string) ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		session, err := Load(path)
		if err != nil {
			return nil, err
		}
		return New(session), nil
	}
}

// Transport plays back a session. Commands must arrive in recorded order
// and match byte for byte.
type Transport struct {
	device string

	mu sync.Mutex
	queue
	closed bool
}

// New returns a transport playing back session.
func New(session *Session) *Transport {
	t := &Transport{device: session.Device}
	for _, exchange := range session.Exchanges {
		t.queue.enqueue(exchange)
	}
	return t
}

// Remaining returns how many recorded exchanges have not been played.
func (t *Transport) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.queue.size()
}

// Exchange implements ledger.Transport.
func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ledger.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exchange, ok := t.queue.dequeue()
	if !ok {
		return nil, fmt.Errorf("%w: %s: recording exhausted", ledger.ErrDeviceDisconnected, t.device)
	}
	if !bytes.Equal(exchange.Command, command) {
		return nil, fmt.Errorf("%w: command %x does not match recording %x", ledger.ErrTransport, command, exchange.Command)
	}

	slog.Debug("REPLAY", "Command", fmt.Sprintf("%x", command), "Reply", fmt.Sprintf("%x", exchange.Reply), "Failure", exchange.Failure)

	switch exchange.Failure {
	case "":
		return append([]byte(nil), exchange.Reply...), nil
	case FailureTimeout:
		return nil, fmt.Errorf("%w: recorded", ledger.ErrTimeout)
	case FailureDisconnected:
		return nil, fmt.Errorf("%w: recorded", ledger.ErrDeviceDisconnected)
	case FailureCanceled:
		return nil, fmt.Errorf("replay: recorded: %w", context.Canceled)
	default:
		return nil, fmt.Errorf("%w: recorded %s", ledger.ErrTransport, exchange.Failure)
	}
}

// Close implements ledger.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}

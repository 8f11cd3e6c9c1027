package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds an exchange when the caller's context has no deadline.
// It has to leave room for the user to read and approve on the device.
const DefaultTimeout = 30 * time.Second

// State of a Device handle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateExchanging
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateExchanging:
		return "exchanging"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// sessions tracks device ids held by live handles in this process.
var sessions = struct {
	sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

func claim(id string) error {
	sessions.Lock()
	defer sessions.Unlock()

	if _, ok := sessions.held[id]; ok {
		return fmt.Errorf("%w: %s is held by another session", ErrDeviceBusy, id)
	}
	sessions.held[id] = struct{}{}
	return nil
}

func release(id string) {
	sessions.Lock()
	defer sessions.Unlock()

	delete(sessions.held, id)
}

// Option configures a Device.
type Option func(*Device)

// WithTimeout overrides DefaultTimeout. Zero disables the default bound and
// leaves it to the caller's context.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		d.timeout = timeout
	}
}

// Device is an exclusive handle on one physical or emulated device. The link
// is half duplex: a single exchange may be outstanding at a time, a second one
// fails with ErrExchangeInProgress instead of queueing.
//
// A Device moves Closed → Open → (Exchanging ⇄ Open) → Closed. After a
// timeout or a disconnect it is closed and has to be reopened.
type Device struct {
	id      string
	timeout time.Duration

	// commsLock (buf=1) is held for the whole exchange. It is only ever
	// acquired with a non blocking send so a concurrent caller fails fast.
	commsLock chan struct{}

	stateLock sync.Mutex // Protects state and transport
	state     State
	transport Transport
}

// Open acquires the device named id through opener. The returned handle must
// be closed by the caller, usually with defer.
func Open(ctx context.Context, id string, opener Opener, opts ...Option) (*Device, error) {
	if opener == nil {
		return nil, invalidArgument("nil opener")
	}
	if err := claim(id); err != nil {
		return nil, err
	}

	transport, err := opener(ctx)
	if err != nil {
		release(id)
		if errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	device := &Device{
		id:        id,
		timeout:   DefaultTimeout,
		commsLock: make(chan struct{}, 1),
		state:     StateOpen,
		transport: transport,
	}
	for _, opt := range opts {
		opt(device)
	}

	slog.Debug("Device opened", "ID", id)

	return device, nil
}

// ID returns the identifier the device was opened with.
func (d *Device) ID() string {
	return d.id
}

// State returns the current handle state.
func (d *Device) State() State {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	return d.state
}

// Exchange sends a raw command and blocks until the complete reply arrived,
// the context is done or the device timeout elapsed.
func (d *Device) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	select {
	case d.commsLock <- struct{}{}:
	default:
		return nil, ErrExchangeInProgress
	}
	defer func() { <-d.commsLock }()

	d.stateLock.Lock()
	if d.state != StateOpen {
		d.stateLock.Unlock()
		return nil, ErrClosed
	}
	d.state = StateExchanging
	transport := d.transport
	d.stateLock.Unlock()

	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	slog.Debug("EXCHANGE", "Command", fmt.Sprintf("%x", command))

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)

	go func() {
		reply, err := transport.Exchange(ctx, command)
		done <- result{reply, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, d.fail(ctx, r.err)
		}
		slog.Debug("EXCHANGE", "Reply", fmt.Sprintf("%x", r.reply))
		d.setState(StateOpen)
		return r.reply, nil

	case <-ctx.Done():
		d.abort()
		return nil, contextError(ctx)
	}
}

// Transmit serializes cmd, exchanges it and splits the reply. The status word
// is not checked, see Response.Err.
func (d *Device) Transmit(ctx context.Context, cmd Command) (Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return Response{}, err
	}
	reply, err := d.Exchange(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(reply)
}

// Close releases the device. It is safe to call more than once and from any
// state; an outstanding exchange is interrupted by closing the link.
func (d *Device) Close() error {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	release(d.id)

	slog.Debug("Device closed", "ID", d.id)

	return d.transport.Close()
}

func (d *Device) setState(state State) {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	if d.state != StateClosed {
		d.state = state
	}
}

// fail classifies a transport error. Timeouts and disconnects, including a
// cancellation reported by the link, leave it in an unknown state so the
// handle is closed; other link errors return it to Open.
func (d *Device) fail(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		d.abort()
		return contextError(ctx)
	case errors.Is(err, ErrTimeout):
		d.abort()
		return err
	case errors.Is(err, context.Canceled):
		d.abort()
		return fmt.Errorf("ledger: exchange aborted: %w", err)
	case errors.Is(err, ErrDeviceDisconnected):
		d.stateLock.Lock()
		_ = d.closeLocked()
		d.stateLock.Unlock()
		return err
	case errors.Is(err, ErrTransport), errors.Is(err, ErrMalformedResponse):
		d.setState(StateOpen)
		return err
	default:
		d.setState(StateOpen)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// abort resets the link if the transport supports it and closes the handle.
func (d *Device) abort() {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	if d.state == StateClosed {
		return
	}
	if resetter, ok := d.transport.(Resetter); ok {
		if err := resetter.Reset(); err != nil {
			slog.Debug("Reset failed", "ID", d.id, "Error", err)
		}
	}
	if err := d.closeLocked(); err != nil {
		slog.Debug("Close after abort failed", "ID", d.id, "Error", err)
	}
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("ledger: exchange aborted: %w", ctx.Err())
}

package replay

import (
	"context"
	"errors"
	"os"
	"sync"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// Recorder wraps a transport and records every exchange going through it.
type Recorder struct {
	transport ledger.Transport

	mu      sync.Mutex
	session Session
}

// NewRecorder records exchanges on transport for the device named device.
func NewRecorder(device string, transport ledger.Transport) *Recorder {
	return &Recorder{
		transport: transport,
		session:   Session{Device: device},
	}
}

// RecordingOpener wraps opener so the opened transport is recorded. The
// recorder is handed to onOpen once the transport is up.
func RecordingOpener(device string, opener ledger.Opener, onOpen func(*Recorder)) ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		transport, err := opener(ctx)
		if err != nil {
			return nil, err
		}
		recorder := NewRecorder(device, transport)
		if onOpen != nil {
			onOpen(recorder)
		}
		return recorder, nil
	}
}

// Exchange implements ledger.Transport.
func (r *Recorder) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	reply, err := r.transport.Exchange(ctx, command)

	exchange := Exchange{Command: append([]byte(nil), command...)}
	switch {
	case err == nil:
		exchange.Reply = append([]byte(nil), reply...)
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		exchange.Failure = FailureTimeout
	case errors.Is(err, context.Canceled):
		exchange.Failure = FailureCanceled
	case errors.Is(err, ledger.ErrDeviceDisconnected):
		exchange.Failure = FailureDisconnected
	default:
		exchange.Failure = FailureTransport
	}

	r.mu.Lock()
	r.session.Exchanges = append(r.session.Exchanges, exchange)
	r.mu.Unlock()

	return reply, err
}

// Reset forwards to the wrapped transport when it supports resetting.
func (r *Recorder) Reset() error {
	if resetter, ok := r.transport.(ledger.Resetter); ok {
		return resetter.Reset()
	}
	return nil
}

// Close implements ledger.Transport.
func (r *Recorder) Close() error {
	return r.transport.Close()
}

// Session returns a copy of what was recorded so far.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := Session{Device: r.session.Device}
	session.Exchanges = append(session.Exchanges, r.session.Exchanges...)
	return &session
}

// WriteFile stores the recording at path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, r.Session()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

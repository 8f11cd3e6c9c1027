package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any I/O when the caller supplied a
	// path or payload the protocol cannot express.
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	// ErrDeviceNotFound is returned by Open when no matching device is present.
	ErrDeviceNotFound = errors.New("ledger: device not found")
	// ErrDeviceBusy is returned by Open when another session holds the device.
	ErrDeviceBusy = errors.New("ledger: device busy")
	// ErrDeviceDisconnected is returned when the device goes away mid-exchange.
	ErrDeviceDisconnected = errors.New("ledger: device disconnected")
	// ErrTimeout is returned when no complete response arrived in time.
	ErrTimeout = errors.New("ledger: timeout")
	// ErrTransport wraps link level I/O failures.
	ErrTransport = errors.New("ledger: transport error")
	// ErrMalformedResponse is returned when the reply violates the protocol.
	ErrMalformedResponse = errors.New("ledger: malformed response")
	// ErrExchangeInProgress is returned when a second exchange is issued on a
	// handle that already has one outstanding.
	ErrExchangeInProgress = errors.New("ledger: exchange already in progress")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("ledger: device closed")
)

// StatusError is returned when the device answered with a status word other
// than 0x9000.
type StatusError struct {
	Kind StatusKind
	Code StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger: %v (0x%04x)", e.Kind, uint16(e.Code))
}

// IsStatus checks whether err carries a StatusError and returns it.
func IsStatus(err error) (*StatusError, bool) {
	var s *StatusError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// IsUserDenied reports whether the user rejected the request on the device.
func IsUserDenied(err error) bool {
	s, ok := IsStatus(err)
	return ok && s.Kind == UserDenied
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

package ledger

import (
	"context"
)

// Transport moves one complete APDU to the device and returns the complete
// reply, including the status word. Implementations handle any link level
// chunking and must return only after the full reply has been reassembled.
//
// Transports are not safe for concurrent use; Device serializes access.
type Transport interface {
	Exchange(ctx context.Context, command []byte) ([]byte, error)
	Close() error
}

// Resetter is implemented by transports that can abort an exchange that is
// still running on the device, typically by dropping the link.
type Resetter interface {
	Reset() error
}

// Opener acquires a transport. It returns an error wrapping ErrDeviceNotFound
// when nothing matches, or ErrDeviceBusy when the OS reports the device in use.
type Opener func(ctx context.Context) (Transport, error)

// Package speculos implements the TCP APDU link of the Speculos emulator.
//
// The host sends every APDU prefixed with its length:
//
//	Description          | Length
//	---------------------+--------
//	APDU length (BE)     | 4 bytes
//	APDU                 | arbitrary
//
// and the emulator answers with
//
//	Description          | Length
//	---------------------+--------
//	Data length (BE)     | 4 bytes
//	Data                 | arbitrary
//	SW1 SW2              | 2 bytes
//
// Note the announced length excludes the status word.
package speculos

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// DefaultAddress is the APDU port Speculos listens on.
const DefaultAddress = "127.0.0.1:9999"

// maxReplyLength guards against garbage length prefixes.
const maxReplyLength = 1 << 16

// Opener returns a ledger.Opener dialing addr.
func Opener(addr string) ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		return Dial(ctx, addr)
	}
}

// Transport is a ledger.Transport over a Speculos TCP connection.
type Transport struct {
	addr string
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the emulator at addr.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	if addr == "" {
		addr = DefaultAddress
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: nothing listening on %s", ledger.ErrDeviceNotFound, addr)
		}
		return nil, fmt.Errorf("%w: %w", ledger.ErrTransport, err)
	}

	slog.Debug("Speculos connected", "Address", addr)

	return &Transport{addr: addr, conn: conn}, nil
}

// Exchange implements ledger.Transport.
func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetDeadline(deadline); err != nil {
			return nil, t.ioError(err)
		}
		defer t.conn.SetDeadline(time.Time{})
	}

	request := make([]byte, 4, 4+len(command))
	binary.BigEndian.PutUint32(request, uint32(len(command)))
	request = append(request, command...)

	if _, err := t.conn.Write(request); err != nil {
		return nil, t.ioError(err)
	}

	var header [4]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, t.ioError(err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxReplyLength {
		return nil, fmt.Errorf("%w: reply announces %d bytes", ledger.ErrMalformedResponse, length)
	}

	reply := make([]byte, int(length)+2)
	if _, err := io.ReadFull(t.conn, reply); err != nil {
		return nil, t.ioError(err)
	}
	return reply, nil
}

// Reset drops the connection, the emulator abandons the pending APDU.
func (t *Transport) Reset() error {
	return t.Close()
}

// Close implements ledger.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transport) ioError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %w", ledger.ErrTimeout, t.addr, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %s: %w", ledger.ErrDeviceDisconnected, t.addr, err)
	default:
		return fmt.Errorf("%w: %w", ledger.ErrTransport, err)
	}
}

package speculos

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ledger "github.com/schjonhaug/ledger-apdu-go"
	"github.com/schjonhaug/ledger-apdu-go/emulator"
)

func startEmulator(t *testing.T, device *emulator.Device) string {
	t.Helper()

	server, err := emulator.Listen("127.0.0.1:0", device)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	t.Cleanup(func() {
		require.NoError(t, server.Close())
		require.NoError(t, <-done)
	})
	return server.Addr()
}

func TestGetPublicKey(t *testing.T) {
	device := emulator.New([]byte("speculos"))
	addr := startEmulator(t, device)
	path := ledger.DerivationPath{44, 501, 12345}

	key, err := ledger.GetPublicKey(context.Background(), addr, Opener(addr), path, false)
	require.NoError(t, err)

	want, err := device.PublicKey(path)
	require.NoError(t, err)
	require.Equal(t, want, key)
}

func TestSeveralExchangesOnOneConnection(t *testing.T) {
	addr := startEmulator(t, emulator.New([]byte("speculos")))

	dev, err := ledger.Open(context.Background(), addr, Opener(addr))
	require.NoError(t, err)
	defer dev.Close()

	client := ledger.NewClient(dev)
	first, err := client.GetPublicKey(context.Background(), ledger.SolanaPath(0), false)
	require.NoError(t, err)
	second, err := client.GetPublicKey(context.Background(), ledger.SolanaPath(1), true)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Unknown instructions come back as a status, the link stays up.
	response, err := dev.Transmit(context.Background(), ledger.Command{Cla: ledger.ClaSolana, Ins: 0x7f})
	require.NoError(t, err)
	require.Equal(t, ledger.SWInstructionNotSupported, response.Status)
	require.Equal(t, ledger.StateOpen, dev.State())
}

func TestUserDenied(t *testing.T) {
	addr := startEmulator(t, emulator.New([]byte("speculos"), emulator.WithApprover(func(ledger.DerivationPath) bool {
		return false
	})))

	_, err := ledger.GetPublicKey(context.Background(), addr, Opener(addr), ledger.SolanaPath(0), true)
	require.True(t, ledger.IsUserDenied(err))
}

func TestLocked(t *testing.T) {
	device := emulator.New([]byte("speculos"))
	device.SetLocked(true)
	addr := startEmulator(t, device)

	_, err := ledger.GetPublicKey(context.Background(), addr, Opener(addr), ledger.SolanaPath(0), false)
	status, ok := ledger.IsStatus(err)
	require.True(t, ok)
	require.Equal(t, ledger.DeviceLocked, status.Kind)
}

func TestTimeoutWhileWaitingForUser(t *testing.T) {
	addr := startEmulator(t, emulator.New([]byte("speculos"), emulator.WithDelay(500*time.Millisecond)))

	dev, err := ledger.Open(context.Background(), addr, Opener(addr), ledger.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer dev.Close()

	_, err = ledger.NewClient(dev).GetPublicKey(context.Background(), ledger.SolanaPath(0), true)
	require.ErrorIs(t, err, ledger.ErrTimeout)
	require.Equal(t, ledger.StateClosed, dev.State())
}

func TestNothingListening(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Dial(context.Background(), addr)
	require.ErrorIs(t, err, ledger.ErrDeviceNotFound)
}

func TestDisconnect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		// Read part of the request, then hang up.
		buf := make([]byte, 4)
		conn.Read(buf)
		conn.Close()
	}()

	transport, err := Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer transport.Close()

	_, err = transport.Exchange(context.Background(), []byte{0xe0, 0x02, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ledger.ErrDeviceDisconnected)
}

func TestOversizedReply(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 9)
		conn.Read(buf)
		conn.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}()

	transport, err := Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer transport.Close()

	_, err = transport.Exchange(context.Background(), []byte{0xe0, 0x02, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ledger.ErrMalformedResponse)
}

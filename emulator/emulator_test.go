package emulator

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

func getPubkey(t *testing.T, device *Device, path ledger.DerivationPath, confirm bool) ledger.Response {
	cmd, err := ledger.GetPubkeyCommand(path, confirm)
	require.NoError(t, err)
	raw, err := cmd.Bytes()
	require.NoError(t, err)

	response, err := ledger.ParseResponse(device.HandleAPDU(raw))
	require.NoError(t, err)
	return response
}

func TestGetPubkey(t *testing.T) {
	device := New([]byte("seed"))
	path := ledger.DerivationPath{44, 501, 12345}

	response := getPubkey(t, device, path, false)
	require.Equal(t, ledger.SWSuccess, response.Status)
	require.Len(t, response.Data, ledger.PublicKeyLength)

	want, err := device.PublicKey(path)
	require.NoError(t, err)
	require.Equal(t, want[:], response.Data)

	// Keys are stable per seed and path.
	require.Equal(t, response.Data, getPubkey(t, New([]byte("seed")), path, true).Data)
	require.NotEqual(t, response.Data, getPubkey(t, device, ledger.SolanaPath(0), false).Data)
	require.NotEqual(t, response.Data, getPubkey(t, New([]byte("other")), path, false).Data)
}

func TestGetPubkeyDenied(t *testing.T) {
	var asked ledger.DerivationPath
	device := New([]byte("seed"), WithApprover(func(path ledger.DerivationPath) bool {
		asked = path
		return false
	}))

	response := getPubkey(t, device, ledger.SolanaPath(3), true)
	require.Equal(t, ledger.SWUserDenied, response.Status)
	require.Empty(t, response.Data)
	require.Equal(t, ledger.SolanaPath(3), asked)

	// Without P1 set the user is not asked.
	asked = nil
	response = getPubkey(t, device, ledger.SolanaPath(3), false)
	require.Equal(t, ledger.SWSuccess, response.Status)
	require.Nil(t, asked)
}

func TestLocked(t *testing.T) {
	device := New([]byte("seed"))
	device.SetLocked(true)
	require.Equal(t, ledger.SWDeviceLocked, getPubkey(t, device, ledger.SolanaPath(0), false).Status)

	device.SetLocked(false)
	require.Equal(t, ledger.SWSuccess, getPubkey(t, device, ledger.SolanaPath(0), false).Status)
}

func TestHandleAPDUErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		status  ledger.StatusWord
	}{
		{"truncated", "e002", ledger.SWWrongLength},
		{"wrong class", "b00200000d038000002c800001f580003039", ledger.SWClassNotSupported},
		{"wrong instruction", "e00400000d038000002c800001f580003039", ledger.SWInstructionNotSupported},
		{"wrong p1", "e00202000d038000002c800001f580003039", ledger.SWWrongData},
		{"unhardened level", "e002000005010000002c", ledger.SWWrongData},
		{"count mismatch", "e002000005020000002c", ledger.SWWrongData},
	}
	device := New([]byte("seed"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, err := hex.DecodeString(tt.command)
			require.NoError(t, err)

			response, err := ledger.ParseResponse(device.HandleAPDU(command))
			require.NoError(t, err)
			require.Equal(t, tt.status, response.Status)
		})
	}
}

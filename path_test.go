package ledger

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodePathSolanaAccount(t *testing.T) {
	encoded, err := EncodePath(DerivationPath{44, 501, 12345})
	require.NoError(t, err)
	require.Equal(t, "03800000"+"2c800001f580003039", hex.EncodeToString(encoded))
}

func TestEncodePathInvalid(t *testing.T) {
	tests := []struct {
		name string
		path DerivationPath
	}{
		{"empty", DerivationPath{}},
		{"nil", nil},
		{"too long", make(DerivationPath, MaxPathLength+1)},
		{"already hardened", DerivationPath{44, 501 | 0x80000000, 0}},
		{"max uint32", DerivationPath{0xffffffff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodePath(tt.path)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestEncodePathLimits(t *testing.T) {
	encoded, err := EncodePath(make(DerivationPath, MaxPathLength))
	require.NoError(t, err)
	require.Len(t, encoded, 1+4*MaxPathLength)
	require.Equal(t, byte(MaxPathLength), encoded[0])

	encoded, err = EncodePath(DerivationPath{0x7fffffff})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0xff, 0xff, 0xff, 0xff}, encoded)
}

func TestPathRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		path := make(DerivationPath, 1+r.Intn(MaxPathLength))
		for j := range path {
			path[j] = uint32(r.Int63n(int64(hardened)))
		}

		encoded, err := EncodePath(path)
		require.NoError(t, err)

		decoded, err := DecodePath(encoded)
		require.NoError(t, err)
		require.Equal(t, path, decoded)
	}
}

func TestDecodePathInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"zero count", "00"},
		{"truncated", "0280000000"},
		{"trailing bytes", "018000000000"},
		{"not hardened", "0100000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := hex.DecodeString(tt.data)
			require.NoError(t, err)

			_, err = DecodePath(data)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want DerivationPath
	}{
		{"m/44'/501'/0'", DerivationPath{44, 501, 0}},
		{"44'/501'/12345'", DerivationPath{44, 501, 12345}},
		{"m/44h/501H/1/0", DerivationPath{44, 501, 1, 0}},
		{" 44/501 ", DerivationPath{44, 501}},
		{"M/0", DerivationPath{0}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			path, err := ParsePath(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, path)
		})
	}

	for _, in := range []string{"", "m", "m/", "m/44'/x", "m/44'//0", "m/-1", "m/2147483648", "m/4294967296", "m/44'''/0", "m/44h'H", "m/44''", "m/'"} {
		_, err := ParsePath(in)
		require.ErrorIs(t, err, ErrInvalidArgument, in)
	}
}

func TestPathString(t *testing.T) {
	require.Equal(t, "m/44'/501'/12345'", SolanaPath(12345).String())
	require.Equal(t, "m/44'/501'/0'/0'", SolanaPath(0, 0).String())

	path, err := ParsePath(SolanaPath(7, 1).String())
	require.NoError(t, err)
	require.Equal(t, SolanaPath(7, 1), path)
}

package ledger

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// MaxPathLength is the largest path the one byte count prefix can carry.
	MaxPathLength = 255

	purposeBIP44   uint32 = 44
	coinTypeSolana uint32 = 501

	hardened uint32 = hdkeychain.HardenedKeyStart
)

// DerivationPath is a BIP32 path given as unhardened indices. Every level is
// hardened when it is encoded for the device.
type DerivationPath []uint32

// SolanaPath returns m/44'/501'/account' or, with a change index,
// m/44'/501'/account'/change'.
func SolanaPath(account uint32, change ...uint32) DerivationPath {
	path := DerivationPath{purposeBIP44, coinTypeSolana, account}
	return append(path, change...)
}

// Validate checks that the path is non empty, fits the count byte and that no
// index already carries the hardened bit.
func (p DerivationPath) Validate() error {
	if len(p) == 0 {
		return invalidArgument("empty derivation path")
	}
	if len(p) > MaxPathLength {
		return invalidArgument("derivation path has %d levels, max %d", len(p), MaxPathLength)
	}
	for i, index := range p {
		if index >= hardened {
			return invalidArgument("index %d at level %d already has the hardened bit set", index, i)
		}
	}
	return nil
}

func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range p {
		b.WriteString("/")
		b.WriteString(strconv.FormatUint(uint64(index), 10))
		b.WriteString("'")
	}
	return b.String()
}

// EncodePath flattens the path into the device format: one count byte, then
// each index big endian with bit 31 set.
func EncodePath(path DerivationPath) ([]byte, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 1+4*len(path))
	out[0] = byte(len(path))
	for i, index := range path {
		binary.BigEndian.PutUint32(out[1+4*i:], index|hardened)
	}
	return out, nil
}

// DecodePath is the inverse of EncodePath.
func DecodePath(data []byte) (DerivationPath, error) {
	if len(data) < 1 {
		return nil, invalidArgument("empty encoded path")
	}
	count := int(data[0])
	if count == 0 {
		return nil, invalidArgument("encoded path has zero levels")
	}
	if len(data) != 1+4*count {
		return nil, invalidArgument("encoded path is %d bytes, want %d for %d levels", len(data), 1+4*count, count)
	}
	path := make(DerivationPath, count)
	for i := range path {
		index := binary.BigEndian.Uint32(data[1+4*i:])
		if index&hardened == 0 {
			return nil, invalidArgument("level %d is not hardened", i)
		}
		path[i] = index &^ hardened
	}
	return path, nil
}

// ParsePath reads paths such as "m/44'/501'/0'", "44'/501'/0'" or "44/501/0".
// Hardening markers (', h, H) are optional since every level is hardened.
func ParsePath(s string) (DerivationPath, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m/")
	s = strings.TrimPrefix(s, "M/")
	if s == "" || s == "m" || s == "M" {
		return nil, invalidArgument("empty derivation path")
	}

	levels := strings.Split(s, "/")
	path := make(DerivationPath, 0, len(levels))
	for i, level := range levels {
		level = trimHardenedMarker(level)
		index, err := strconv.ParseUint(level, 10, 32)
		if err != nil {
			return nil, invalidArgument("level %d %q: %v", i, levels[i], err)
		}
		path = append(path, uint32(index))
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return path, nil
}

// trimHardenedMarker strips a single trailing ', h or H.
func trimHardenedMarker(level string) string {
	for _, marker := range []string{"'", "h", "H"} {
		if strings.HasSuffix(level, marker) {
			return strings.TrimSuffix(level, marker)
		}
	}
	return level
}

package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/skythen/apdu"
)

const (
	// MaxPayloadLength is the largest payload a single byte Lc can announce.
	MaxPayloadLength = 255

	// PublicKeyLength is the size of the raw ed25519 key returned by GET_PUBKEY.
	PublicKeyLength = 32
)

// Instruction class and codes understood by the Solana app.
const (
	ClaSolana byte = 0xE0

	InsGetPubkey byte = 0x02 // Returns the public key for a given BIP32 path

	P1NonConfirm byte = 0x00 // Return the key directly
	P1Confirm    byte = 0x01 // Show the key and wait for the user to approve

	P2Unused byte = 0x00
)

// Command is a short command APDU: CLA INS P1 P2 Lc data.
type Command struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
}

// GetPubkeyCommand builds the GET_PUBKEY command for path.
func GetPubkeyCommand(path DerivationPath, confirm bool) (Command, error) {
	data, err := EncodePath(path)
	if err != nil {
		return Command{}, err
	}
	p1 := P1NonConfirm
	if confirm {
		p1 = P1Confirm
	}
	return Command{Cla: ClaSolana, Ins: InsGetPubkey, P1: p1, P2: P2Unused, Data: data}, nil
}

// Bytes serializes the command. The Lc byte is always present, the Ledger
// apps expect it even when the data field is empty.
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > MaxPayloadLength {
		return nil, invalidArgument("payload is %d bytes, max %d", len(c.Data), MaxPayloadLength)
	}
	if len(c.Data) == 0 {
		return []byte{c.Cla, c.Ins, c.P1, c.P2, 0x00}, nil
	}

	capdu := apdu.Capdu{Cla: c.Cla, Ins: c.Ins, P1: c.P1, P2: c.P2, Data: c.Data}

	b, err := capdu.Bytes()
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	return b, nil
}

func (c Command) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x %x", c.Cla, c.Ins, c.P1, c.P2, c.Data)
}

// Response is a response APDU split into its data field and status word.
type Response struct {
	Data   []byte
	Status StatusWord
}

// ParseResponse splits a raw reply into payload and trailing status word.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, malformed("response is %d bytes, need at least 2", len(raw))
	}

	rapdu, err := apdu.ParseRapdu(raw)
	if err != nil {
		return Response{}, malformed("%v", err)
	}

	return Response{
		Data:   rapdu.Data,
		Status: StatusWord(binary.BigEndian.Uint16([]byte{rapdu.SW1, rapdu.SW2})),
	}, nil
}

// Err classifies the status word; nil on success.
func (r Response) Err() error {
	return r.Status.Err()
}

// PublicKey is the raw 32 byte key returned by the device.
type PublicKey [PublicKeyLength]byte

func (k PublicKey) String() string {
	return fmt.Sprintf("%x", k[:])
}

// DecodePublicKey checks the status word and extracts the key from the first
// 32 bytes of the payload.
func DecodePublicKey(r Response) (PublicKey, error) {
	if err := r.Err(); err != nil {
		return PublicKey{}, err
	}
	if len(r.Data) < PublicKeyLength {
		return PublicKey{}, malformed("public key reply is %d bytes, need %d", len(r.Data), PublicKeyLength)
	}
	var key PublicKey
	copy(key[:], r.Data[:PublicKeyLength])
	return key, nil
}

package hid

import (
	"encoding/binary"
	"fmt"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// The HID link carries APDUs in fixed size packets. Every packet starts with
// a five byte header:
//
//	Description                           | Length
//	--------------------------------------+----------
//	Communication channel ID (big endian) | 2 bytes
//	Command tag                           | 1 byte
//	Packet sequence index (big endian)    | 2 bytes
//	Payload                               | arbitrary
//
// The first packet of a message additionally starts its payload with the
// total APDU length (2 bytes, big endian). Replies use the same framing. The
// last packet is zero padded to the packet size.
const (
	headerLength = 5
	tagAPDU      = 0x05

	// DefaultChannel is the channel id used by all Ledger hosts.
	DefaultChannel uint16 = 0x0101
	// DefaultPacketSize is the HID report size of Ledger devices.
	DefaultPacketSize = 64

	maxMessageLength = 0xffff
)

// wrapCommand splits an APDU into link packets.
func wrapCommand(channel uint16, apdu []byte, packetSize int) ([][]byte, error) {
	if packetSize <= headerLength+2 {
		return nil, fmt.Errorf("%w: packet size %d too small", ledger.ErrInvalidArgument, packetSize)
	}
	if len(apdu) == 0 {
		return nil, fmt.Errorf("%w: empty apdu", ledger.ErrInvalidArgument)
	}
	if len(apdu) > maxMessageLength {
		return nil, fmt.Errorf("%w: apdu is %d bytes, max %d", ledger.ErrInvalidArgument, len(apdu), maxMessageLength)
	}

	message := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(message, uint16(len(apdu)))
	message = append(message, apdu...)

	var packets [][]byte
	for seq := 0; len(message) > 0; seq++ {
		packet := make([]byte, packetSize)
		binary.BigEndian.PutUint16(packet[0:], channel)
		packet[2] = tagAPDU
		binary.BigEndian.PutUint16(packet[3:], uint16(seq))

		n := copy(packet[headerLength:], message)
		message = message[n:]

		packets = append(packets, packet)
	}
	return packets, nil
}

// reassembler collects reply packets until the announced length is reached.
type reassembler struct {
	channel uint16
	seq     uint16
	length  int
	reply   []byte
}

func newReassembler(channel uint16) *reassembler {
	return &reassembler{channel: channel, length: -1}
}

// feed adds one packet and reports whether the reply is complete.
func (r *reassembler) feed(packet []byte) (bool, error) {
	if len(packet) < headerLength {
		return false, fmt.Errorf("%w: packet is %d bytes", ledger.ErrMalformedResponse, len(packet))
	}
	if binary.BigEndian.Uint16(packet[0:]) != r.channel || packet[2] != tagAPDU {
		return false, fmt.Errorf("%w: invalid reply header % x", ledger.ErrMalformedResponse, packet[:3])
	}
	if seq := binary.BigEndian.Uint16(packet[3:]); seq != r.seq {
		return false, fmt.Errorf("%w: packet sequence %d, want %d", ledger.ErrMalformedResponse, seq, r.seq)
	}

	payload := packet[headerLength:]
	if r.seq == 0 {
		if len(payload) < 2 {
			return false, fmt.Errorf("%w: first packet lacks length", ledger.ErrMalformedResponse)
		}
		r.length = int(binary.BigEndian.Uint16(payload))
		r.reply = make([]byte, 0, r.length)
		payload = payload[2:]
	}
	r.seq++

	left := r.length - len(r.reply)
	if left > len(payload) {
		r.reply = append(r.reply, payload...)
		return false, nil
	}
	r.reply = append(r.reply, payload[:left]...)
	return true, nil
}

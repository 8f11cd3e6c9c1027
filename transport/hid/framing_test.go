package hid

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

func TestWrapCommandSinglePacket(t *testing.T) {
	apdu, _ := hex.DecodeString("e00200000d03800000" + "2c800001f580003039")

	packets, err := wrapCommand(DefaultChannel, apdu, DefaultPacketSize)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	packet := packets[0]
	require.Len(t, packet, DefaultPacketSize)
	require.Equal(t, []byte{0x01, 0x01, 0x05, 0x00, 0x00, 0x00, byte(len(apdu))}, packet[:7])
	require.Equal(t, apdu, packet[7:7+len(apdu)])
	require.Equal(t, make([]byte, DefaultPacketSize-7-len(apdu)), packet[7+len(apdu):])
}

func TestWrapCommandMultiPacket(t *testing.T) {
	apdu := bytes.Repeat([]byte{0xab}, 300)

	packets, err := wrapCommand(DefaultChannel, apdu, DefaultPacketSize)
	require.NoError(t, err)

	// 2 length bytes + 300 apdu bytes over 59 bytes of space per packet.
	require.Len(t, packets, 6)
	for i, packet := range packets {
		require.Len(t, packet, DefaultPacketSize)
		require.Equal(t, byte(i>>8), packet[3])
		require.Equal(t, byte(i), packet[4])
	}

	var stream []byte
	for _, packet := range packets {
		stream = append(stream, packet[headerLength:]...)
	}
	require.Equal(t, []byte{0x01, 0x2c}, stream[:2])
	require.Equal(t, apdu, stream[2:2+len(apdu)])
}

func TestWrapCommandPacketBoundary(t *testing.T) {
	space := DefaultPacketSize - headerLength

	// Length prefix plus apdu exactly fill one packet.
	packets, err := wrapCommand(DefaultChannel, bytes.Repeat([]byte{0x01}, space-2), DefaultPacketSize)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, byte(0x01), packets[0][DefaultPacketSize-1])

	// One byte more spills into a zero padded second packet.
	packets, err = wrapCommand(DefaultChannel, bytes.Repeat([]byte{0x01}, space-1), DefaultPacketSize)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, byte(0x01), packets[1][headerLength])
	require.Equal(t, make([]byte, space-1), packets[1][headerLength+1:])
}

func TestWrapCommandInvalid(t *testing.T) {
	_, err := wrapCommand(DefaultChannel, nil, DefaultPacketSize)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = wrapCommand(DefaultChannel, []byte{0xe0}, headerLength)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = wrapCommand(DefaultChannel, make([]byte, maxMessageLength+1), DefaultPacketSize)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

// The device frames replies exactly like commands, so wrapping a reply and
// feeding the packets back must reproduce it.
func TestReassembleRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 34, 57, 58, 59, 60, 200, 1000} {
		reply := make([]byte, size)
		for i := range reply {
			reply[i] = byte(i)
		}

		for _, packetSize := range []int{8, 16, DefaultPacketSize} {
			packets, err := wrapCommand(DefaultChannel, reply, packetSize)
			require.NoError(t, err)

			r := newReassembler(DefaultChannel)
			for i, packet := range packets {
				done, err := r.feed(packet)
				require.NoError(t, err)
				require.Equal(t, i == len(packets)-1, done, "size %d packet %d/%d", size, i, len(packets))
			}
			require.Equal(t, reply, r.reply)
		}
	}
}

func TestReassembleRejectsBadHeader(t *testing.T) {
	packets, err := wrapCommand(DefaultChannel, bytes.Repeat([]byte{1}, 100), DefaultPacketSize)
	require.NoError(t, err)

	wrongChannel := append([]byte(nil), packets[0]...)
	wrongChannel[0] = 0x00
	_, err = newReassembler(DefaultChannel).feed(wrongChannel)
	require.ErrorIs(t, err, ledger.ErrMalformedResponse)

	wrongTag := append([]byte(nil), packets[0]...)
	wrongTag[2] = 0x02
	_, err = newReassembler(DefaultChannel).feed(wrongTag)
	require.ErrorIs(t, err, ledger.ErrMalformedResponse)

	r := newReassembler(DefaultChannel)
	_, err = r.feed(packets[1])
	require.ErrorIs(t, err, ledger.ErrMalformedResponse)

	_, err = newReassembler(DefaultChannel).feed([]byte{0x01, 0x01})
	require.ErrorIs(t, err, ledger.ErrMalformedResponse)
}

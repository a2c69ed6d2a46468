// Package pdu implements the wire format shared by the client transport and
// the reference server: the 6-byte fragment header, splitting a payload into
// length-bounded fragments, reassembling fragments back into one PDU, and the
// field-level writer/reader used by the session messages.
package pdu

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed size of a fragment header in bytes.
	HeaderSize = 6
	// MaxFragmentSize is the largest value the fragment length field may carry,
	// header included.
	MaxFragmentSize = 0x3FFF
	// MaxPayloadSize is the largest payload carried by a single fragment.
	MaxPayloadSize = MaxFragmentSize - HeaderSize
)

// Logical channels multiplexed over one connection.
const (
	ChannelSession uint16 = 0x00
	ChannelUpdate  uint16 = 0x01
	ChannelInput   uint16 = 0x02
)

// Fragment flags describing the position of a fragment in its series.
const (
	FragmentSingle uint8 = 0x00
	FragmentFirst  uint8 = 0x01
	FragmentNext   uint8 = 0x02
	FragmentLast   uint8 = 0x03
)

// Header is the fixed fragment header as transmitted (little-endian).
type Header struct {
	ChannelID uint16 // Logical channel the fragment belongs to
	Type      uint8  // PDU type, repeated on every fragment of a series
	Flags     uint8  // One of FragmentSingle, FragmentFirst, FragmentNext, FragmentLast
	Length    uint16 // Fragment length including the header
}

// PayloadSize returns the number of payload bytes announced by the header.
// The result is negative when Length is smaller than the header itself.
func (h Header) PayloadSize() int {
	return int(h.Length) - HeaderSize
}

// PDU is one logical message after reassembly. It is not modified once built.
type PDU struct {
	Payload   []byte
	ChannelID uint16
	Type      uint8
}

// EncodeHeader writes h into the first HeaderSize bytes of dst.
// dst must be at least HeaderSize bytes long.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint16(dst[0:2], h.ChannelID)
	dst[2] = h.Type
	dst[3] = h.Flags
	binary.LittleEndian.PutUint16(dst[4:6], h.Length)
}

// DecodeHeader parses a fragment header from b.
//
// Parameters:
//   - b: At least HeaderSize bytes of header data
//
// Returns:
//   - The decoded Header
//   - ErrTruncated if b is shorter than HeaderSize
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("decode header (%d bytes): %w", len(b), ErrTruncated)
	}

	return Header{
		ChannelID: binary.LittleEndian.Uint16(b[0:2]),
		Type:      b[2],
		Flags:     b[3],
		Length:    binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// FlagName returns a readable name for a fragment flag.
func FlagName(flag uint8) string {
	switch flag {
	case FragmentSingle:
		return "SINGLE"
	case FragmentFirst:
		return "FIRST"
	case FragmentNext:
		return "NEXT"
	case FragmentLast:
		return "LAST"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", flag)
	}
}

// SPDX-License-Identifier: GPL-3.0-or-later

package rani

import (
	"fmt"
	"strings"
)

const (
	// HeaderSize is the size of the RaNi header in bytes.
	HeaderSize = 8

	// MaxPacketSize is the largest frame the length byte can describe.
	MaxPacketSize = 255

	// MaxTTL is the largest TTL that fits the 4-bit field.
	MaxTTL = 1<<4 - 1

	// MaxSeqNo is the largest sequence number that fits the 12-bit field.
	MaxSeqNo = 1<<12 - 1

	// LinkCount is the number of links every simulated router opens.
	LinkCount = 4
)

// ChecksumOffset is the offset of the checksum byte in the header.
const ChecksumOffset = 6

// Type is the packet type carried in the high nibble of header byte 4.
type Type uint8

const (
	// TypeCommand marks a packet carrying a [*CommandPayload].
	TypeCommand Type = 4

	// TypeData marks a packet carrying a [*DataPayload].
	TypeData Type = 8
)

// String returns the string representation of the packet type.
func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "cmd"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}

// Flags is a set of RaNi header flags. The values are the bit
// positions used on the wire inside header byte 3.
type Flags uint8

const (
	// FlagERR is the ERR flag.
	FlagERR Flags = 1 << 4

	// FlagEND is the END flag.
	FlagEND Flags = 1 << 5

	// FlagACK is the ACK flag.
	FlagACK Flags = 1 << 6

	// flagsMask contains all the valid flags.
	flagsMask = FlagERR | FlagEND | FlagACK
)

// String returns the string representation of the flags.
func (flags Flags) String() string {
	var names []string
	if flags&FlagERR != 0 {
		names = append(names, "ERR")
	}
	if flags&FlagEND != 0 {
		names = append(names, "END")
	}
	if flags&FlagACK != 0 {
		names = append(names, "ACK")
	}
	if len(names) <= 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Header is a decoded RaNi header.
//
// Header is a comparable value type; two headers are equal
// when all their fields are equal.
type Header struct {
	src    uint8
	dest   uint8
	length uint8
	ttl    uint8
	flags  Flags
	typ    Type
	seqNo  uint16
}

// Src returns the source address.
func (h Header) Src() uint8 { return h.src }

// Dest returns the destination address.
func (h Header) Dest() uint8 { return h.dest }

// Length returns the total length of header and payload.
func (h Header) Length() uint8 { return h.length }

// PayloadSize returns the payload size implied by the length field.
func (h Header) PayloadSize() int { return int(h.length) - HeaderSize }

// TTL returns the time-to-live.
func (h Header) TTL() uint8 { return h.ttl }

// Flags returns the header flags.
func (h Header) Flags() Flags { return h.flags }

// Type returns the packet type.
func (h Header) Type() Type { return h.typ }

// SeqNo returns the 12-bit sequence number.
func (h Header) SeqNo() uint16 { return h.seqNo }

// String returns a compact representation suitable for logging.
func (h Header) String() string {
	return fmt.Sprintf(
		"%d -> %d %s ttl=%d flags=%s seq=%d length=%d",
		h.src, h.dest, h.typ, h.ttl, h.flags, h.seqNo, h.length,
	)
}

// encode writes bytes 0-7 of the header. The checksum byte is left
// zero because it depends on the payload.
func (h Header) encode(buf []byte) {
	buf[0] = h.src
	buf[1] = h.dest
	buf[2] = h.length
	buf[3] = uint8(h.flags&flagsMask) | (h.ttl & 0x0F)
	buf[4] = uint8(h.typ)<<4 | uint8((h.seqNo&0x0F00)>>8)
	buf[5] = uint8(h.seqNo & 0x00FF)
	buf[ChecksumOffset] = 0
	buf[7] = 0
}

// DecodeHeader decodes and verifies the header at the beginning of buf.
//
// The checksum is verified over the whole frame implied by the length
// field, so buf must contain at least that many bytes. On success, the
// returned slice is the remainder of buf following the header.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	// 1. make sure we have a full header
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: header needs %d bytes, have %d",
			ErrBufferTooShort, HeaderSize, len(buf))
	}

	// 2. make sure we have the whole frame covered by the checksum
	length := int(buf[2])
	if length < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: length %d is smaller than the header",
			ErrInvalidLength, length)
	}
	if len(buf) < length {
		return Header{}, nil, fmt.Errorf("%w: frame needs %d bytes, have %d",
			ErrBufferTooShort, length, len(buf))
	}

	// 3. verify the checksum
	if !VerifyChecksum(buf[:length]) {
		return Header{}, nil, ErrChecksumMismatch
	}

	// 4. parse the packet type
	typ := Type(buf[4] >> 4)
	if typ != TypeCommand && typ != TypeData {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint8(typ))
	}

	h := Header{
		src:    buf[0],
		dest:   buf[1],
		length: buf[2],
		ttl:    buf[3] & 0x0F,
		flags:  Flags(buf[3]) & flagsMask,
		typ:    typ,
		seqNo:  uint16(buf[4]&0x0F)<<8 | uint16(buf[5]),
	}
	return h, buf[HeaderSize:], nil
}

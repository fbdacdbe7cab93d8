// SPDX-License-Identifier: GPL-3.0-or-later

package rani

import (
	"errors"
	"fmt"
)

// Fields contains the header fields a caller chooses when building
// a [*Packet]. The length and the type derive from the payload.
type Fields struct {
	// Src is the source address.
	Src uint8

	// Dest is the destination address.
	Dest uint8

	// TTL is the time-to-live; it must not exceed [MaxTTL].
	TTL uint8

	// SeqNo is the sequence number; it must not exceed [MaxSeqNo].
	SeqNo uint16

	// Flags contains the header flags.
	Flags Flags
}

// Packet is a RaNi header plus its payload.
//
// Construct using [NewPacket] or [Decode].
type Packet struct {
	header  Header
	payload Payload
}

// errNilPayload is returned by [NewPacket] when the payload is nil.
var errNilPayload = errors.New("rani: nil payload")

// NewPacket validates fields and payload and creates a new [*Packet].
func NewPacket(fields Fields, payload Payload) (*Packet, error) {
	// 1. validate the header fields
	if payload == nil {
		return nil, errNilPayload
	}
	if fields.TTL > MaxTTL {
		return nil, fmt.Errorf("%w: ttl %d does not fit in 4 bits", ErrFieldRange, fields.TTL)
	}
	if fields.SeqNo > MaxSeqNo {
		return nil, fmt.Errorf("%w: seq_no %d does not fit in 12 bits", ErrFieldRange, fields.SeqNo)
	}
	if fields.Flags&^flagsMask != 0 {
		return nil, fmt.Errorf("%w: invalid flags %#x", ErrFieldRange, uint8(fields.Flags))
	}

	// 2. make sure the length fits the length byte
	length := HeaderSize + payload.Size()
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet size %d exceeds %d", ErrInvalidLength, length, MaxPacketSize)
	}

	// 3. assemble the packet
	header := Header{
		src:    fields.Src,
		dest:   fields.Dest,
		length: uint8(length),
		ttl:    fields.TTL,
		flags:  fields.Flags,
		typ:    payload.Type(),
		seqNo:  fields.SeqNo,
	}
	return &Packet{header: header, payload: payload}, nil
}

// Header returns the packet header.
func (p *Packet) Header() Header { return p.header }

// Payload returns the packet payload.
func (p *Packet) Payload() Payload { return p.payload }

// Size returns the encoded size of the packet.
func (p *Packet) Size() int { return int(p.header.length) }

// String returns a compact representation suitable for logging.
func (p *Packet) String() string { return p.header.String() }

// Encode writes the packet including its checksum into buf and returns
// the number of bytes written. When buf is smaller than [*Packet.Size],
// it returns an error wrapping [ErrBufferTooShort].
func (p *Packet) Encode(buf []byte) (int, error) {
	size := p.Size()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: packet needs %d bytes, have %d", ErrBufferTooShort, size, len(buf))
	}
	frame := buf[:size]
	p.header.encode(frame[:HeaderSize])
	p.payload.encode(frame[HeaderSize:])
	frame[ChecksumOffset] = Checksum(frame[:ChecksumOffset], frame[HeaderSize:])
	return size, nil
}

// Marshal returns a newly allocated encoding of the packet.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, p.Size())
	_, _ = p.Encode(buf) // cannot fail: buf has the right size
	return buf
}

// Decode decodes a whole packet from buf and returns the bytes that
// follow the packet.
func Decode(buf []byte) (*Packet, []byte, error) {
	header, rest, err := DecodeHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	payload, rest, err := DecodePayload(header, rest)
	if err != nil {
		return nil, nil, err
	}
	if payload.Size() != header.PayloadSize() {
		return nil, nil, fmt.Errorf("%w: length %d but payload is %d bytes",
			ErrInvalidLength, header.length, payload.Size())
	}
	return &Packet{header: header, payload: payload}, rest, nil
}

// Compare returns nil when got and want are structurally equal and
// otherwise a [*MismatchError] naming the first field that differs.
//
// Fields are checked in wire order: src, dest, length, ttl, flags,
// type, seq_no and then the payload fields.
func Compare(got, want *Packet) error {
	gh, wh := got.header, want.header
	switch {
	case gh.src != wh.src:
		return &MismatchError{Field: "src"}
	case gh.dest != wh.dest:
		return &MismatchError{Field: "dest"}
	case gh.length != wh.length:
		return &MismatchError{Field: "length"}
	case gh.ttl != wh.ttl:
		return &MismatchError{Field: "ttl"}
	case gh.flags != wh.flags:
		return &MismatchError{Field: "flags"}
	case gh.typ != wh.typ:
		return &MismatchError{Field: "type"}
	case gh.seqNo != wh.seqNo:
		return &MismatchError{Field: "seq_no"}
	default:
		return got.payload.compare(want.payload)
	}
}

// Equal returns whether p and other are structurally equal.
func (p *Packet) Equal(other *Packet) bool {
	return Compare(p, other) == nil
}

// terminalPacket returns an empty data packet with TTL 15 and the given flags.
func terminalPacket(flags Flags) *Packet {
	return &Packet{
		header: Header{
			length: HeaderSize,
			ttl:    MaxTTL,
			flags:  flags,
			typ:    TypeData,
		},
		payload: NewDataPayload(nil),
	}
}

// ErrorPacket returns the packet sent on every link at the end of a
// run in which at least one test case failed.
func ErrorPacket() *Packet {
	return terminalPacket(FlagERR)
}

// EndPacket returns the packet sent on every link at the end of a
// run in which all test cases passed.
func EndPacket() *Packet {
	return terminalPacket(FlagEND)
}

// SPDX-License-Identifier: GPL-3.0-or-later

package rani

import (
	"bytes"
	"fmt"
	"slices"
)

const (
	// CommandHeaderSize is the size of the command payload sub-header.
	CommandHeaderSize = 4

	// CommandEntrySize is the size of a single command table entry.
	CommandEntrySize = 2

	// MaxTimestamp is the largest timestamp that fits the 20-bit field.
	MaxTimestamp = 1<<20 - 1
)

// Payload is either a [*CommandPayload] or a [*DataPayload].
type Payload interface {
	// Type returns the packet type implied by the payload.
	Type() Type

	// Size returns the encoded size in bytes.
	Size() int

	// encode writes the payload into buf, which is exactly Size() bytes.
	encode(buf []byte)

	// compare returns a [*MismatchError] naming the first
	// field of want that differs from the receiver.
	compare(want Payload) error
}

// CommandEntry is a single (destination, cost) distance-vector entry.
type CommandEntry struct {
	// Dest is the destination address.
	Dest uint8

	// Cost is the cost to reach Dest.
	Cost uint8
}

// CommandPayload is the payload of a command packet.
//
// Construct using [NewCommandPayload].
type CommandPayload struct {
	entryCount uint8
	timestamp  uint32
	entries    []CommandEntry
}

var _ Payload = &CommandPayload{}

// NewCommandPayload creates a new [*CommandPayload].
//
// The entryCount must match len(entries) and the timestamp must fit in
// 20 bits, otherwise we return an error wrapping [ErrFieldRange].
func NewCommandPayload(entryCount uint8, timestamp uint32, entries []CommandEntry) (*CommandPayload, error) {
	if int(entryCount) != len(entries) {
		return nil, fmt.Errorf("%w: entry_count is %d but there are %d entries",
			ErrFieldRange, entryCount, len(entries))
	}
	if timestamp > MaxTimestamp {
		return nil, fmt.Errorf("%w: timestamp %d does not fit in 20 bits", ErrFieldRange, timestamp)
	}
	return &CommandPayload{
		entryCount: entryCount,
		timestamp:  timestamp,
		entries:    slices.Clone(entries),
	}, nil
}

// Type implements [Payload].
func (p *CommandPayload) Type() Type { return TypeCommand }

// Size implements [Payload].
func (p *CommandPayload) Size() int {
	return CommandHeaderSize + CommandEntrySize*int(p.entryCount)
}

// EntryCount returns the number of entries.
func (p *CommandPayload) EntryCount() uint8 { return p.entryCount }

// Timestamp returns the timestamp in seconds since midnight.
func (p *CommandPayload) Timestamp() uint32 { return p.timestamp }

// Entries returns a copy of the table entries.
func (p *CommandPayload) Entries() []CommandEntry { return slices.Clone(p.entries) }

func (p *CommandPayload) encode(buf []byte) {
	buf[0] = p.entryCount
	buf[1] = uint8((p.timestamp & 0x000F0000) >> 16)
	buf[2] = uint8((p.timestamp & 0x0000FF00) >> 8)
	buf[3] = uint8(p.timestamp & 0x000000FF)
	for idx, entry := range p.entries {
		off := CommandHeaderSize + CommandEntrySize*idx
		buf[off] = entry.Dest
		buf[off+1] = entry.Cost
	}
}

func (p *CommandPayload) compare(want Payload) error {
	other, ok := want.(*CommandPayload)
	if !ok {
		return &MismatchError{Field: "type"}
	}
	switch {
	case p.entryCount != other.entryCount:
		return &MismatchError{Field: "entry_count"}
	case p.timestamp != other.timestamp:
		return &MismatchError{Field: "timestamp"}
	case !slices.Equal(p.entries, other.entries):
		return &MismatchError{Field: "entries"}
	default:
		return nil
	}
}

// decodeCommandPayload decodes a command payload and returns the bytes
// following the last entry.
func decodeCommandPayload(buf []byte) (*CommandPayload, []byte, error) {
	if len(buf) < CommandHeaderSize {
		return nil, nil, fmt.Errorf("%w: command payload needs %d bytes, have %d",
			ErrBufferTooShort, CommandHeaderSize, len(buf))
	}
	count := buf[0]
	size := CommandHeaderSize + CommandEntrySize*int(count)
	if len(buf) < size {
		return nil, nil, fmt.Errorf("%w: command payload with %d entries needs %d bytes, have %d",
			ErrBufferTooShort, count, size, len(buf))
	}
	timestamp := uint32(buf[1]&0x0F)<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	entries := make([]CommandEntry, 0, count)
	for off := CommandHeaderSize; off < size; off += CommandEntrySize {
		entries = append(entries, CommandEntry{Dest: buf[off], Cost: buf[off+1]})
	}
	payload := &CommandPayload{entryCount: count, timestamp: timestamp, entries: entries}
	return payload, buf[size:], nil
}

// DataPayload is the payload of a data packet.
//
// Construct using [NewDataPayload].
type DataPayload struct {
	data []byte
}

var _ Payload = &DataPayload{}

// NewDataPayload creates a new [*DataPayload] holding a copy of data.
func NewDataPayload(data []byte) *DataPayload {
	return &DataPayload{data: bytes.Clone(data)}
}

// Type implements [Payload].
func (p *DataPayload) Type() Type { return TypeData }

// Size implements [Payload].
func (p *DataPayload) Size() int { return len(p.data) }

// Bytes returns a copy of the payload bytes.
func (p *DataPayload) Bytes() []byte { return bytes.Clone(p.data) }

func (p *DataPayload) encode(buf []byte) {
	copy(buf, p.data)
}

func (p *DataPayload) compare(want Payload) error {
	other, ok := want.(*DataPayload)
	if !ok {
		return &MismatchError{Field: "type"}
	}
	if !bytes.Equal(p.data, other.data) {
		return &MismatchError{Field: "payload"}
	}
	return nil
}

// DecodePayload decodes the payload described by h from buf, which
// usually is the remainder returned by [DecodeHeader]. On success, it
// returns the payload and the bytes following it.
func DecodePayload(h Header, buf []byte) (Payload, []byte, error) {
	switch h.typ {
	case TypeCommand:
		return decodeCommandPayload(buf)

	case TypeData:
		size := h.PayloadSize()
		if size < 0 {
			return nil, nil, fmt.Errorf("%w: length %d is smaller than the header", ErrInvalidLength, h.length)
		}
		if len(buf) < size {
			return nil, nil, fmt.Errorf("%w: data payload needs %d bytes, have %d",
				ErrBufferTooShort, size, len(buf))
		}
		return NewDataPayload(buf[:size]), buf[size:], nil

	default:
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint8(h.typ))
	}
}

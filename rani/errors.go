// SPDX-License-Identifier: GPL-3.0-or-later

package rani

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferTooShort indicates that a buffer cannot hold the header
	// or payload it is supposed to contain.
	ErrBufferTooShort = errors.New("rani: buffer too short")

	// ErrChecksumMismatch indicates that a received frame fails the
	// one's complement checksum verification.
	ErrChecksumMismatch = errors.New("rani: invalid checksum")

	// ErrUnknownPacketType indicates a type nibble other than command or data.
	ErrUnknownPacketType = errors.New("rani: unknown packet type")

	// ErrInvalidLength indicates a length field that disagrees with the
	// header size or with the decoded payload size.
	ErrInvalidLength = errors.New("rani: invalid length")

	// ErrFieldRange indicates a field value that does not fit its bit width.
	ErrFieldRange = errors.New("rani: field out of range")
)

// MismatchError is returned by [Compare] when two packets differ.
type MismatchError struct {
	// Field is the name of the first field that differs.
	Field string
}

var _ error = &MismatchError{}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s not correct", e.Field)
}

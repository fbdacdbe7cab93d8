// SPDX-License-Identifier: GPL-3.0-or-later

package rani

// sum8 adds all the bytes with 8-bit wraparound.
func sum8(sum uint8, data []byte) uint8 {
	for _, b := range data {
		sum += b
	}
	return sum
}

// Checksum computes the RaNi checksum over the concatenation of parts.
//
// When encoding, parts are header bytes 0-5 and the payload.
func Checksum(parts ...[]byte) uint8 {
	var sum uint8
	for _, part := range parts {
		sum = sum8(sum, part)
	}
	return ^sum
}

// VerifyChecksum returns whether frame, which must include the
// checksum byte, passes the one's complement verification.
func VerifyChecksum(frame []byte) bool {
	return ^sum8(0, frame) == 0
}

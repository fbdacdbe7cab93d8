// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass classifies the errors occurring inside the harness.

The general idea is to map golang errors to an enum of strings with
names resembling standard Unix error names, which we emit as the
`errClass` field of structured logs next to the original `err`.

# RaNi Errors

- [ERANI_CHECKSUM] for [rani.ErrChecksumMismatch]

- [ERANI_SHORT_BUFFER] for [rani.ErrBufferTooShort]

- [ERANI_UNKNOWN_TYPE] for [rani.ErrUnknownPacketType]

- [ERANI_INVALID_LENGTH] for [rani.ErrInvalidLength]

- [ERANI_FIELD_RANGE] for [rani.ErrFieldRange]

# System and Network Errors

Everything else is classified by [github.com/rbmk-project/common/errclass],
which maps [context.DeadlineExceeded] and [os.ErrDeadlineExceeded] to
[ETIMEDOUT], [io.EOF] to [EEOF], syscall errors to their names and
unknown errors to [EGENERIC].

# Tiers

Errors wrapped using [Fatal] make the whole process unusable (e.g., we
cannot bind a listener). All the other errors are recoverable and only
abort the current unit of work (a link or a run). See [IsFatal].

# Closed Links

[IsLinkClosed] tells apart a device that closed or reset its side of
a link from a genuine local I/O failure. The platform-specific errno
values live in unix.go and windows.go.
*/
package errclass

import (
	"errors"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/ranisim/rani"
)

const (
	//
	// Errors we map using [errors.Is] on the rani sentinels:
	//

	// ERANI_CHECKSUM is the RaNi checksum verification failure.
	ERANI_CHECKSUM = "ERANI_CHECKSUM"

	// ERANI_SHORT_BUFFER is the RaNi truncated header or payload error.
	ERANI_SHORT_BUFFER = "ERANI_SHORT_BUFFER"

	// ERANI_UNKNOWN_TYPE is the RaNi unknown packet type error.
	ERANI_UNKNOWN_TYPE = "ERANI_UNKNOWN_TYPE"

	// ERANI_INVALID_LENGTH is the RaNi inconsistent length error.
	ERANI_INVALID_LENGTH = "ERANI_INVALID_LENGTH"

	// ERANI_FIELD_RANGE is the RaNi field out of range error.
	ERANI_FIELD_RANGE = "ERANI_FIELD_RANGE"

	//
	// Errors classified by the common errclass package:
	//

	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = errclass.ECONNRESET

	// EADDRINUSE is the address in use error.
	EADDRINUSE = errclass.EADDRINUSE

	// EEOF indicates an unexpected EOF.
	EEOF = errclass.EEOF

	// EINTR is the interrupted system call error.
	EINTR = errclass.EINTR

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = errclass.ETIMEDOUT

	// EGENERIC is the generic, unclassified error.
	EGENERIC = errclass.EGENERIC
)

// raniErrors maps the rani sentinel errors to their class.
var raniErrors = []struct {
	err   error
	class string
}{
	{rani.ErrChecksumMismatch, ERANI_CHECKSUM},
	{rani.ErrBufferTooShort, ERANI_SHORT_BUFFER},
	{rani.ErrUnknownPacketType, ERANI_UNKNOWN_TYPE},
	{rani.ErrInvalidLength, ERANI_INVALID_LENGTH},
	{rani.ErrFieldRange, ERANI_FIELD_RANGE},
}

// New classifies the given error. The nil error maps to "".
func New(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range raniErrors {
		if errors.Is(err, entry.err) {
			return entry.class
		}
	}
	return errclass.New(err)
}

// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import (
	"errors"
	"io"
)

// IsLinkClosed returns whether err means that the remote device closed
// or reset the connection, as opposed to a local I/O failure.
func IsLinkClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range linkClosedErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import "golang.org/x/sys/unix"

// linkClosedErrnos are the errno values meaning that the device
// closed or reset its side of the link.
var linkClosedErrnos = []error{
	unix.ECONNRESET,
	unix.ECONNABORTED,
	unix.EPIPE,
	unix.ENOTCONN,
}

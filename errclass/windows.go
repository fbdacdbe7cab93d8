//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import "golang.org/x/sys/windows"

// linkClosedErrnos are the errno values meaning that the device
// closed or reset its side of the link.
var linkClosedErrnos = []error{
	windows.WSAECONNRESET,
	windows.WSAECONNABORTED,
	windows.ERROR_BROKEN_PIPE,
	windows.WSAENOTCONN,
}

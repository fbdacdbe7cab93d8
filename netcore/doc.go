// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netcore provides the TCP listener and dialer used for RaNi links.

This package is designed to observe link and report connection events
via the [log/slog] package: accepting, reading, writing and closing.

# Features

- [*Network.Listen] creates a TCP listener whose accepted conns are
wrapped to emit structured logs;

- [*Network.DialContext] dials TCP connections to IP literal endpoints
with the same wrapping, which is what an emulated device needs.

I/O events are emitted at [slog.LevelDebug] because a link worker polls
its conn every read timeout and logging each poll at a higher level
would drown the run diagnostics.

# Design Documents

This package is experimental and has no design documents for now.
*/
package netcore

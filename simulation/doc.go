// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package simulation runs the test schedule against the links of a router.

[Run] owns the links of a single remote router for the whole run. It
checks the link handshake, starts one link worker goroutine per link
and drives them in lockstep: for each test case, it sends exactly one
instruction to every worker and then receives exactly one reply from
every worker, in link index order. Receiving in index order makes the
report a function of the schedule and of the device responses only.

At the end of the cycle, the report is delivered through the
[ReportSink], every link receives an ERR flagged packet (when any test
case failed) or an END flagged packet (otherwise) and the workers
are told to terminate. Teardown waits for whichever worker exits first
and, after a grace period, closes the links to unblock stuck workers.
*/
package simulation

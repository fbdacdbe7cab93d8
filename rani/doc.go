// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package rani implements the RaNi wire format.

RaNi is the distance-vector routing protocol spoken by the simulated
routers under test. A RaNi packet is a fixed 8-byte [Header] followed
by either a [*CommandPayload] (a distance-vector table) or a
[*DataPayload] (opaque application bytes).

# Header Layout

All unused bits are zero on the wire.

	offset  size  description
	0       1     source address
	1       1     destination address
	2       1     length of header + payload
	3       1     bits 0-3: TTL; bit 4: ERR; bit 5: END; bit 6: ACK
	4       1     bits 4-7: type (4 = command, 8 = data);
	              bits 0-3: upper 4 bits of the 12-bit sequence number
	5       1     lower 8 bits of the sequence number
	6       1     8-bit one's complement checksum of header + payload
	7       1     reserved

# Command Payload Layout

	offset  size  description
	0       1     number of entries
	1       1     bits 0-3: upper 4 bits of the 20-bit timestamp
	2       2     lower 16 bits of the timestamp (seconds since midnight)
	4       2*n   entries as (destination, cost) byte pairs

# Checksum

The checksum is the complement of the 8-bit wraparound sum of header
bytes 0-5 followed by the payload. A received frame is valid when the
complement of the wraparound sum of all its bytes, checksum included,
is zero.

# Immutability

[Header], [*CommandPayload], [*DataPayload] and [*Packet] have no
setters. Accessors returning slices return copies. Construct packets
using [NewPacket] or obtain them from [Decode].
*/
package rani

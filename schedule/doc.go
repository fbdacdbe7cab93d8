// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package schedule loads the ordered list of routing test cases.

The source is a list of test case objects. Because the loader uses a
YAML decoder, the canonical JSON document and its YAML equivalent are
both accepted:

	[
	  {
	    "msg": "ping link 2",
	    "send_link": 0,
	    "send_packet": {
	      "src": 1, "dest": 2, "ttl": 15, "seq_no": 0,
	      "flags": [], "type": "data", "payload": "PING"
	    },
	    "recv_link": 2,
	    "recv_packet": {"ttl": 14}
	  }
	]

A test case has these keys:

  - msg: required label used in the report;

  - send_link: required index of the link used for sending;

  - send_packet: required packet object;

  - checksum: optional byte overriding the checksum of send_packet;

  - recv_link: optional link index, array of link indexes, or the
    literal "all" meaning every link;

  - recv_packet: packet object or array of packet objects, required
    when recv_link is present and with one entry per receiving link.

A packet object has the src, dest, ttl, seq_no, flags, type and payload
keys. The flags are a list of names from {"ERR", "END", "ACK"}. The type
is either "cmd", in which case the payload is an object with the
entry_count, timestamp and entries keys and each entry is a
[dest, cost] pair, or "data", in which case the payload is a string
or an array of bytes.

Every key omitted from a recv_packet object is copied from send_packet,
hence only the explicitly overridden keys express new expectations.
*/
package schedule

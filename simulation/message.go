// SPDX-License-Identifier: GPL-3.0-or-later

package simulation

import (
	"fmt"

	"github.com/rbmk-project/ranisim/rani"
)

// messageKind is the kind of a [message].
type messageKind int

const (
	// kindActive instructs a worker to send a packet and await the
	// response. As a reply, it carries a received packet or an error.
	kindActive messageKind = iota

	// kindInactive instructs a worker to only await a packet. As a
	// reply, it means that no packet arrived before the timeout.
	kindInactive

	// kindNoResponse instructs a worker to send a packet without
	// awaiting anything. Workers do not reply to it.
	kindNoResponse

	// kindEnd instructs a worker to terminate.
	kindEnd
)

// String implements [fmt.Stringer].
func (k messageKind) String() string {
	switch k {
	case kindActive:
		return "active"
	case kindInactive:
		return "inactive"
	case kindNoResponse:
		return "noResponse"
	case kindEnd:
		return "end"
	default:
		return fmt.Sprintf("messageKind(%d)", int(k))
	}
}

// message is exchanged between the orchestrator and a worker.
type message struct {
	// kind is the message kind.
	kind messageKind

	// packet is the packet to send or the packet received.
	packet *rani.Packet

	// checksum optionally overrides the checksum of the packet to send.
	checksum *uint8

	// err is the error observed while receiving, if any. Only
	// kindActive replies carry an error, in which case packet is nil.
	err error
}

// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/ranisim/rani"
)

// linkSet is the partial set of links of a remote router.
type linkSet struct {
	conns [rani.LinkCount]net.Conn
	count int
}

// Aggregator groups the link connections by remote router.
//
// The zero value is ready to use.
type Aggregator struct {
	mu    sync.Mutex
	table map[netip.Addr]*linkSet
}

// Add adds conn as the link with the given index of the remote router.
//
// When this conn completes the link set of the remote, Add removes the
// set from the table and returns the links sorted by index and true.
// Otherwise, it returns nil and false.
//
// A conn for an index already populated replaces the previous conn,
// which is closed, without advancing the link count.
func (a *Aggregator) Add(remote netip.Addr, index int, conn net.Conn) ([]net.Conn, bool) {
	runtimex.Assert(index >= 0 && index < rani.LinkCount, "server: invalid link index")

	a.mu.Lock()
	if a.table == nil {
		a.table = make(map[netip.Addr]*linkSet)
	}
	set := a.table[remote]
	if set == nil {
		set = &linkSet{}
		a.table[remote] = set
	}
	previous := set.conns[index]
	set.conns[index] = conn
	if previous == nil {
		set.count++
	}
	var links []net.Conn
	if set.count == rani.LinkCount {
		delete(a.table, remote)
		links = set.conns[:]
	}
	a.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return links, links != nil
}

// Pending returns the number of links waiting for the remote link set to complete.
func (a *Aggregator) Pending(remote netip.Addr) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set := a.table[remote]; set != nil {
		return set.count
	}
	return 0
}

// Close closes all the links waiting for their link set to complete.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	table := a.table
	a.table = nil
	a.mu.Unlock()

	var errv []error
	for _, set := range table {
		for _, conn := range set.conns {
			if conn != nil {
				if err := conn.Close(); err != nil {
					errv = append(errv, err)
				}
			}
		}
	}
	return errors.Join(errv...)
}

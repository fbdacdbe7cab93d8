// SPDX-License-Identifier: GPL-3.0-or-later

// Package closepool allows pooling [io.Closer] instances such as the
// listeners of a server or the links of a run and closing them in a
// single operation.
package closepool

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Pool allows pooling a set of [io.Closer].
//
// The zero value is ready to use.
type Pool struct {
	// handles contains the [io.Closer] to close.
	handles []io.Closer

	// closed is true once Close has been called.
	closed bool

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [io.Closer] to the pool. If the pool has already
// been closed, the closer is closed immediately, which prevents a
// listener created during shutdown from leaking.
func (p *Pool) Add(conn io.Closer) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.handles = append(p.handles, conn)
	p.mu.Unlock()
}

// Len returns the number of [io.Closer] waiting to be closed.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes all the [io.Closer] inside the pool iterating
// in backward order. The returned error is the join of all the
// errors that occurred when closing. Calling Close more than once
// is safe and subsequent calls close nothing.
func (p *Pool) Close() error {
	// Lock and copy the [io.Closer] to close.
	p.mu.Lock()
	conns := p.handles
	p.handles = nil
	p.closed = true
	p.mu.Unlock()

	// Close all the [io.Closer].
	var errv []error
	for _, conn := range slices.Backward(conns) {
		if err := conn.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/netem/blob/6e0d618f0cb48b96c78cd066e23cf3aa1208b1dd/pcap.go
//

// Package pcaptrace captures the RaNi frames crossing the links.
//
// RaNi frames have no standard link type, hence we write them using
// the USER0 link type (147). Each captured record starts with a two
// bytes pseudo header followed by the frame bytes:
//
//	+-----------+------+----------------------+
//	| direction | link | frame (up to 256 B)  |
//	+-----------+------+----------------------+
//
// where direction is [DirectionSent] for frames written by the harness
// and [DirectionReceived] for frames read from the device.
package pcaptrace

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	// DirectionSent marks frames written by the harness.
	DirectionSent = 0

	// DirectionReceived marks frames read from the device.
	DirectionReceived = 1

	// pseudoHeaderSize is the size of the pseudo header.
	pseudoHeaderSize = 2

	// SnapLen is the snapshot length, covering the pseudo header
	// and the largest link read.
	SnapLen = pseudoHeaderSize + 256

	// LinkTypeUser0 is the DLT_USER0 PCAP link type.
	LinkTypeUser0 = layers.LinkType(147)

	// defaultBuffer is the default number of buffered snapshots.
	defaultBuffer = 4096
)

// snapshot is a captured record.
type snapshot struct {
	// data is the pseudo header followed by the frame.
	data []byte

	// t is the capture time.
	t time.Time
}

// Option is an option for [New].
type Option func(tr *Trace)

// OptionBuffer sets the number of snapshots buffered before [*Trace.Dump]
// starts dropping them.
func OptionBuffer(size int) Option {
	return func(tr *Trace) {
		tr.snaps = make(chan snapshot, size)
	}
}

// OptionTimeNow sets the function used to timestamp the records.
func OptionTimeNow(fx func() time.Time) Option {
	return func(tr *Trace) {
		tr.timeNow = fx
	}
}

// Trace is an open PCAP trace.
//
// Construct using [New].
type Trace struct {
	// cancel allows to cancel the background goroutine.
	cancel context.CancelFunc

	// closeErr is the error returned by every Close call.
	closeErr error

	// dropped is the number of records dropped.
	dropped atomic.Uint64

	// errch contains the error returned by the background goroutine.
	errch chan error

	// once provides "once" semantics for Close.
	once sync.Once

	// snaps contains the pending snapshots.
	snaps chan snapshot

	// timeNow returns the current time.
	timeNow func() time.Time

	// wc is the open writer we're using.
	wc io.WriteCloser
}

// New creates a new [*Trace] writing to wc, which [*Trace.Close] closes.
func New(wc io.WriteCloser, options ...Option) *Trace {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Trace{
		cancel:  cancel,
		errch:   make(chan error, 1),
		snaps:   make(chan snapshot, defaultBuffer),
		timeNow: time.Now,
		wc:      wc,
	}
	for _, option := range options {
		option(tr)
	}
	go tr.saveLoop(ctx)
	return tr
}

// DumpSent records a frame written on the given link.
func (tr *Trace) DumpSent(link int, frame []byte) {
	tr.dump(DirectionSent, link, frame)
}

// DumpReceived records a frame read from the given link.
func (tr *Trace) DumpReceived(link int, frame []byte) {
	tr.dump(DirectionReceived, link, frame)
}

func (tr *Trace) dump(direction uint8, link int, frame []byte) {
	size := min(pseudoHeaderSize+len(frame), SnapLen)
	data := make([]byte, size)
	data[0] = direction
	data[1] = uint8(link)
	copy(data[pseudoHeaderSize:], frame)
	select {
	case tr.snaps <- snapshot{data: data, t: tr.timeNow()}:
	default:
		tr.dropped.Add(1)
	}
}

// Dropped returns the number of records dropped because the
// buffer was full when calling DumpSent or DumpReceived.
func (tr *Trace) Dropped() uint64 {
	return tr.dropped.Load()
}

// saveLoop writes the records until the context is done
// and then drains the records still in the buffer.
func (tr *Trace) saveLoop(ctx context.Context) {
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(SnapLen, LinkTypeUser0); err != nil {
		tr.errch <- err
		return
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-tr.snaps:
					if err := tr.save(w, snap); err != nil {
						tr.errch <- err
						return
					}
				default:
					tr.errch <- nil
					return
				}
			}

		case snap := <-tr.snaps:
			if err := tr.save(w, snap); err != nil {
				tr.errch <- err
				return
			}
		}
	}
}

func (tr *Trace) save(w *pcapgo.Writer, snap snapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:      snap.t,
		CaptureLength:  len(snap.data),
		Length:         len(snap.data),
		InterfaceIndex: 0,
		AncillaryData:  []any{},
	}
	return w.WritePacket(ci, snap.data)
}

// Close interrupts the background goroutine and waits for it to join
// before closing the capture file.
func (tr *Trace) Close() error {
	tr.once.Do(func() {
		tr.cancel()
		err := <-tr.errch
		tr.closeErr = errors.Join(err, tr.wc.Close())
	})
	return tr.closeErr
}

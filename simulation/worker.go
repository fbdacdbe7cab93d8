// SPDX-License-Identifier: GPL-3.0-or-later

package simulation

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rbmk-project/ranisim/errclass"
	"github.com/rbmk-project/ranisim/metrics"
	"github.com/rbmk-project/ranisim/rani"
)

// readBufferSize is the size of the buffer used for reading from links.
const readBufferSize = 256

// errInvalidInstruction is returned by a worker receiving an
// instruction it does not understand.
var errInvalidInstruction = errors.New("invalid instruction from orchestrator")

// worker owns a link for the duration of a run.
type worker struct {
	// conn is the link connection, closed when the worker exits.
	conn net.Conn

	// done is closed when the worker exits.
	done chan struct{}

	// err is the worker result, valid once done is closed.
	err error

	// exited receives the worker once it exits.
	exited chan<- *worker

	// id identifies the worker in logs and error messages.
	id string

	// index is the link index.
	index int

	// instructions carries the orchestrator instructions.
	instructions chan message

	// logger is the logger to use.
	logger *slog.Logger

	// metrics is the optional metrics collector.
	metrics *metrics.Metrics

	// readTimeout bounds each link read.
	readTimeout time.Duration

	// replies carries the worker replies.
	replies chan message

	// tracer is the optional frame tracer.
	tracer Tracer
}

// instructionsBuffer is the capacity of the instructions channel, which
// is enough for an instruction, the terminal packet and a terminate
// instruction never to block the orchestrator.
const instructionsBuffer = 4

// newWorker creates a [*worker] for the given link.
func newWorker(r *run, index int, conn net.Conn, exited chan<- *worker) *worker {
	return &worker{
		conn:         conn,
		done:         make(chan struct{}),
		exited:       exited,
		id:           fmt.Sprintf("%s:%d", r.remote, index),
		index:        index,
		instructions: make(chan message, instructionsBuffer),
		logger:       r.logger.With(slog.Int("link", index)),
		metrics:      r.cfg.Metrics,
		readTimeout:  r.cfg.ReadTimeout,
		replies:      make(chan message, 1),
		tracer:       r.cfg.Tracer,
	}
}

// run runs the worker loop until terminated or until a fatal error.
func (w *worker) run() {
	w.err = w.loop()
	w.conn.Close()
	if w.err != nil {
		w.logger.Warn("linkWorkerFailed",
			slog.Any("err", w.err),
			slog.String("errClass", errclass.New(w.err)),
		)
	} else {
		w.logger.Debug("linkWorkerDone")
	}
	close(w.done)
	w.exited <- w
}

// loop handles one instruction per round.
func (w *worker) loop() error {
	for {
		msg := <-w.instructions
		switch msg.kind {
		case kindActive:
			if err := w.send(msg.packet, msg.checksum); err != nil {
				return err
			}

		case kindInactive:
			// nothing to send

		case kindNoResponse:
			if err := w.send(msg.packet, nil); err != nil {
				return err
			}
			continue

		case kindEnd:
			return nil

		default:
			return fmt.Errorf("%w: %s", errInvalidInstruction, msg.kind)
		}

		reply, err := w.receive()
		if err != nil {
			return err
		}
		w.replies <- reply
	}
}

// send writes the packet, optionally forging its checksum.
func (w *worker) send(pkt *rani.Packet, checksum *uint8) error {
	if pkt == nil {
		return fmt.Errorf("%w: no packet to send", errInvalidInstruction)
	}
	frame := pkt.Marshal()
	if checksum != nil {
		frame[rani.ChecksumOffset] = *checksum
	}
	if _, err := w.conn.Write(frame); err != nil {
		return fmt.Errorf("link %s: write: %w", w.id, err)
	}
	if w.tracer != nil {
		w.tracer.DumpSent(w.index, frame)
	}
	w.metrics.PacketSent()
	return nil
}

// receive performs a bounded read and converts its result into a reply.
//
// The returned error is only set for I/O failures that are fatal to the
// worker. A device closing the link or sending a malformed packet is
// reported to the orchestrator as a kindActive reply with an error.
func (w *worker) receive() (message, error) {
	if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
		return message{}, fmt.Errorf("link %s: set read deadline: %w", w.id, err)
	}
	buf := make([]byte, readBufferSize)
	count, err := w.conn.Read(buf)

	switch {
	case count > 0:
		frame := buf[:count]
		if w.tracer != nil {
			w.tracer.DumpReceived(w.index, frame)
		}
		pkt, _, err := rani.Decode(frame)
		if err != nil {
			w.metrics.DecodeError()
			return message{kind: kindActive, err: fmt.Errorf("link %s: %w", w.id, err)}, nil
		}
		w.metrics.PacketReceived()
		return message{kind: kindActive, packet: pkt}, nil

	case errors.Is(err, os.ErrDeadlineExceeded):
		return message{kind: kindInactive}, nil

	case err == nil || errclass.IsLinkClosed(err):
		return message{kind: kindActive, err: fmt.Errorf("%s: Connection closed at device", w.id)}, nil

	default:
		return message{}, fmt.Errorf("link %s: read: %w", w.id, err)
	}
}

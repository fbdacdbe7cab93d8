// SPDX-License-Identifier: GPL-3.0-or-later

package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/ranisim/closepool"
	"github.com/rbmk-project/ranisim/errclass"
	"github.com/rbmk-project/ranisim/metrics"
	"github.com/rbmk-project/ranisim/rani"
	"github.com/rbmk-project/ranisim/schedule"
)

const (
	// DefaultReadTimeout is the default bound of each link read.
	DefaultReadTimeout = 100 * time.Millisecond

	// DefaultHandshakeTimeout is the default time a link has for
	// sending its link index byte.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultTeardownGrace is the default time workers have for
	// exiting before we close their links.
	DefaultTeardownGrace = time.Second
)

// ErrInvalidLinkID is returned when a link handshake byte does not
// match the index of the link.
var ErrInvalidLinkID = errors.New("invalid link ID byte")

// errWorkerExited is returned when a worker exits in the middle of a cycle.
var errWorkerExited = errors.New("link worker exited")

// ReportSink delivers the report of a run to the remote router.
type ReportSink interface {
	SendReport(remote netip.Addr, report string) error
}

// Tracer records the frames crossing the links.
//
// The [*pcaptrace.Trace] type implements this interface.
type Tracer interface {
	DumpSent(link int, frame []byte)
	DumpReceived(link int, frame []byte)
}

// Config contains the configuration for [Run].
type Config struct {
	// HandshakeTimeout optionally overrides [DefaultHandshakeTimeout].
	HandshakeTimeout time.Duration

	// Logger is the optional logger. If nil, we do not log.
	Logger *slog.Logger

	// Metrics is the optional metrics collector.
	Metrics *metrics.Metrics

	// ReadTimeout optionally overrides [DefaultReadTimeout].
	ReadTimeout time.Duration

	// Schedule is the MANDATORY test schedule.
	Schedule *schedule.Schedule

	// Sink is the MANDATORY report sink.
	Sink ReportSink

	// TeardownGrace optionally overrides [DefaultTeardownGrace].
	TeardownGrace time.Duration

	// Tracer is the optional frame tracer.
	Tracer Tracer
}

// run is the state of a single [Run] invocation.
type run struct {
	cfg    Config
	ctx    context.Context
	logger *slog.Logger
	remote netip.Addr
}

// Run runs the schedule against the links of the given remote router.
//
// The links slice MUST contain [rani.LinkCount] connections sorted by
// link index. Run takes ownership of the connections and closes all of
// them before returning. The context is only used for logging, since a
// run always proceeds until the end of the schedule.
//
// Failing test cases do not cause Run to fail, since they are part of
// the report. The returned error indicates that the run was aborted or
// that the report could not be delivered.
func Run(ctx context.Context, cfg *Config, remote netip.Addr, links []net.Conn) (err error) {
	runtimex.Assert(len(links) == rani.LinkCount, "simulation: wrong number of links")
	runtimex.Assert(cfg.Schedule != nil && cfg.Sink != nil, "simulation: missing schedule or sink")

	r := newRun(ctx, cfg, remote)
	cfg.Metrics.RunStarted()
	result := metrics.ResultError
	defer func() { cfg.Metrics.RunDone(result) }()

	// make sure we close every link on every return path
	pool := &closepool.Pool{}
	for _, conn := range links {
		pool.Add(conn)
	}
	defer pool.Close()

	// Validating-Links
	if err := r.validateLinks(links); err != nil {
		r.logger.WarnContext(r.ctx, "linksValidationFailed",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
		)
		return err
	}
	r.logger.InfoContext(r.ctx, "routerLinksEstablished")

	// Running-Cycle
	exited := make(chan *worker, len(links))
	workers := make([]*worker, 0, len(links))
	for index, conn := range links {
		w := newWorker(r, index, conn, exited)
		workers = append(workers, w)
		go w.run()
	}
	outcomes, err := r.cycle(workers)
	if err != nil {
		r.logger.WarnContext(r.ctx, "simulationAborted",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
		)
		r.broadcastTerminate(workers)
		r.teardown(workers, exited, pool)
		return err
	}

	// Shutting-Down
	report, failed := r.report(outcomes)
	reportErr := cfg.Sink.SendReport(remote, report)
	if reportErr != nil {
		r.logger.WarnContext(r.ctx, "reportNotDelivered", slog.Any("err", reportErr))
		reportErr = fmt.Errorf("simulation %s: cannot deliver report: %w", remote, reportErr)
	}
	terminal := rani.EndPacket()
	if failed {
		terminal = rani.ErrorPacket()
	}
	r.shutdown(workers, terminal)

	// Done
	r.teardown(workers, exited, pool)
	if err := workersError(workers); err != nil {
		r.logger.WarnContext(r.ctx, "terminalPacketNotDelivered",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
		)
		return err
	}
	result = metrics.ResultPassed
	if failed {
		result = metrics.ResultFailed
		r.logger.InfoContext(r.ctx, "simulationFailed")
	} else {
		r.logger.InfoContext(r.ctx, "simulationSuccessful")
	}
	return reportErr
}

// newRun initializes the state of a run filling the config defaults.
func newRun(ctx context.Context, cfg *Config, remote netip.Addr) *run {
	r := &run{cfg: *cfg, ctx: ctx, remote: remote}
	if r.cfg.HandshakeTimeout <= 0 {
		r.cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.cfg.ReadTimeout <= 0 {
		r.cfg.ReadTimeout = DefaultReadTimeout
	}
	if r.cfg.TeardownGrace <= 0 {
		r.cfg.TeardownGrace = DefaultTeardownGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r.logger = logger.With(slog.String("remoteAddr", remote.String()))
	return r
}

// validateLinks reads the link index byte from each link.
func (r *run) validateLinks(links []net.Conn) error {
	deadline := time.Now().Add(r.cfg.HandshakeTimeout)
	for index, conn := range links {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		buf := make([]byte, 1)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return fmt.Errorf("link %s:%d: link ID byte read: %w", r.remote, index, err)
		}
		if int(buf[0]) != index {
			return fmt.Errorf("%w: link %s:%d sent %d", ErrInvalidLinkID, r.remote, index, buf[0])
		}
	}
	for _, conn := range links {
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// instruct sends an instruction to a worker.
//
// A worker that has already exited is detected before sending, since
// its buffered channel could otherwise still accept the instruction.
func (r *run) instruct(w *worker, msg message) error {
	select {
	case <-w.done:
		return fmt.Errorf("%w: link %s", errWorkerExited, w.id)
	default:
	}
	select {
	case w.instructions <- msg:
		return nil
	case <-w.done:
		return fmt.Errorf("%w: link %s", errWorkerExited, w.id)
	}
}

// await receives the reply of a worker.
func (r *run) await(w *worker) (message, error) {
	select {
	case reply := <-w.replies:
		return reply, nil
	case <-w.done:
		return message{}, fmt.Errorf("%w: link %s", errWorkerExited, w.id)
	}
}

// shutdown sends the terminal packet and then the terminate instruction to all workers.
//
// After a complete cycle every worker is idle with an empty instructions
// buffer, hence these sends never block, even when a worker exits after
// failing to write the terminal packet.
func (r *run) shutdown(workers []*worker, terminal *rani.Packet) {
	for _, w := range workers {
		w.instructions <- message{kind: kindNoResponse, packet: terminal}
	}
	for _, w := range workers {
		w.instructions <- message{kind: kindEnd}
	}
}

// workersError returns the error of the first worker, in link order,
// that failed. It must be called after all the workers have exited.
func workersError(workers []*worker) error {
	for _, w := range workers {
		if w.err != nil {
			return w.err
		}
	}
	return nil
}

// broadcastTerminate sends the terminate instruction to every worker
// without blocking, skipping the workers whose buffer is full.
func (r *run) broadcastTerminate(workers []*worker) {
	for _, w := range workers {
		select {
		case w.instructions <- message{kind: kindEnd}:
		default:
		}
	}
}

// teardown waits for all the workers to exit.
//
// When a worker exits with an error, it broadcasts the terminate
// instruction to the others. When the grace period expires, it closes
// all the links, which interrupts any pending link I/O.
func (r *run) teardown(workers []*worker, exited <-chan *worker, pool *closepool.Pool) {
	timer := time.NewTimer(r.cfg.TeardownGrace)
	defer timer.Stop()
	for remaining := len(workers); remaining > 0; {
		select {
		case w := <-exited:
			remaining--
			if w.err != nil {
				r.broadcastTerminate(workers)
			}

		case <-timer.C:
			r.logger.WarnContext(r.ctx, "forcingLinksClose", slog.Int("pendingWorkers", remaining))
			r.broadcastTerminate(workers)
			pool.Close()
		}
	}
	r.logger.InfoContext(r.ctx, "simulationEnded")
}

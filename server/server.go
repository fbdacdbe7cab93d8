// SPDX-License-Identifier: GPL-3.0-or-later

// Package server accepts the link and report connections of the
// routers under test and starts a simulation run for each router
// once all its links have connected.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/ranisim/closepool"
	"github.com/rbmk-project/ranisim/errclass"
	"github.com/rbmk-project/ranisim/metrics"
	"github.com/rbmk-project/ranisim/netcore"
	"github.com/rbmk-project/ranisim/netipx"
	"github.com/rbmk-project/ranisim/rani"
	"github.com/rbmk-project/ranisim/schedule"
	"github.com/rbmk-project/ranisim/simulation"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseLinkPort is the port of link zero. Link N listens
	// on DefaultBaseLinkPort+N.
	DefaultBaseLinkPort = 10000

	// DefaultReportPort is the port of the report channel.
	DefaultReportPort = 22222
)

// acceptRetryDelay is the delay before accepting again after an error.
const acceptRetryDelay = 50 * time.Millisecond

// Config contains the [*Server] configuration.
type Config struct {
	// Address is the MANDATORY address to bind the listeners to.
	Address netip.Addr

	// BaseLinkPort optionally overrides [DefaultBaseLinkPort].
	BaseLinkPort uint16

	// HandshakeTimeout is passed to [simulation.Config].
	HandshakeTimeout time.Duration

	// Logger is the optional logger. If nil, we do not log.
	Logger *slog.Logger

	// Metrics is the optional metrics collector.
	Metrics *metrics.Metrics

	// Network is the optional network used for listening. If nil,
	// we use [netcore.NewNetwork] with the configured Logger.
	Network *netcore.Network

	// ReadTimeout is passed to [simulation.Config].
	ReadTimeout time.Duration

	// ReportPort optionally overrides [DefaultReportPort].
	ReportPort uint16

	// Schedule is the MANDATORY test schedule.
	Schedule *schedule.Schedule

	// TeardownGrace is passed to [simulation.Config].
	TeardownGrace time.Duration

	// Tracer is passed to [simulation.Config].
	Tracer simulation.Tracer
}

// Server serves the link and report ports.
//
// Construct using [New].
type Server struct {
	// aggregator groups the links by remote router.
	aggregator *Aggregator

	// cfg is the configuration with defaults filled in.
	cfg Config

	// linkListeners contains one listener per link, by index.
	linkListeners []net.Listener

	// listeners closes all the listeners.
	listeners *closepool.Pool

	// logger is the logger to use.
	logger *slog.Logger

	// reportListener is the report port listener.
	reportListener net.Listener

	// runFunc runs a simulation; it is [simulation.Run] except in tests.
	runFunc func(ctx context.Context, cfg *simulation.Config, remote netip.Addr, links []net.Conn) error

	// runs tracks the simulation runs in progress.
	runs sync.WaitGroup

	// sink delivers the reports.
	sink *ReportSink
}

// New creates a new [*Server] from the given configuration.
func New(cfg *Config) *Server {
	s := &Server{
		aggregator: &Aggregator{},
		cfg:        *cfg,
		listeners:  &closepool.Pool{},
		runFunc:    simulation.Run,
		sink:       &ReportSink{},
	}
	if s.cfg.BaseLinkPort == 0 {
		s.cfg.BaseLinkPort = DefaultBaseLinkPort
	}
	if s.cfg.ReportPort == 0 {
		s.cfg.ReportPort = DefaultReportPort
	}
	if s.cfg.Network == nil {
		s.cfg.Network = netcore.NewNetwork(s.cfg.Logger)
	}
	s.logger = s.cfg.Logger
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Listen binds the report listener and the link listeners.
//
// A bind failure returns a fatal error (see [errclass.IsFatal]) after
// closing the listeners bound so far.
func (s *Server) Listen(ctx context.Context) error {
	if s.reportListener != nil {
		return nil
	}
	listen := func(port uint16) (net.Listener, error) {
		address := netip.AddrPortFrom(s.cfg.Address, port).String()
		listener, err := s.cfg.Network.Listen(ctx, "tcp", address)
		if err != nil {
			s.listeners.Close()
			return nil, errclass.Fatal(fmt.Errorf("bind %s: %w", address, err))
		}
		s.listeners.Add(listener)
		return listener, nil
	}

	reportListener, err := listen(s.cfg.ReportPort)
	if err != nil {
		return err
	}
	linkListeners := make([]net.Listener, 0, rani.LinkCount)
	for index := range rani.LinkCount {
		listener, err := listen(s.cfg.BaseLinkPort + uint16(index))
		if err != nil {
			return err
		}
		linkListeners = append(linkListeners, listener)
	}

	s.reportListener = reportListener
	s.linkListeners = linkListeners
	return nil
}

// ReportAddr returns the address of the report listener or nil
// when the server is not listening.
func (s *Server) ReportAddr() net.Addr {
	if s.reportListener == nil {
		return nil
	}
	return s.reportListener.Addr()
}

// LinkAddr returns the address of the given link listener or nil
// when the server is not listening.
func (s *Server) LinkAddr(index int) net.Addr {
	if index < 0 || index >= len(s.linkListeners) {
		return nil
	}
	return s.linkListeners[index].Addr()
}

// Serve listens, if needed, and accepts connections until the context
// is done. Before returning, Serve waits for the runs in progress to
// complete and closes the pending links and the report channels.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "serverListening",
		slog.String("reportAddr", s.ReportAddr().String()),
		slog.String("baseLinkAddr", s.LinkAddr(0).String()),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		s.listeners.Close()
		return nil
	})
	group.Go(func() error {
		return s.acceptLoop(gctx, s.reportListener, s.handleReportConn)
	})
	for index, listener := range s.linkListeners {
		group.Go(func() error {
			return s.acceptLoop(gctx, listener, func(conn net.Conn) {
				s.handleLinkConn(ctx, index, conn)
			})
		})
	}
	err := group.Wait()

	s.runs.Wait()
	s.aggregator.Close()
	s.sink.Close()
	s.logger.InfoContext(ctx, "serverStopped", slog.Any("err", err))
	return err
}

// acceptLoop accepts connections until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WarnContext(ctx, "acceptFailed",
				slog.String("localAddr", listener.Addr().String()),
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
			)
			time.Sleep(acceptRetryDelay)
			continue
		}
		handle(conn)
	}
}

// handleReportConn registers a report channel.
func (s *Server) handleReportConn(conn net.Conn) {
	remote := netipx.RemoteAddr(conn)
	s.sink.Register(remote, conn)
	s.logger.Info("reportChannelOpened", slog.String("remoteAddr", remote.String()))
}

// handleLinkConn aggregates a link and starts a run when the link set is complete.
func (s *Server) handleLinkConn(ctx context.Context, index int, conn net.Conn) {
	remote := netipx.RemoteAddr(conn)
	s.logger.InfoContext(ctx, "linkAccepted",
		slog.String("remoteAddr", remote.String()),
		slog.Int("link", index),
	)
	links, complete := s.aggregator.Add(remote, index, conn)
	if !complete {
		return
	}

	cfg := &simulation.Config{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		Logger:           s.cfg.Logger,
		Metrics:          s.cfg.Metrics,
		ReadTimeout:      s.cfg.ReadTimeout,
		Schedule:         s.cfg.Schedule,
		Sink:             s.sink,
		TeardownGrace:    s.cfg.TeardownGrace,
		Tracer:           s.cfg.Tracer,
	}
	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.runFunc(runCtx, cfg, remote, links); err != nil {
			s.logger.WarnContext(runCtx, "runFailed",
				slog.String("remoteAddr", remote.String()),
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
			)
		}
	}()
}

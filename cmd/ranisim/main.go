// SPDX-License-Identifier: GPL-3.0-or-later

// Command ranisim runs the RaNi conformance test schedule against
// every router that connects to its link ports.
//
// Usage:
//
//	ranisim [flags] <ipv4-address>
//
// The address is the local address to bind the report port and the
// link ports to. Routers connect to each link port, send their link
// index as the first byte, and receive the report on the report port.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbmk-project/ranisim/errclass"
	"github.com/rbmk-project/ranisim/metrics"
	"github.com/rbmk-project/ranisim/pcaptrace"
	"github.com/rbmk-project/ranisim/schedule"
	"github.com/rbmk-project/ranisim/server"
	"github.com/rbmk-project/ranisim/simulation"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	// args contains the command line arguments (overridable in tests).
	args = os.Args

	// output is where we print the version and usage (overridable in tests).
	output io.Writer = os.Stdout

	// logOutput is where we write logs (overridable in tests).
	logOutput io.Writer = os.Stderr
)

const (
	defaultSchedulePath = "./tests.json"
	metricsShutdownWait = 5 * time.Second
)

// errUsage indicates invalid command line usage.
var errUsage = errors.New("usage error")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "ranisim: %s\n", err.Error())
		cancel()
		os.Exit(1)
	}
}

// options contains the parsed command line.
type options struct {
	address      netip.Addr
	baseLinkPort uint16
	metricsAddr  string
	pcapFile     string
	readTimeout  time.Duration
	reportPort   uint16
	schedulePath string
	showVersion  bool
	verbose      bool
}

// parseOptions parses the command line arguments excluding the program name.
func parseOptions(argv []string) (*options, error) {
	fset := flag.NewFlagSet("ranisim", flag.ContinueOnError)
	fset.SetOutput(output)
	fset.Usage = func() {
		fmt.Fprintf(output, "usage: ranisim [flags] <ipv4-address>\n\n")
		fset.PrintDefaults()
	}

	opts := &options{}
	fset.StringVar(&opts.schedulePath, "tests", defaultSchedulePath, "path of the test schedule (JSON or YAML)")
	fset.Uint16Var(&opts.baseLinkPort, "base-link-port", server.DefaultBaseLinkPort, "port of link zero; link N uses this port plus N")
	fset.Uint16Var(&opts.reportPort, "report-port", server.DefaultReportPort, "port of the report channel")
	fset.DurationVar(&opts.readTimeout, "read-timeout", simulation.DefaultReadTimeout, "how long to wait for a packet on each link")
	fset.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (disabled when empty)")
	fset.StringVar(&opts.pcapFile, "pcap-file", "", "file where to capture the link traffic (disabled when empty)")
	fset.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose mode - show debug logs")
	fset.BoolVar(&opts.showVersion, "version", false, "show version and exit")

	if err := fset.Parse(argv); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if opts.showVersion {
		return opts, nil
	}

	if fset.NArg() != 1 {
		fset.Usage()
		return nil, fmt.Errorf("%w: expected exactly one address argument", errUsage)
	}
	addr, err := netip.ParseAddr(fset.Arg(0))
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: invalid IPv4 address: %q", errUsage, fset.Arg(0))
	}
	opts.address = addr

	if opts.baseLinkPort == 0 || opts.reportPort == 0 {
		return nil, fmt.Errorf("%w: ports must be nonzero", errUsage)
	}
	if opts.readTimeout <= 0 {
		return nil, fmt.Errorf("%w: read timeout must be positive", errUsage)
	}
	return opts, nil
}

// run is the main function returning an error.
func run(ctx context.Context, argv []string) error {
	// 1. parse the command line
	opts, err := parseOptions(argv[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(output, "version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}
	log := newLogger(opts.verbose)

	// 2. load the test schedule
	sched, err := schedule.Load(opts.schedulePath)
	if err != nil {
		log.Error("failed to load the test schedule", "path", opts.schedulePath, "error", err)
		return errclass.Fatal(err)
	}
	log.Info("loaded the test schedule", "path", opts.schedulePath, "testCases", sched.Len())

	cfg := &server.Config{
		Address:      opts.address,
		BaseLinkPort: opts.baseLinkPort,
		Logger:       log,
		ReadTimeout:  opts.readTimeout,
		ReportPort:   opts.reportPort,
		Schedule:     sched,
	}

	// 3. optionally capture the link traffic
	if opts.pcapFile != "" {
		filep, err := os.Create(opts.pcapFile)
		if err != nil {
			log.Error("failed to create the pcap file", "path", opts.pcapFile, "error", err)
			return errclass.Fatal(err)
		}
		trace := pcaptrace.New(filep)
		defer func() {
			if err := trace.Close(); err != nil {
				log.Warn("failed to write the pcap file", "path", opts.pcapFile, "error", err)
			}
			log.Info("closed the pcap file", "path", opts.pcapFile, "dropped", trace.Dropped())
		}()
		cfg.Tracer = trace
	}

	// 4. optionally serve the prometheus metrics
	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		cfg.Metrics = metrics.New(registry)
		stop, err := serveMetrics(ctx, log, opts.metricsAddr, registry)
		if err != nil {
			log.Error("failed to start prometheus metrics server", "error", err)
			return errclass.Fatal(err)
		}
		defer stop()
	}

	// 5. serve until we are interrupted
	srv := server.New(cfg)
	if err := srv.Serve(ctx); err != nil {
		log.Error("server failed", "error", err, "fatal", errclass.IsFatal(err))
		return err
	}
	return nil
}

// serveMetrics serves the registry on /metrics in a background goroutine
// and returns a function that stops the server and waits for it.
func serveMetrics(ctx context.Context, log *slog.Logger, address string, registry *prometheus.Registry) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server failed", "error", err)
		}
	}()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		<-done
	}
	return stop, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(logOutput, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}

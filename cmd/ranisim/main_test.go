// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rbmk-project/ranisim/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scheduleDocument is a minimal valid schedule.
const scheduleDocument = `[
  {
    "msg": "no response expected",
    "send_link": 0,
    "send_packet": {
      "src": 1, "dest": 2, "ttl": 15, "seq_no": 0,
      "flags": [], "type": "data", "payload": "PING"
    }
  }
]`

// withOutputs redirects output and logOutput for the duration of the test.
func withOutputs(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	savedOutput, savedLogOutput := output, logOutput
	output, logOutput = stdout, stderr
	t.Cleanup(func() {
		output, logOutput = savedOutput, savedLogOutput
	})
	return stdout, stderr
}

func writeSchedule(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "tests.json")
	require.NoError(t, os.WriteFile(path, []byte(scheduleDocument), 0600))
	return path
}

// Test_main runs main with the version flag.
func Test_main(t *testing.T) {
	stdout, _ := withOutputs(t)
	savedArgs := args
	args = []string{"ranisim", "--version"}
	t.Cleanup(func() { args = savedArgs })
	main()
	assert.Equal(t, "version: dev, commit: none, date: unknown\n", stdout.String())
}

func TestParseOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		withOutputs(t)
		opts, err := parseOptions([]string{"10.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", opts.address.String())
		assert.Equal(t, defaultSchedulePath, opts.schedulePath)
		assert.Equal(t, uint16(10000), opts.baseLinkPort)
		assert.Equal(t, uint16(22222), opts.reportPort)
		assert.Equal(t, 100*time.Millisecond, opts.readTimeout)
		assert.Empty(t, opts.metricsAddr)
		assert.Empty(t, opts.pcapFile)
		assert.False(t, opts.verbose)
	})

	t.Run("flags", func(t *testing.T) {
		withOutputs(t)
		opts, err := parseOptions([]string{
			"--tests", "x.yaml", "--base-link-port", "20000", "--report-port", "3333",
			"--read-timeout", "250ms", "--metrics-addr", ":9090", "--pcap-file", "x.pcap",
			"-v", "127.0.0.1",
		})
		require.NoError(t, err)
		assert.Equal(t, "x.yaml", opts.schedulePath)
		assert.Equal(t, uint16(20000), opts.baseLinkPort)
		assert.Equal(t, uint16(3333), opts.reportPort)
		assert.Equal(t, 250*time.Millisecond, opts.readTimeout)
		assert.Equal(t, ":9090", opts.metricsAddr)
		assert.Equal(t, "x.pcap", opts.pcapFile)
		assert.True(t, opts.verbose)
	})

	t.Run("version does not need an address", func(t *testing.T) {
		withOutputs(t)
		opts, err := parseOptions([]string{"--version"})
		require.NoError(t, err)
		assert.True(t, opts.showVersion)
	})

	errorCases := map[string][]string{
		"missing address":      {},
		"too many addresses":   {"10.0.0.1", "10.0.0.2"},
		"not an address":       {"router.local"},
		"ipv6 address":         {"::1"},
		"zero link port":       {"--base-link-port", "0", "10.0.0.1"},
		"zero report port":     {"--report-port", "0", "10.0.0.1"},
		"port out of range":    {"--report-port", "70000", "10.0.0.1"},
		"zero read timeout":    {"--read-timeout", "0s", "10.0.0.1"},
		"unknown flag":         {"--frobnicate", "10.0.0.1"},
		"malformed read delay": {"--read-timeout", "soon", "10.0.0.1"},
	}
	for name, argv := range errorCases {
		t.Run(name, func(t *testing.T) {
			withOutputs(t)
			_, err := parseOptions(argv)
			assert.True(t, errors.Is(err, errUsage), "%v", err)
		})
	}
}

func TestRun(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		stdout, _ := withOutputs(t)
		err := run(context.Background(), []string{"ranisim", "--help"})
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "--base-link-port")
	})

	t.Run("missing schedule", func(t *testing.T) {
		_, stderr := withOutputs(t)
		path := filepath.Join(t.TempDir(), "nonexistent.json")
		err := run(context.Background(), []string{"ranisim", "--tests", path, "127.0.0.1"})
		require.Error(t, err)
		assert.True(t, errclass.IsFatal(err))
		assert.Contains(t, stderr.String(), "failed to load the test schedule")
	})

	t.Run("cannot create pcap file", func(t *testing.T) {
		withOutputs(t)
		pcapFile := filepath.Join(t.TempDir(), "missing", "dir", "trace.pcap")
		err := run(context.Background(), []string{
			"ranisim", "--tests", writeSchedule(t), "--pcap-file", pcapFile, "127.0.0.1",
		})
		assert.True(t, errclass.IsFatal(err))
	})

	t.Run("report port already in use", func(t *testing.T) {
		_, stderr := withOutputs(t)
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer busy.Close()
		port := busy.Addr().(*net.TCPAddr).Port

		pcapFile := filepath.Join(t.TempDir(), "trace.pcap")
		err = run(context.Background(), []string{
			"ranisim",
			"--tests", writeSchedule(t),
			"--report-port", strconv.Itoa(port),
			"--metrics-addr", "127.0.0.1:0",
			"--pcap-file", pcapFile,
			"-v",
			"127.0.0.1",
		})
		require.Error(t, err)
		assert.True(t, errclass.IsFatal(err))
		assert.Contains(t, stderr.String(), "Prometheus metrics server listening")
		assert.Contains(t, stderr.String(), "closed the pcap file")

		// the capture contains at least the pcap file header
		info, err := os.Stat(pcapFile)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("info level", func(t *testing.T) {
		_, stderr := withOutputs(t)
		log := newLogger(false)
		log.Debug("hidden")
		log.Info("shown", "empty", "", "kept", "value")
		assert.NotContains(t, stderr.String(), "hidden")
		assert.Contains(t, stderr.String(), "shown")
		assert.Contains(t, stderr.String(), "kept")
		assert.NotContains(t, stderr.String(), "empty")
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		_, stderr := withOutputs(t)
		newLogger(true).Debug("visible")
		assert.Contains(t, stderr.String(), "visible")
	})
}

func TestFormatRFC3339Millis(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	tm := time.Date(2024, 3, 9, 12, 30, 45, 123_456_789, loc)
	assert.Equal(t, "2024-03-09T10:30:45.123Z", formatRFC3339Millis(tm))
}

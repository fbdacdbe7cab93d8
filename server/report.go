// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"
)

// ErrNoReportChannel is returned when the remote router did not open a
// connection on the report port before its run completed.
var ErrNoReportChannel = errors.New("no report channel for remote")

// reportWriteTimeout bounds writing a report.
const reportWriteTimeout = 10 * time.Second

// ReportSink delivers reports over the connections opened on the report port.
//
// The zero value is ready to use.
type ReportSink struct {
	mu    sync.Mutex
	conns map[netip.Addr]net.Conn
}

// Register registers conn as the report channel of the remote router,
// replacing and closing any previously registered conn.
func (s *ReportSink) Register(remote netip.Addr, conn net.Conn) {
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[netip.Addr]net.Conn)
	}
	previous := s.conns[remote]
	s.conns[remote] = conn
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Len returns the number of registered report channels.
func (s *ReportSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SendReport writes the report to the report channel of the remote router.
func (s *ReportSink) SendReport(remote netip.Addr, report string) error {
	s.mu.Lock()
	conn := s.conns[remote]
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w %s", ErrNoReportChannel, remote)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(reportWriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(report))
	return err
}

// Close closes all the report channels.
func (s *ReportSink) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	var errv []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}

// SPDX-License-Identifier: GPL-3.0-or-later

package simulation

import (
	"bytes"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/rbmk-project/ranisim/rani"
	"github.com/stretchr/testify/require"
)

// deviceReply is a frame an emulated device writes on a link.
type deviceReply struct {
	link  int
	frame []byte
}

// deviceHandler decides how an emulated device reacts to a frame.
type deviceHandler func(d *fakeDevice, link int, frame []byte) []deviceReply

// fakeDevice emulates a router connected through [net.Pipe] links.
type fakeDevice struct {
	// handshake contains the link ID byte each link sends.
	handshake [rani.LinkCount]byte

	// deaf contains the links on which the device never reads.
	deaf map[int]bool

	// handler is the optional frame handler.
	handler deviceHandler

	// harness contains the harness side of the links.
	harness []net.Conn

	// peers contains the device side of the links.
	peers []net.Conn

	mu     sync.Mutex
	frames [rani.LinkCount][][]byte
	wg     sync.WaitGroup
}

// newFakeDevice creates the links of a device using [net.Pipe].
func newFakeDevice(handler deviceHandler) *fakeDevice {
	return newFakeDeviceWithLinks(handler, net.Pipe)
}

// newFakeDeviceWithLinks creates the links of a device using the given
// function, which returns the harness side and the device side.
func newFakeDeviceWithLinks(handler deviceHandler, newLink func() (net.Conn, net.Conn)) *fakeDevice {
	d := &fakeDevice{handler: handler, deaf: map[int]bool{}}
	for index := range rani.LinkCount {
		d.handshake[index] = byte(index)
		left, right := newLink()
		d.harness = append(d.harness, left)
		d.peers = append(d.peers, right)
	}
	return d
}

// loopbackLink returns a function creating links over loopback TCP.
//
// Unlike [net.Pipe], a TCP conn whose peer has closed still accepts
// deadlines and reads io.EOF, like the links of a real router.
func loopbackLink(t *testing.T) func() (net.Conn, net.Conn) {
	return func() (net.Conn, net.Conn) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer listener.Close()

		accepted := make(chan net.Conn, 1)
		go func() {
			conn, _ := listener.Accept()
			accepted <- conn
		}()

		harness, err := net.Dial("tcp", listener.Addr().String())
		require.NoError(t, err)
		device := <-accepted
		require.NotNil(t, device)
		return harness, device
	}
}

// start starts the device goroutines.
func (d *fakeDevice) start() {
	for index := range rani.LinkCount {
		d.wg.Add(1)
		go d.serve(index)
	}
}

// serve sends the handshake byte and then reads frames from the link.
func (d *fakeDevice) serve(index int) {
	defer d.wg.Done()
	peer := d.peers[index]
	if _, err := peer.Write([]byte{d.handshake[index]}); err != nil {
		return
	}
	if d.deaf[index] {
		return
	}
	buf := make([]byte, 256)
	for {
		count, err := peer.Read(buf)
		if err != nil {
			return
		}
		frame := bytes.Clone(buf[:count])
		d.mu.Lock()
		d.frames[index] = append(d.frames[index], frame)
		d.mu.Unlock()
		if d.handler == nil {
			continue
		}
		for _, reply := range d.handler(d, index, frame) {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.peers[reply.link].Write(reply.frame)
			}()
		}
	}
}

// wait waits for the device goroutines and closes the device side.
func (d *fakeDevice) wait() {
	for _, conn := range d.harness {
		conn.Close()
	}
	d.wg.Wait()
	for _, conn := range d.peers {
		conn.Close()
	}
}

// received returns the frames received on a link.
func (d *fakeDevice) received(link int) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames[link]
}

// isTerminal returns whether frame is an END or ERR terminal packet.
func isTerminal(frame []byte) bool {
	header, _, err := rani.DecodeHeader(frame)
	return err == nil && header.Flags()&(rani.FlagEND|rani.FlagERR) != 0
}

// forwardTo returns a handler forwarding the frames received on link
// from to the given links, after transforming them with fx. Terminal
// packets are never forwarded.
func forwardTo(from int, fx func([]byte) []byte, links ...int) deviceHandler {
	return func(d *fakeDevice, link int, frame []byte) []deviceReply {
		if link != from || isTerminal(frame) {
			return nil
		}
		var replies []deviceReply
		for _, index := range links {
			replies = append(replies, deviceReply{link: index, frame: fx(frame)})
		}
		return replies
	}
}

// echo returns the frame unchanged.
func echo(frame []byte) []byte {
	return frame
}

// fakeSink is a [ReportSink] recording the reports.
type fakeSink struct {
	mu      sync.Mutex
	err     error
	reports map[netip.Addr][]string
}

var _ ReportSink = &fakeSink{}

// SendReport implements [ReportSink].
func (s *fakeSink) SendReport(remote netip.Addr, report string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.reports == nil {
		s.reports = map[netip.Addr][]string{}
	}
	s.reports[remote] = append(s.reports[remote], report)
	return nil
}

// only returns the only report delivered to remote.
func (s *fakeSink) only(t *testing.T, remote netip.Addr) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.reports[remote], 1)
	return s.reports[remote][0]
}

// mustPacket creates a packet or fails the test.
func mustPacket(t *testing.T, fields rani.Fields, payload rani.Payload) *rani.Packet {
	pkt, err := rani.NewPacket(fields, payload)
	require.NoError(t, err)
	return pkt
}

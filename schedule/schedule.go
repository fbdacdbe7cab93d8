// SPDX-License-Identifier: GPL-3.0-or-later

package schedule

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"

	"github.com/rbmk-project/ranisim/rani"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is the error wrapped by all the schedule validation errors.
var ErrInvalid = errors.New("invalid schedule")

// TestCase is a single stimulus and its expected responses.
//
// A TestCase is read-only once the [*Schedule] containing it has
// been created and may be shared by concurrent runs.
type TestCase struct {
	// Label is the free text label used in the report.
	Label string

	// SendLink is the index of the link on which we send SendPacket.
	SendLink int

	// SendPacket is the packet to send.
	SendPacket *rani.Packet

	// Checksum optionally overrides the checksum byte of SendPacket,
	// which allows testing the checksum validation of the device.
	Checksum *uint8

	// RecvLinks contains the indexes of the links expected to receive
	// a packet. When nil, no link is expected to receive a packet.
	RecvLinks []int

	// RecvPackets contains the expected packets, one per RecvLinks entry.
	RecvPackets []*rani.Packet
}

// ExpectsResponse returns whether at least one link should receive a packet.
func (tc *TestCase) ExpectsResponse() bool {
	return tc.RecvLinks != nil
}

// Expected returns the packet expected on the given link, if any.
func (tc *TestCase) Expected(link int) (*rani.Packet, bool) {
	idx := slices.Index(tc.RecvLinks, link)
	if idx < 0 {
		return nil, false
	}
	return tc.RecvPackets[idx], true
}

// Schedule is the ordered sequence of test cases.
//
// Construct using [Parse] or [Load].
type Schedule struct {
	cases []*TestCase
}

// New creates a [*Schedule] from already validated test cases.
func New(cases ...*TestCase) *Schedule {
	return &Schedule{cases: slices.Clone(cases)}
}

// Len returns the number of test cases.
func (s *Schedule) Len() int {
	return len(s.cases)
}

// At returns the test case at the given zero-based index.
func (s *Schedule) At(idx int) *TestCase {
	return s.cases[idx]
}

// All iterates over the test cases in order along with their zero-based index.
func (s *Schedule) All() iter.Seq2[int, *TestCase] {
	return func(yield func(int, *TestCase) bool) {
		for idx, tc := range s.cases {
			if !yield(idx, tc) {
				return
			}
		}
	}
}

// Load reads and parses the schedule at the given path.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sched, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sched, nil
}

// Parse parses a schedule document.
func Parse(data []byte) (*Schedule, error) {
	var objects []map[string]any
	if err := yaml.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sched := &Schedule{}
	for idx, object := range objects {
		tc, err := parseTestCase(object)
		if err != nil {
			return nil, fmt.Errorf("%w: test case %d: %w", ErrInvalid, idx+1, err)
		}
		sched.cases = append(sched.cases, tc)
	}
	return sched, nil
}

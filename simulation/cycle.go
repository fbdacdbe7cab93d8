// SPDX-License-Identifier: GPL-3.0-or-later

package simulation

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbmk-project/ranisim/rani"
	"github.com/rbmk-project/ranisim/schedule"
)

// Failure messages recorded by the cycle.
const (
	msgRoutedIncorrectly  = "Packet routed incorrectly"
	msgNotReceivedOnAny   = "Packet not received on any link"
	msgNotReceivedOnAll   = "Packets not received on all required links"
	msgUnspecifiedFailure = "Test case failed"
)

// outcome is the result of a test case.
type outcome struct {
	// label is the test case label.
	label string

	// failed indicates whether the test case failed.
	failed bool

	// message is the first failure message recorded.
	message string
}

// fail marks the outcome as failed and records msg unless we
// already recorded a message for this test case.
func (o *outcome) fail(msg string) {
	if o.message == "" {
		o.message = msg
	}
	o.failed = true
}

// cycle runs every test case in order.
func (r *run) cycle(workers []*worker) ([]outcome, error) {
	outcomes := make([]outcome, 0, r.cfg.Schedule.Len())
	for idx, tc := range r.cfg.Schedule.All() {
		out, err := r.runTestCase(workers, idx+1, tc)
		if err != nil {
			return nil, err
		}
		r.cfg.Metrics.TestCaseDone(!out.failed)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// runTestCase broadcasts the instructions of a test case and classifies the replies.
func (r *run) runTestCase(workers []*worker, testID int, tc *schedule.TestCase) (outcome, error) {
	logger := r.logger.With(slog.Int("testCase", testID))
	out := outcome{label: tc.Label}

	// send the instructions to every worker
	for index, w := range workers {
		msg := message{kind: kindInactive}
		if index == tc.SendLink {
			msg = message{kind: kindActive, packet: tc.SendPacket, checksum: tc.Checksum}
		}
		if err := r.instruct(w, msg); err != nil {
			return out, err
		}
	}

	// receive one reply per worker in link index order
	var (
		received      bool
		receivedCount int
	)
	for index, w := range workers {
		reply, err := r.await(w)
		if err != nil {
			return out, err
		}

		expected, isExpected := tc.Expected(index)
		switch {
		case reply.kind == kindActive && reply.err == nil && isExpected:
			received = true
			receivedCount++
			if err := rani.Compare(reply.packet, expected); err != nil {
				logger.WarnContext(r.ctx, "testCaseFailure", slog.Int("link", index), slog.Any("err", err))
				out.fail(err.Error())
			}

		case reply.kind == kindActive && reply.err == nil:
			received = true
			logger.WarnContext(r.ctx, "testCaseFailure", slog.Int("link", index),
				slog.String("err", fmt.Sprintf("%s to link %d", msgRoutedIncorrectly, index)))
			out.fail(msgRoutedIncorrectly)

		case reply.kind == kindActive:
			if isExpected {
				received = true
			}
			logger.WarnContext(r.ctx, "testCaseFailure", slog.Int("link", index), slog.Any("err", reply.err))
			out.fail(reply.err.Error())

		case reply.kind == kindInactive && isExpected:
			logger.WarnContext(r.ctx, "testCaseFailure", slog.Int("link", index),
				slog.String("err", "Did not receive packet on link"))
			out.failed = true

		case reply.kind == kindInactive:
			// nothing observed where nothing was expected

		default:
			return out, fmt.Errorf("%w: link %s replied with %s", errInvalidInstruction, w.id, reply.kind)
		}
	}

	// check the overall reception
	switch {
	case tc.ExpectsResponse() && !received:
		logger.WarnContext(r.ctx, "testCaseFailure", slog.String("err", msgNotReceivedOnAny))
		out.fail(msgNotReceivedOnAny)

	case tc.ExpectsResponse() && receivedCount != len(tc.RecvLinks):
		logger.WarnContext(r.ctx, "testCaseFailure", slog.String("err", msgNotReceivedOnAll))
		out.fail(msgNotReceivedOnAll)
	}
	if out.failed && out.message == "" {
		out.message = msgUnspecifiedFailure
	}

	logger.DebugContext(r.ctx, "testCaseDone", slog.Bool("failed", out.failed))
	return out, nil
}

// report formats the report and returns whether any test case failed.
func (r *run) report(outcomes []outcome) (string, bool) {
	var (
		builder strings.Builder
		failed  bool
	)
	for idx, out := range outcomes {
		result := "PASSED"
		if out.failed {
			failed = true
			result = fmt.Sprintf("FAILED '%s'", out.message)
		}
		fmt.Fprintf(&builder, "Routing Test %d [%s] : %s\n", idx+1, out.label, result)
	}
	return builder.String(), failed
}

// Package protocol implements the progress channel between a worker process
// and the dispatcher.
//
// The channel is a pipe handed to the worker as file descriptor 3. The worker
// writes one ASCII decimal integer per line; the dispatcher decodes each line
// into a Signal and validates its position in the sequence
//
//	m1 <= m2 <= ... <= mk (each 1..9), 0, r (0..3)
//
// Anything else is a protocol violation.
package protocol

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/simdispatch/internal/status"
)

// ProgressFD is the file descriptor number the worker finds the write end of
// the progress pipe on.
const ProgressFD = 3

// doneValue is the wire value of the done sentinel.
const doneValue = 0

// ErrViolation marks any value the dispatcher cannot accept from a worker.
var ErrViolation = errors.New("progress protocol violation")

// SignalKind tags a Signal.
type SignalKind int

const (
	SignalMilestone SignalKind = iota + 1
	SignalDone
	SignalResult
)

func (k SignalKind) String() string {
	switch k {
	case SignalMilestone:
		return "milestone"
	case SignalDone:
		return "done"
	case SignalResult:
		return "result"
	default:
		return fmt.Sprintf("signal(%d)", int(k))
	}
}

// Signal is one decoded message from a worker.
type Signal struct {
	Kind      SignalKind
	Milestone int           // set for SignalMilestone
	Result    status.Result // set for SignalResult
}

// Milestone builds a progress checkpoint signal.
func Milestone(m int) Signal { return Signal{Kind: SignalMilestone, Milestone: m} }

// Done builds the completion sentinel.
func Done() Signal { return Signal{Kind: SignalDone} }

// Result builds the classification signal that follows Done.
func Result(r status.Result) Signal { return Signal{Kind: SignalResult, Result: r} }

func (s Signal) String() string {
	switch s.Kind {
	case SignalMilestone:
		return fmt.Sprintf("milestone(%d)", s.Milestone)
	case SignalResult:
		return fmt.Sprintf("result(%s)", s.Result)
	default:
		return s.Kind.String()
	}
}

// wireValue returns the integer a signal is written as.
func (s Signal) wireValue() (int, error) {
	switch s.Kind {
	case SignalMilestone:
		if !status.ValidMilestone(s.Milestone) {
			return 0, fmt.Errorf("milestone %d out of range", s.Milestone)
		}
		return s.Milestone, nil
	case SignalDone:
		return doneValue, nil
	case SignalResult:
		if _, err := status.ParseResult(int(s.Result)); err != nil {
			return 0, err
		}
		return int(s.Result), nil
	default:
		return 0, fmt.Errorf("unknown signal kind %d", int(s.Kind))
	}
}

// Package status defines the closed set of job states the dispatcher reads
// from and writes to the shared job table, together with the integer encoding
// the table uses.
//
// The enum is the source of truth inside the process. Integers only appear at
// the store boundary, through Code and Decode.
package status

import "fmt"

// Kind is the tag of a Status.
type Kind int

const (
	KindPending Kind = iota
	KindRunRequested
	KindRunning
	KindCancelRequested
	KindCancelled
	KindComplete
	KindFailed
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindRunRequested:
		return "run_requested"
	case KindRunning:
		return "running"
	case KindCancelRequested:
		return "cancel_requested"
	case KindCancelled:
		return "cancelled"
	case KindComplete:
		return "complete"
	case KindFailed:
		return "failed"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the classification a worker reports once, after its done
// sentinel. The numeric values are the ones carried on the progress channel.
type Result int

const (
	Compliant    Result = 0
	MinorProblem Result = 1
	MajorProblem Result = 2
	Advisory     Result = 3
)

// ParseResult validates a classification received from a worker.
func ParseResult(v int) (Result, error) {
	switch r := Result(v); r {
	case Compliant, MinorProblem, MajorProblem, Advisory:
		return r, nil
	default:
		return 0, fmt.Errorf("result classification %d out of range 0..3", v)
	}
}

func (r Result) String() string {
	switch r {
	case Compliant:
		return "compliant"
	case MinorProblem:
		return "minor_problem"
	case MajorProblem:
		return "major_problem"
	case Advisory:
		return "advisory"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Milestone bounds. Zero is reserved for the done sentinel on the wire.
const (
	MinMilestone = 1
	MaxMilestone = 9
)

// ValidMilestone reports whether m is a reportable progress checkpoint.
func ValidMilestone(m int) bool {
	return m >= MinMilestone && m <= MaxMilestone
}

// Status is a job state. The zero value is Pending. Status values are
// comparable with ==.
type Status struct {
	kind      Kind
	milestone int
	result    Result
}

var (
	Pending         = Status{kind: KindPending}
	RunRequested    = Status{kind: KindRunRequested}
	CancelRequested = Status{kind: KindCancelRequested}
	Cancelled       = Status{kind: KindCancelled}
	Failed          = Status{kind: KindFailed}
	Error           = Status{kind: KindError}
)

// Running returns the Running state at milestone m. It panics if m is not in
// 1..9; callers validate worker input before building a status from it.
func Running(m int) Status {
	if !ValidMilestone(m) {
		panic(fmt.Sprintf("status: milestone %d out of range %d..%d", m, MinMilestone, MaxMilestone))
	}
	return Status{kind: KindRunning, milestone: m}
}

// Complete returns the Complete state with classification r.
func Complete(r Result) Status {
	return Status{kind: KindComplete, result: r}
}

func (s Status) Kind() Kind { return s.kind }

// Milestone returns the milestone of a Running status and 0 otherwise.
func (s Status) Milestone() int {
	if s.kind != KindRunning {
		return 0
	}
	return s.milestone
}

// Result returns the classification of a Complete status. ok is false for
// every other kind.
func (s Status) Result() (r Result, ok bool) {
	if s.kind != KindComplete {
		return 0, false
	}
	return s.result, true
}

// IsTerminal reports whether the dispatcher never acts on a job in this state
// again.
func (s Status) IsTerminal() bool {
	switch s.kind {
	case KindCancelled, KindComplete, KindFailed, KindError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job is expected to have a live worker.
func (s Status) IsActive() bool {
	return s.kind == KindRunRequested || s.kind == KindRunning
}

func (s Status) String() string {
	switch s.kind {
	case KindRunning:
		return fmt.Sprintf("running(%d)", s.milestone)
	case KindComplete:
		return fmt.Sprintf("complete(%s)", s.result)
	default:
		return s.kind.String()
	}
}

package supervisor

import (
	"fmt"

	"github.com/mattjoyce/simdispatch/internal/status"
)

// OutcomeKind classifies what Poll or Cancel observed.
type OutcomeKind int

const (
	// StillRunning means nothing changed since the last observation.
	StillRunning OutcomeKind = iota
	// Progress carries a milestone higher than any reported before.
	Progress
	// Completed means a clean exit after the terminal pair.
	Completed
	// Failed means the worker exited nonzero.
	Failed
	// Errored covers protocol violations and incomplete clean exits.
	Errored
	// Cancelled means the worker was stopped on request.
	Cancelled
	// Zombie means the worker ignored termination. Nothing is persisted.
	Zombie
)

func (k OutcomeKind) String() string {
	switch k {
	case StillRunning:
		return "still_running"
	case Progress:
		return "progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	case Zombie:
		return "zombie"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one supervision step.
type Outcome struct {
	Kind      OutcomeKind
	Milestone int           // Progress
	Result    status.Result // Completed
	Reason    string        // Errored, Failed
}

// Terminal reports whether the worker is gone and its entry must be dropped.
func (o Outcome) Terminal() bool {
	switch o.Kind {
	case Completed, Failed, Errored, Cancelled:
		return true
	default:
		return false
	}
}

// Status returns the status to persist, if any.
func (o Outcome) Status() (status.Status, bool) {
	switch o.Kind {
	case Progress:
		return status.Running(o.Milestone), true
	case Completed:
		return status.Complete(o.Result), true
	case Failed:
		return status.Failed, true
	case Errored:
		return status.Error, true
	case Cancelled:
		return status.Cancelled, true
	default:
		return status.Status{}, false
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case Progress:
		return fmt.Sprintf("progress(%d)", o.Milestone)
	case Completed:
		return fmt.Sprintf("completed(%s)", o.Result)
	case Failed, Errored:
		if o.Reason != "" {
			return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
		}
	}
	return o.Kind.String()
}

func stillRunning() Outcome { return Outcome{Kind: StillRunning} }
func progressed(m int) Outcome { return Outcome{Kind: Progress, Milestone: m} }
func completed(r status.Result) Outcome { return Outcome{Kind: Completed, Result: r} }
func cancelled() Outcome { return Outcome{Kind: Cancelled} }
func zombie() Outcome { return Outcome{Kind: Zombie} }

func failed(format string, args ...any) Outcome {
	return Outcome{Kind: Failed, Reason: fmt.Sprintf(format, args...)}
}

func errored(format string, args ...any) Outcome {
	return Outcome{Kind: Errored, Reason: fmt.Sprintf(format, args...)}
}

package status

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a persisted code does not map to any Status.
var ErrMalformed = errors.New("malformed status code")

// Codes used by the shared job table.
const (
	codePending         = 0
	codeRunRequested    = 1
	codeFailed          = 2
	codeCompliant       = 3
	codeMajorProblem    = 4
	codeMinorProblem    = 5
	codeAdvisory        = 6
	codeCancelRequested = 7
	codeCancelled       = 8
	codeError           = 9
	codeRunningBase     = 10
)

// TerminalCodes lists the codes the dispatcher never needs to fetch again.
var TerminalCodes = []int{
	codeFailed,
	codeCompliant,
	codeMajorProblem,
	codeMinorProblem,
	codeAdvisory,
	codeCancelled,
	codeError,
}

// Code returns the job-table encoding of s. The mapping is total over every
// Status that can be constructed through this package.
func (s Status) Code() int {
	switch s.kind {
	case KindPending:
		return codePending
	case KindRunRequested:
		return codeRunRequested
	case KindRunning:
		return codeRunningBase + s.milestone
	case KindCancelRequested:
		return codeCancelRequested
	case KindCancelled:
		return codeCancelled
	case KindFailed:
		return codeFailed
	case KindError:
		return codeError
	case KindComplete:
		switch s.result {
		case Compliant:
			return codeCompliant
		case MinorProblem:
			return codeMinorProblem
		case MajorProblem:
			return codeMajorProblem
		case Advisory:
			return codeAdvisory
		}
	}
	panic(fmt.Sprintf("status: no code for %#v", s))
}

// Decode maps a job-table code back to a Status.
func Decode(code int) (Status, error) {
	switch code {
	case codePending:
		return Pending, nil
	case codeRunRequested:
		return RunRequested, nil
	case codeFailed:
		return Failed, nil
	case codeCompliant:
		return Complete(Compliant), nil
	case codeMajorProblem:
		return Complete(MajorProblem), nil
	case codeMinorProblem:
		return Complete(MinorProblem), nil
	case codeAdvisory:
		return Complete(Advisory), nil
	case codeCancelRequested:
		return CancelRequested, nil
	case codeCancelled:
		return Cancelled, nil
	case codeError:
		return Error, nil
	}
	if m := code - codeRunningBase; ValidMilestone(m) {
		return Running(m), nil
	}
	return Status{}, fmt.Errorf("%w: %d", ErrMalformed, code)
}

// DecodeNull is Decode for a nullable column. NULL is malformed.
func DecodeNull(code sql.NullInt64) (Status, error) {
	if !code.Valid {
		return Status{}, fmt.Errorf("%w: NULL", ErrMalformed)
	}
	return Decode(int(code.Int64))
}

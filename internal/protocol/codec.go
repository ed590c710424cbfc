package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattjoyce/simdispatch/internal/status"
)

// EncodeSignal writes s to w as a single line.
func EncodeSignal(w io.Writer, s Signal) error {
	v, err := s.wireValue()
	if err != nil {
		return fmt.Errorf("encode %s: %w", s, err)
	}
	if _, err := fmt.Fprintf(w, "%d\n", v); err != nil {
		return fmt.Errorf("write %s: %w", s, err)
	}
	return nil
}

// Decoder turns raw lines into Signals and enforces their order. A Decoder
// holds the state of one worker's stream and must not be shared.
type Decoder struct {
	last     int
	done     bool
	finished bool
	result   status.Result
}

// Decode validates one line. Every error wraps ErrViolation; after an error
// the decoder state is unchanged.
func (d *Decoder) Decode(line string) (Signal, error) {
	raw := strings.TrimSpace(line)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %q is not an integer", ErrViolation, raw)
	}

	switch {
	case d.finished:
		return Signal{}, fmt.Errorf("%w: value %d after terminal pair", ErrViolation, v)

	case d.done:
		r, err := status.ParseResult(v)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: %v", ErrViolation, err)
		}
		d.finished = true
		d.result = r
		return Result(r), nil

	case v == doneValue:
		d.done = true
		return Done(), nil

	case !status.ValidMilestone(v):
		return Signal{}, fmt.Errorf("%w: milestone %d out of range %d..%d", ErrViolation, v, status.MinMilestone, status.MaxMilestone)

	case v < d.last:
		return Signal{}, fmt.Errorf("%w: milestone %d after %d", ErrViolation, v, d.last)
	}

	d.last = v
	return Milestone(v), nil
}

// Done reports whether the sentinel has been decoded.
func (d *Decoder) Done() bool { return d.done }

// Finished reports whether the sentinel and classification have both been
// decoded.
func (d *Decoder) Finished() bool { return d.finished }

// LastMilestone returns the highest milestone decoded so far, or 0.
func (d *Decoder) LastMilestone() int { return d.last }

// Result returns the decoded classification once Finished is true.
func (d *Decoder) Result() (status.Result, bool) {
	return d.result, d.finished
}

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/simdispatch/internal/status"
)

// maxLineBytes bounds a single wire line. Anything longer is a violation.
const maxLineBytes = 256

// Sender is the worker's end of the progress channel.
type Sender struct {
	mu   sync.Mutex
	w    io.WriteCloser
	last int
}

// NewSender wraps w.
func NewSender(w io.WriteCloser) *Sender {
	return &Sender{w: w}
}

// OpenSender returns a Sender on ProgressFD, as inherited from the dispatcher.
func OpenSender() (*Sender, error) {
	f := os.NewFile(uintptr(ProgressFD), "progress")
	if f == nil {
		return nil, fmt.Errorf("progress descriptor %d is not open", ProgressFD)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("progress descriptor %d: %w", ProgressFD, err)
	}
	return NewSender(f), nil
}

// Milestone reports m if it is higher than anything sent before. Lower or
// equal values are dropped, so callers can forward raw progress readings.
func (s *Sender) Milestone(m int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m <= s.last {
		return nil
	}
	if err := EncodeSignal(s.w, Milestone(m)); err != nil {
		return err
	}
	s.last = m
	return nil
}

// Finish sends the done sentinel followed by the classification.
func (s *Sender) Finish(r status.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := EncodeSignal(s.w, Done()); err != nil {
		return err
	}
	return EncodeSignal(s.w, Result(r))
}

// Close closes the write end.
func (s *Sender) Close() error {
	return s.w.Close()
}

// Receiver is the dispatcher's end of the progress channel. A goroutine reads
// the pipe into a pending list that it never waits on, so the worker can
// write as much as it likes between polls and EOF is always observed. The
// dispatcher only takes from that list without blocking, so a silent worker
// cannot stall it either.
type Receiver struct {
	r    io.ReadCloser
	eof  chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	pending []string

	closeOnce sync.Once
	err       error
}

// NewReceiver starts reading r.
func NewReceiver(r io.ReadCloser) *Receiver {
	rc := &Receiver{
		r:    r,
		eof:  make(chan struct{}),
		quit: make(chan struct{}),
	}
	go rc.readLoop()
	return rc
}

func (rc *Receiver) readLoop() {
	defer close(rc.eof)

	sc := bufio.NewScanner(rc.r)
	sc.Buffer(make([]byte, 0, maxLineBytes), maxLineBytes)
	for sc.Scan() {
		select {
		case <-rc.quit:
			return
		default:
		}
		rc.mu.Lock()
		rc.pending = append(rc.pending, sc.Text())
		rc.mu.Unlock()
	}
	rc.err = sc.Err()
}

// Drain returns every line received so far without blocking.
func (rc *Receiver) Drain() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := rc.pending
	rc.pending = nil
	return out
}

// WaitEOF blocks until the writer side is closed or timeout elapses. It
// reports whether EOF was reached.
func (rc *Receiver) WaitEOF(timeout time.Duration) bool {
	select {
	case <-rc.eof:
		return true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-rc.eof:
		return true
	case <-t.C:
		return false
	}
}

// Err returns the read error that ended the stream, such as an over-long
// line. It is nil while the reader is still running, so it can be checked on
// every poll of a live worker.
func (rc *Receiver) Err() error {
	select {
	case <-rc.eof:
	default:
		return nil
	}
	if rc.err == nil {
		return nil
	}
	if errors.Is(rc.err, bufio.ErrTooLong) {
		return fmt.Errorf("%w: line longer than %d bytes", ErrViolation, maxLineBytes)
	}
	return rc.err
}

// Close stops the reader goroutine and closes the read end. It is safe to
// call more than once.
func (rc *Receiver) Close() error {
	var err error
	rc.closeOnce.Do(func() {
		close(rc.quit)
		err = rc.r.Close()
	})
	return err
}

// Package supervisor runs one worker process per job and turns what it
// observes (progress messages, exit status, termination) into Outcomes.
//
// All methods are meant to be called from the dispatch loop goroutine. Each
// Worker has two helper goroutines: one reaps the process and one reads the
// progress pipe. They only communicate through channels, so Poll never blocks
// on a silent worker.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/protocol"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

// Default timings.
const (
	DefaultCancelPoll     = 100 * time.Millisecond
	DefaultCancelAttempts = 50
	DefaultDoneGrace      = 500 * time.Millisecond
	DefaultDrainTimeout   = 2 * time.Second

	// reapTimeout bounds the wait for a SIGKILLed process to be reaped.
	reapTimeout = 5 * time.Second
)

// Config describes how workers are launched and how long to wait for them.
type Config struct {
	// Command is the worker executable. Args are passed before the per-job
	// flags.
	Command string
	Args    []string

	// ShareDir is the shared folder passed to every worker.
	ShareDir string

	// Debug adds --debug to the worker invocation.
	Debug bool

	CancelPoll     time.Duration
	CancelAttempts int
	DoneGrace      time.Duration
	DrainTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.CancelPoll <= 0 {
		c.CancelPoll = DefaultCancelPoll
	}
	if c.CancelAttempts <= 0 {
		c.CancelAttempts = DefaultCancelAttempts
	}
	if c.DoneGrace <= 0 {
		c.DoneGrace = DefaultDoneGrace
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Job is what a worker needs to know about the job it runs.
type Job struct {
	ID         string
	Model      string
	Building   string
	Estate     string
	SimStart   string
	SimStop    string
	Assessment string
}

// Supervisor starts and observes workers.
type Supervisor struct {
	cfg      Config
	ws       workspace.Manager
	errorLog *log.ErrorLog
	logger   *slog.Logger
}

// New creates a Supervisor. errorLog may be nil.
func New(cfg Config, ws workspace.Manager, errorLog *log.ErrorLog) *Supervisor {
	return &Supervisor{
		cfg:      cfg.withDefaults(),
		ws:       ws,
		errorLog: errorLog,
		logger:   log.WithComponent("supervisor"),
	}
}

// Worker is the supervisor's handle on one running job.
type Worker struct {
	JobID     string
	Workspace workspace.Workspace
	StartedAt time.Time

	pid  int
	recv *protocol.Receiver
	dec  protocol.Decoder

	exited  chan struct{}
	waitErr error // valid once exited is closed

	reported int
	zombie   bool
	released bool
	logger   *slog.Logger
}

// PID returns the worker's process id, which is also its process group id.
func (w *Worker) PID() int { return w.pid }

// LastMilestone returns the highest milestone reported through Poll.
func (w *Worker) LastMilestone() int { return w.reported }

// DoneSeen reports whether the done sentinel has been received.
func (w *Worker) DoneSeen() bool { return w.dec.Done() }

// Zombie reports whether the worker survived a cancel.
func (w *Worker) Zombie() bool { return w.zombie }

func (w *Worker) hasExited() bool {
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

func (w *Worker) waitExit(d time.Duration) bool {
	if w.hasExited() {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.exited:
		return true
	case <-t.C:
		return false
	}
}

// exitCode is 0 for a clean exit and -1 when the process was signalled or
// could not be waited for.
func (w *Worker) exitCode() int {
	if w.waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(w.waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// args builds the worker command line for job.
func (s *Supervisor) args(job Job, ws workspace.Workspace) []string {
	args := append([]string{}, s.cfg.Args...)
	args = append(args,
		"--job-id", job.ID,
		"--share-dir", s.cfg.ShareDir,
		"--job-dir", ws.Dir,
		"--model", job.Model,
		"--building", job.Building,
		"--estate", job.Estate,
		"--sim-start", job.SimStart,
		"--sim-stop", job.SimStop,
		"--assessment", job.Assessment,
	)
	if s.cfg.Debug {
		args = append(args, "--debug")
	}
	return args
}

// Start prepares the job's working directory and launches its worker. The
// caller guarantees no worker is registered for job.ID.
func (s *Supervisor) Start(ctx context.Context, job Job) (*Worker, error) {
	logger := log.WithJob(job.ID).With("component", "supervisor")

	ws, err := s.ws.Prepare(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("prepare working directory: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create progress pipe: %w", err)
	}
	out, err := os.OpenFile(ws.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	// Don't use CommandContext: termination is driven by Cancel and ForceKill.
	cmd := exec.Command(s.cfg.Command, s.args(job, ws)...)
	cmd.Dir = ws.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.ExtraFiles = []*os.File{pw} // fd 3
	setProcessGroup(cmd)

	logger.Debug("spawning worker", "command", s.cfg.Command, "dir", ws.Dir)

	startErr := cmd.Start()
	// The child holds its own copies now. Closing ours is what lets the
	// receiver see EOF when the worker exits.
	_ = pw.Close()
	_ = out.Close()
	if startErr != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("start worker: %w", startErr)
	}

	w := &Worker{
		JobID:     job.ID,
		Workspace: ws,
		StartedAt: time.Now(),
		pid:       cmd.Process.Pid,
		recv:      protocol.NewReceiver(pr),
		exited:    make(chan struct{}),
		logger:    logger.With("pid", cmd.Process.Pid),
	}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.exited)
	}()

	w.logger.Info("worker started")
	return w, nil
}

// consume decodes everything the worker has sent so far.
func (s *Supervisor) consume(w *Worker) error {
	for _, line := range w.recv.Drain() {
		sig, err := w.dec.Decode(line)
		if err != nil {
			return err
		}
		w.logger.Debug("progress signal", "signal", sig.String())
	}
	return nil
}

// Poll observes w without blocking, except for the bounded waits taken once
// the worker has exited or has sent its done sentinel. A terminal Outcome
// means w has been released and must be dropped by the caller.
func (s *Supervisor) Poll(w *Worker) Outcome {
	if w.released {
		return errored("worker already released")
	}
	if w.zombie {
		return zombie()
	}

	if err := s.consume(w); err != nil {
		w.logger.Error("progress protocol violation, killing worker", "error", err)
		s.ForceKill(w)
		return errored("%v", err)
	}
	// The reader stops at the first bad line, so a live worker that broke the
	// protocol would otherwise run on unobserved.
	if err := w.recv.Err(); err != nil {
		w.logger.Error("progress channel failed, killing worker", "error", err)
		s.ForceKill(w)
		return errored("%v", err)
	}

	if w.hasExited() {
		return s.conclude(w)
	}

	if w.dec.Done() {
		if w.waitExit(s.cfg.DoneGrace) {
			return s.conclude(w)
		}
		w.logger.Error("worker sent done but did not exit, killing worker", "grace", s.cfg.DoneGrace)
		s.ForceKill(w)
		return errored("worker still alive %s after done", s.cfg.DoneGrace)
	}

	if m := w.dec.LastMilestone(); m > w.reported {
		w.reported = m
		return progressed(m)
	}
	return stillRunning()
}

// drainAfterExit waits, bounded, for the pipe to close and decodes the rest.
func (s *Supervisor) drainAfterExit(w *Worker) error {
	if !w.recv.WaitEOF(s.cfg.DrainTimeout) {
		// A descendant still holds fd 3. Whatever arrived is all we use.
		w.logger.Warn("progress pipe still open after worker exit", "waited", s.cfg.DrainTimeout)
	}
	if err := s.consume(w); err != nil {
		return err
	}
	return w.recv.Err()
}

// conclude turns an exited worker into a terminal Outcome.
func (s *Supervisor) conclude(w *Worker) Outcome {
	if err := s.drainAfterExit(w); err != nil {
		w.logger.Error("progress protocol violation at exit", "error", err)
		s.ForceKill(w)
		return errored("%v", err)
	}
	s.release(w)

	code := w.exitCode()
	switch {
	case code != 0:
		w.logger.Warn("worker exited with non-zero status", "exit_code", code, "last_milestone", w.dec.LastMilestone())
		return failed("exit code %d", code)
	case !w.dec.Done():
		w.logger.Error("worker exited cleanly without done sentinel")
		return errored("clean exit without done sentinel")
	case !w.dec.Finished():
		w.logger.Error("worker exited cleanly without result classification")
		return errored("clean exit without result classification")
	}
	r, _ := w.dec.Result()
	w.logger.Info("worker completed", "result", r.String(), "elapsed", time.Since(w.StartedAt).Round(time.Millisecond).String())
	return completed(r)
}

// Cancel terminates w on request. If the worker does not exit within
// CancelAttempts polls of CancelPoll it is marked as a zombie, an alert is
// raised, and Zombie is returned; w stays valid and later Cancel calls only
// check whether it has finally exited.
func (s *Supervisor) Cancel(w *Worker) Outcome {
	if w.released {
		return cancelled()
	}

	if w.zombie {
		if w.hasExited() {
			w.logger.Warn("zombie worker exited")
			return s.concludeCancel(w, true)
		}
		return zombie()
	}

	if w.hasExited() {
		return s.concludeCancel(w, false)
	}

	if err := terminate(w.pid); err != nil {
		w.logger.Error("failed to send SIGTERM", "error", err)
	}
	for attempt := 0; attempt < s.cfg.CancelAttempts; attempt++ {
		if w.waitExit(s.cfg.CancelPoll) {
			return s.concludeCancel(w, true)
		}
	}

	w.zombie = true
	msg := fmt.Sprintf("worker for job %s (pid %d) left zombified after cancel", w.JobID, w.pid)
	w.logger.Error("zombie worker", "waited", s.cfg.CancelPoll*time.Duration(s.cfg.CancelAttempts))
	if err := s.errorLog.Append(msg); err != nil {
		w.logger.Error("failed to append to admin error log", "error", err)
	}
	return zombie()
}

// concludeCancel decides the status of a cancelled worker that has exited.
// signalled is false when the worker had already exited on its own.
func (s *Supervisor) concludeCancel(w *Worker, signalled bool) Outcome {
	if err := s.drainAfterExit(w); err != nil {
		w.logger.Debug("ignoring progress error during cancel", "error", err)
	}
	s.release(w)

	code := w.exitCode()
	if r, ok := w.dec.Result(); ok && code == 0 {
		w.logger.Info("worker finished before cancel took effect", "result", r.String())
		return completed(r)
	}
	if !signalled && code != 0 {
		w.logger.Warn("worker had already failed before cancel", "exit_code", code)
		return failed("exit code %d", code)
	}
	w.logger.Info("worker cancelled")
	return cancelled()
}

// ForceKill kills w's whole process group, reaps it, removes the working
// directory and releases w.
func (s *Supervisor) ForceKill(w *Worker) {
	if err := killGroup(w.pid); err != nil {
		w.logger.Error("failed to send SIGKILL", "error", err)
	}
	if !w.waitExit(reapTimeout) {
		w.logger.Error("worker not reaped after SIGKILL", "waited", reapTimeout)
	}
	s.release(w)
	if err := s.ws.Remove(w.JobID); err != nil {
		w.logger.Error("failed to remove working directory", "error", err)
	}
	w.logger.Warn("worker force-killed")
}

// Terminate stops w during shutdown: SIGTERM, the cancel wait, then SIGKILL
// to the group. The working directory is kept so a later instance can
// restart the job.
func (s *Supervisor) Terminate(w *Worker) {
	if w.released {
		return
	}
	if !w.hasExited() {
		if err := terminate(w.pid); err != nil {
			w.logger.Error("failed to send SIGTERM", "error", err)
		}
		if !w.waitExit(s.cfg.CancelPoll * time.Duration(s.cfg.CancelAttempts)) {
			w.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
			if err := killGroup(w.pid); err != nil {
				w.logger.Error("failed to send SIGKILL", "error", err)
			}
			if !w.waitExit(reapTimeout) {
				w.logger.Error("worker not reaped after SIGKILL", "waited", reapTimeout)
			}
		}
	}
	s.release(w)
	w.logger.Info("worker terminated for shutdown")
}

func (s *Supervisor) release(w *Worker) {
	if w.released {
		return
	}
	w.released = true
	_ = w.recv.Close()
}

// Info is a point-in-time view of a Worker.
type Info struct {
	JobID     string    `json:"job_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Milestone int       `json:"milestone"`
	DoneSeen  bool      `json:"done_seen"`
	Zombie    bool      `json:"zombie"`
	Dir       string    `json:"dir"`
}

// Info snapshots w. Call it from the goroutine that owns w.
func (w *Worker) Info() Info {
	return Info{
		JobID:     w.JobID,
		PID:       w.pid,
		StartedAt: w.StartedAt,
		Milestone: w.reported,
		DoneSeen:  w.dec.Done(),
		Zombie:    w.zombie,
		Dir:       w.Workspace.Dir,
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/simdispatch/internal/events"
	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/registry"
	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/store"
	"github.com/mattjoyce/simdispatch/internal/supervisor"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

// DefaultInterval is the cycle period when none is configured.
const DefaultInterval = 15 * time.Second

// Options configures a Dispatcher.
type Options struct {
	Interval time.Duration

	// Assessments maps the job table's assessment index to the name passed
	// to the worker.
	Assessments []string

	Events   *events.Hub
	ErrorLog *log.ErrorLog
}

// Dispatcher runs dispatch cycles against a store.
type Dispatcher struct {
	store store.Store
	sup   *supervisor.Supervisor
	ws    workspace.Manager
	reg   *registry.Registry
	opts  Options

	logger *slog.Logger

	mu        sync.RWMutex
	workers   []supervisor.Info
	lastCycle events.CycleSummary
	cycles    int
}

// New creates a Dispatcher. The registry starts empty; jobs left running by a
// previous instance are picked up by recovery.
func New(st store.Store, sup *supervisor.Supervisor, ws workspace.Manager, opts Options) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Dispatcher{
		store:  st,
		sup:    sup,
		ws:     ws,
		reg:    registry.New(),
		opts:   opts,
		logger: log.WithComponent("dispatch"),
	}
}

// cycle carries per-cycle context through routing.
type cycle struct {
	id     string
	logger *slog.Logger
}

// Run executes cycles until ctx is cancelled, then terminates every registered
// worker without touching their persisted status. It only returns an error for
// an internal inconsistency.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "interval", d.opts.Interval.String())
	defer d.logger.Info("dispatch loop stopped")
	defer d.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		if err := d.RunCycle(ctx); err != nil {
			return fmt.Errorf("dispatch loop: %w", err)
		}

		// No catch-up: an overrun cycle is followed immediately by the next.
		wait := d.opts.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// RunCycle performs one fetch-route-write pass. Per-job problems are handled
// inside the cycle; the returned error is fatal.
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	c := cycle{id: uuid.NewString()}
	c.logger = d.logger.With("cycle_id", c.id)
	start := time.Now()

	summary := events.CycleSummary{CycleID: c.id, StartedAt: start.UTC()}

	records, err := d.store.FetchActionable(ctx)
	if err != nil {
		c.logger.Error("failed to fetch jobs, skipping cycle", "error", err)
		if aerr := d.opts.ErrorLog.Append(fmt.Sprintf("failed to query job table, skipping dispatch: %v", err)); aerr != nil {
			c.logger.Error("failed to append to admin error log", "error", aerr)
		}
		summary.Error = err.Error()
		d.finishCycle(summary, start)
		return nil
	}
	summary.Records = len(records)
	c.logger.Debug("cycle started", "records", len(records), "registered", d.reg.Len())

	for _, rec := range records {
		if err := d.route(ctx, c, rec); err != nil {
			return err
		}
	}

	d.finishCycle(summary, start)
	c.logger.Debug("cycle finished", "registered", d.reg.Len(), "elapsed", time.Since(start).String())
	return nil
}

func (d *Dispatcher) finishCycle(summary events.CycleSummary, start time.Time) {
	summary.Registered = d.reg.Len()
	summary.ElapsedMS = time.Since(start).Milliseconds()

	snap := d.reg.Snapshot()
	d.mu.Lock()
	d.workers = snap
	d.lastCycle = summary
	d.cycles++
	d.mu.Unlock()

	d.opts.Events.Publish(events.TypeCycle, summary)
}

// route picks exactly one action for rec.
func (d *Dispatcher) route(ctx context.Context, c cycle, rec store.JobRecord) error {
	logger := log.WithJob(rec.ID).With("cycle_id", c.id)

	if rec.StatusErr != nil {
		logger.Error("malformed job status", "error", rec.StatusErr)
		if w, ok := d.reg.Get(rec.ID); ok {
			d.sup.ForceKill(w)
			d.reg.Remove(rec.ID)
		}
		d.write(ctx, c, rec, status.Error, rec.StatusErr.Error())
		return nil
	}

	st := rec.Status

	// Pending never touches the worker itself.
	if st.Kind() == status.KindPending {
		if d.reg.Has(rec.ID) {
			logger.Debug("job already started, rewriting run requested")
			d.write(ctx, c, rec, status.RunRequested, "already started")
			return nil
		}
		return d.start(ctx, c, rec)
	}

	w, registered := d.reg.Get(rec.ID)
	switch st.Kind() {
	case status.KindRunRequested, status.KindRunning:
		if !registered {
			return d.recoverOrphan(ctx, c, rec)
		}
		if d.killed(ctx, c, rec, w) {
			return nil
		}
		out := d.sup.Poll(w)
		logger.Debug("polled worker", "outcome", out.String())
		d.apply(ctx, c, rec, w, out)

	case status.KindCancelRequested:
		if !registered {
			logger.Info("cancel requested for job with no worker")
			d.write(ctx, c, rec, status.Cancelled, "no worker")
			return nil
		}
		if d.killed(ctx, c, rec, w) {
			return nil
		}
		wasZombie := w.Zombie()
		out := d.sup.Cancel(w)
		if out.Kind == supervisor.Zombie && !wasZombie {
			d.opts.Events.Publish(events.TypeZombie, events.Transition{
				JobID: rec.ID, CycleID: c.id, From: st.String(), To: st.String(), Code: st.Code(),
				Reason: "worker ignored termination",
			})
		}
		d.apply(ctx, c, rec, w, out)

	default:
		logger.Debug("ignoring terminal job", "status", st.String())
	}
	return nil
}

// start launches a worker for rec and marks it RunRequested.
func (d *Dispatcher) start(ctx context.Context, c cycle, rec store.JobRecord) error {
	logger := log.WithJob(rec.ID).With("cycle_id", c.id)

	job, err := d.resolve(rec)
	if err != nil {
		logger.Error("cannot start job", "error", err)
		d.write(ctx, c, rec, status.Error, err.Error())
		return nil
	}

	w, err := d.sup.Start(ctx, job)
	if err != nil {
		logger.Error("failed to launch worker", "error", err)
		d.write(ctx, c, rec, status.Error, err.Error())
		return nil
	}
	if err := d.reg.Add(w); err != nil {
		d.sup.ForceKill(w)
		return err
	}

	d.write(ctx, c, rec, status.RunRequested, "")
	return nil
}

// resolve builds the worker's view of rec.
func (d *Dispatcher) resolve(rec store.JobRecord) (supervisor.Job, error) {
	if rec.AssessmentID < 0 || rec.AssessmentID >= len(d.opts.Assessments) || d.opts.Assessments[rec.AssessmentID] == "" {
		return supervisor.Job{}, fmt.Errorf("unknown assessment %d", rec.AssessmentID)
	}
	if rec.Model == nil {
		return supervisor.Job{}, fmt.Errorf("model %d does not resolve", rec.ModelID)
	}
	return supervisor.Job{
		ID:         rec.ID,
		Model:      rec.Model.Tarball,
		Building:   rec.Model.Building,
		Estate:     rec.Model.Estate,
		SimStart:   rec.SimStart,
		SimStop:    rec.SimStop,
		Assessment: d.opts.Assessments[rec.AssessmentID],
	}, nil
}

// apply persists an Outcome and drops the registry entry of a finished worker.
func (d *Dispatcher) apply(ctx context.Context, c cycle, rec store.JobRecord, w *supervisor.Worker, out supervisor.Outcome) {
	if out.Terminal() {
		d.reg.Remove(w.JobID)
	}
	if st, ok := out.Status(); ok {
		d.write(ctx, c, rec, st, out.Reason)
	}
}

// write persists st for rec. Failures are logged and otherwise ignored so the
// rest of the cycle still runs.
func (d *Dispatcher) write(ctx context.Context, c cycle, rec store.JobRecord, st status.Status, reason string) {
	logger := log.WithJob(rec.ID).With("cycle_id", c.id)

	if err := d.store.UpdateStatus(ctx, rec.ID, st); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			logger.Warn("job vanished from job table", "status", st.String())
			return
		}
		logger.Error("failed to write job status", "status", st.String(), "error", err)
		if aerr := d.opts.ErrorLog.Append(fmt.Sprintf("failed to write status %s for job %s: %v", st, rec.ID, err)); aerr != nil {
			logger.Error("failed to append to admin error log", "error", aerr)
		}
		return
	}

	from := "malformed"
	if rec.StatusErr == nil {
		from = rec.Status.String()
	}
	logger.Info("job status updated", "from", from, "to", st.String(), "code", st.Code())
	d.opts.Events.Publish(events.TypeTransition, events.Transition{
		JobID: rec.ID, CycleID: c.id, From: from, To: st.String(), Code: st.Code(), Reason: reason,
	})
}

func (d *Dispatcher) shutdown() {
	ids := d.reg.IDs()
	if len(ids) == 0 {
		return
	}
	d.logger.Info("terminating workers", "count", len(ids))
	for _, id := range ids {
		if w, ok := d.reg.Get(id); ok {
			d.sup.Terminate(w)
		}
		d.reg.Remove(id)
	}
	d.mu.Lock()
	d.workers = nil
	d.mu.Unlock()
}

// Workers returns the registry snapshot published by the last cycle.
func (d *Dispatcher) Workers() []supervisor.Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]supervisor.Info, len(d.workers))
	copy(out, d.workers)
	return out
}

// LastCycle returns the summary of the most recent cycle, if any has run.
func (d *Dispatcher) LastCycle() (events.CycleSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastCycle, d.cycles > 0
}

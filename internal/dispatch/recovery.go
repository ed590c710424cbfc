package dispatch

import (
	"context"

	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/store"
	"github.com/mattjoyce/simdispatch/internal/supervisor"
)

// recoverOrphan handles a job the table shows as started but which has no worker
// here, typically because a previous dispatcher instance died. Workers are
// restartable, so the job simply starts again unless an operator has asked
// for it to be killed.
func (d *Dispatcher) recoverOrphan(ctx context.Context, c cycle, rec store.JobRecord) error {
	logger := log.WithJob(rec.ID).With("cycle_id", c.id)

	if d.ws.KillRequested(rec.ID) {
		logger.Warn("kill file present for orphaned job, marking error")
		d.write(ctx, c, rec, status.Error, "kill file")
		return nil
	}

	logger.Warn("restarting orphaned job", "persisted", rec.Status.String())
	return d.start(ctx, c, rec)
}

// killed applies the admin override for a registered job. It reports whether
// the kill file was found and the worker disposed of.
func (d *Dispatcher) killed(ctx context.Context, c cycle, rec store.JobRecord, w *supervisor.Worker) bool {
	if !d.ws.KillRequested(rec.ID) {
		return false
	}
	log.WithJob(rec.ID).Warn("kill file detected, killing worker", "cycle_id", c.id, "milestone", w.LastMilestone())
	d.sup.ForceKill(w)
	d.reg.Remove(rec.ID)
	d.write(ctx, c, rec, status.Error, "kill file")
	return true
}

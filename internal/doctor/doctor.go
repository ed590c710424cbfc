// Package doctor runs the preflight checks simdispatch performs before it
// starts dispatching, and backs the --check flag.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/simdispatch/internal/config"
	"github.com/mattjoyce/simdispatch/internal/lock"
	"github.com/mattjoyce/simdispatch/internal/storage"
)

// Directories of the shared folder the reference worker reads from.
const (
	AssessmentsDir = "assessments"
	ModelsDir      = "Models"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Pinger checks the job table is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Doctor validates a loaded configuration against the host it runs on.
type Doctor struct {
	cfg       *config.Config
	shareDir  string
	lookPath  func(string) (string, error)
	inspectFS func(string) (storage.Filesystem, error)
}

// New creates a Doctor for cfg serving shareDir.
func New(cfg *config.Config, shareDir string) *Doctor {
	return &Doctor{cfg: cfg, shareDir: shareDir, lookPath: exec.LookPath, inspectFS: storage.InspectFilesystem}
}

// Validate runs all checks. store may be nil, which skips the reachability
// check. An unreachable store is a warning: the loop retries every cycle.
func (d *Doctor) Validate(ctx context.Context, store Pinger) *Result {
	r := &Result{Valid: true}

	d.validateShareDir(r)
	d.validateWorker(r)
	d.validateJobsDir(r)
	d.validateStatusListen(r)
	d.warnShareFilesystem(r)
	d.warnAssessments(r)
	d.warnAdminLog(r)
	d.warnInterval(r)
	if store != nil {
		d.warnStore(ctx, r, store)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateShareDir(r *Result) {
	info, err := os.Stat(d.shareDir)
	if err != nil {
		d.addError(r, "share", "", fmt.Sprintf("shared folder %s: %v", d.shareDir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "share", "", fmt.Sprintf("shared folder %s is not a directory", d.shareDir))
	}
}

// validateWorker checks the worker command resolves to an executable.
func (d *Doctor) validateWorker(r *Result) {
	path, err := d.lookPath(d.cfg.Worker.Command)
	if err != nil {
		d.addError(r, "worker", "worker.command",
			fmt.Sprintf("worker command %q not found or not executable: %v", d.cfg.Worker.Command, err))
		return
	}
	d.cfg.Worker.Command = path
}

// validateJobsDir creates the jobs directory if needed and checks it for
// write access.
func (d *Doctor) validateJobsDir(r *Result) {
	dir := d.cfg.Jobs.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "jobs", "jobs.dir", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		d.addError(r, "jobs", "jobs.dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}

func (d *Doctor) validateStatusListen(r *Result) {
	if d.cfg.Status.Listen == "" {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.Status.Listen); err != nil {
		d.addError(r, "status", "status.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Status.Listen, err))
	}
}

// warnShareFilesystem flags a shared folder on a network filesystem, where the
// flock guarding against a second dispatcher may not be honoured.
func (d *Doctor) warnShareFilesystem(r *Result) {
	if _, err := os.Stat(d.shareDir); err != nil {
		return
	}
	fs, err := d.inspectFS(d.shareDir)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
		return
	case err != nil:
		d.addWarning(r, "share", "", fmt.Sprintf("cannot determine filesystem of %s: %v", d.shareDir, err))
	case fs.Remote:
		d.addWarning(r, "share", "",
			fmt.Sprintf("shared folder %s is on %s; the lock on %s may not stop a second dispatcher on another host",
				d.shareDir, fs.Type, lock.FileName))
	}
}

// warnAssessments flags assessments the reference worker could not run.
// Other workers may resolve them differently, so these are warnings.
func (d *Doctor) warnAssessments(r *Result) {
	base := filepath.Join(d.shareDir, AssessmentsDir)
	for i, name := range d.cfg.Assessments {
		if name == "" || name == "wireframe" {
			continue
		}
		if _, err := os.Stat(filepath.Join(base, name)); err != nil {
			d.addWarning(r, "assessments", fmt.Sprintf("assessments[%d]", i),
				fmt.Sprintf("no program for %q in %s", name, base))
		}
	}
	if _, err := os.Stat(filepath.Join(d.shareDir, ModelsDir)); err != nil {
		d.addWarning(r, "assessments", "", fmt.Sprintf("models directory %s missing", filepath.Join(d.shareDir, ModelsDir)))
	}
}

func (d *Doctor) warnAdminLog(r *Result) {
	if d.cfg.Admin.ErrorLog == "" {
		d.addWarning(r, "admin", "admin.error_log", "no admin error log configured; zombie alerts go to the service log only")
		return
	}
	if _, err := os.Stat(filepath.Dir(d.cfg.Admin.ErrorLog)); err != nil {
		d.addWarning(r, "admin", "admin.error_log",
			fmt.Sprintf("directory of %s does not exist", d.cfg.Admin.ErrorLog))
	}
}

func (d *Doctor) warnInterval(r *Result) {
	minimum := time.Duration(d.cfg.Supervisor.CancelAttempts) * d.cfg.Supervisor.CancelPoll
	if d.cfg.Service.Interval < minimum {
		d.addWarning(r, "service", "service.interval",
			fmt.Sprintf("interval %s is shorter than the worst-case cancel wait %s", d.cfg.Service.Interval, minimum))
	}
}

func (d *Doctor) warnStore(ctx context.Context, r *Result, store Pinger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		d.addWarning(r, "store", "store.dsn", fmt.Sprintf("%s job table unreachable: %v", d.cfg.Store.Driver, err))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

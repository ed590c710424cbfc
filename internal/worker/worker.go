// Package worker implements the worker side of the dispatch contract: one
// process per job that runs an assessment program and reports progress on
// the inherited progress pipe.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/simdispatch/internal/config"
	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

// Milestones the worker reports itself. The assessment program reports the
// ones in between through the progress file.
const (
	MilestoneStarted   = 1
	MilestoneAssessing = 2
	MilestoneUploading = 9

	maxAssessmentMilestone = MilestoneUploading - 1
)

// Wireframe is the dummy assessment: it renders the model and is always
// compliant.
const Wireframe = "wireframe"

// Shared folder layout.
const (
	AssessmentsDir = "assessments"
	ModelsDir      = "Models"
	ResultsDir     = "Results"
	modelDir       = "model"
)

// DefaultPollInterval is how often the progress file is read.
const DefaultPollInterval = time.Second

// Params is one job as passed on the worker command line.
type Params struct {
	JobID      string
	ShareDir   string
	JobDir     string
	Model      string
	Building   string
	Estate     string
	SimStart   string
	SimStop    string
	Assessment string
	Debug      bool
}

// Validate reports the first missing parameter.
func (p Params) Validate() error {
	required := []struct{ name, value string }{
		{"job-id", p.JobID},
		{"share-dir", p.ShareDir},
		{"job-dir", p.JobDir},
		{"model", p.Model},
		{"assessment", p.Assessment},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("--%s is required", r.name)
		}
	}
	return nil
}

// Reporter receives progress. protocol.Sender implements it.
type Reporter interface {
	Milestone(m int) error
	Finish(r status.Result) error
}

// Runner executes one job.
type Runner struct {
	Params Params

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Output receives the assessment program's stdout and stderr.
	Output io.Writer

	reporter Reporter
	logger   *slog.Logger
}

// New creates a Runner for p reporting to rep.
func New(p Params, rep Reporter) *Runner {
	return &Runner{
		Params:       p,
		PollInterval: DefaultPollInterval,
		Output:       io.Discard,
		reporter:     rep,
		logger:       log.WithJob(p.JobID).With("component", "worker"),
	}
}

func (r *Runner) ws() workspace.Workspace {
	return workspace.Workspace{JobID: r.Params.JobID, Dir: r.Params.JobDir}
}

// Run carries the job from milestone 1 to the terminal pair. A non-nil error
// means the job failed and nothing terminal was sent. Cancelling ctx kills the
// assessment program.
func (r *Runner) Run(ctx context.Context) (status.Result, error) {
	if err := r.Params.Validate(); err != nil {
		return 0, err
	}
	ws := r.ws()

	for _, dir := range []string{ws.Outputs(), ws.Tmp()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	modelPath, digest, err := r.fetchModel()
	if err != nil {
		return 0, err
	}
	r.logger.Info("model copied", "model", r.Params.Model, "blake3", digest)

	if err := r.reporter.Milestone(MilestoneStarted); err != nil {
		return 0, fmt.Errorf("report progress: %w", err)
	}

	program := filepath.Join(r.Params.ShareDir, AssessmentsDir, r.Params.Assessment)
	if info, err := os.Stat(program); err != nil || info.IsDir() {
		return 0, fmt.Errorf("assessment program %q not found", program)
	}

	if err := r.reporter.Milestone(MilestoneAssessing); err != nil {
		return 0, fmt.Errorf("report progress: %w", err)
	}
	if err := r.assess(ctx, program, modelPath); err != nil {
		return 0, err
	}

	result := status.Compliant
	if r.Params.Assessment != Wireframe {
		result, err = ReadFlag(ws.FlagPath())
		if err != nil {
			return 0, err
		}
	}

	if err := r.reporter.Milestone(MilestoneUploading); err != nil {
		return 0, fmt.Errorf("report progress: %w", err)
	}
	dest := filepath.Join(r.Params.ShareDir, ResultsDir, r.Params.JobID)
	if err := publish(ws.Outputs(), dest); err != nil {
		return 0, fmt.Errorf("publish results: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := r.reporter.Finish(result); err != nil {
		return 0, fmt.Errorf("report result: %w", err)
	}
	r.logger.Info("job finished", "result", result.String(), "results", dest)
	return result, nil
}

// fetchModel copies the model archive into the working directory and returns
// its path there and its BLAKE3 digest.
func (r *Runner) fetchModel() (string, string, error) {
	name := filepath.Base(r.Params.Model)
	src := filepath.Join(r.Params.ShareDir, ModelsDir, name)
	dst := filepath.Join(r.Params.JobDir, modelDir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", "", fmt.Errorf("create model dir: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return "", "", fmt.Errorf("copy model %s: %w", name, err)
	}
	digest, err := config.ComputeBlake3Hash(dst)
	if err != nil {
		return "", "", fmt.Errorf("hash model %s: %w", name, err)
	}
	return dst, digest, nil
}

// assessArgs is the assessment program command line.
func (r *Runner) assessArgs(modelPath string) []string {
	return []string{
		"-d", workspace.TmpDir,
		"-o", workspace.OutputsDir,
		"-s", r.Params.SimStart,
		"-e", r.Params.SimStop,
		"-b", r.Params.Building,
		"-E", r.Params.Estate,
		modelPath,
	}
}

// assess runs the assessment program and forwards its progress until it
// exits. The program stays in the worker's process group, so a group kill
// from the dispatcher reaches it too.
func (r *Runner) assess(ctx context.Context, program, modelPath string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, program, r.assessArgs(modelPath)...)
	cmd.Dir = r.Params.JobDir
	cmd.Stdout = r.Output
	cmd.Stderr = io.MultiWriter(r.Output, &stderr)
	cmd.WaitDelay = 5 * time.Second

	r.logger.Debug("running assessment", "program", program, "args", cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start assessment: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	progress := r.ws().ProgressPath()
	for {
		select {
		case err := <-done:
			// The last value may have been written just before exit.
			r.forward(progress)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				return fmt.Errorf("assessment failed: %w: %s", err, strings.TrimSpace(stderr.String()))
			}
			return nil
		case <-ticker.C:
			r.forward(progress)
		}
	}
}

// forward reports the current progress file value. Unreadable or out of
// range values are skipped; the Reporter drops anything not higher than
// what was already sent.
func (r *Runner) forward(path string) {
	m, err := ReadProgress(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("unreadable progress file", "error", err)
		}
		return
	}
	if m < MilestoneAssessing || m > maxAssessmentMilestone {
		r.logger.Debug("progress value outside assessment range", "value", m)
		return
	}
	if err := r.reporter.Milestone(m); err != nil {
		r.logger.Warn("failed to report progress", "milestone", m, "error", err)
	}
}

// ReadProgress returns the last integer in the progress file.
func ReadProgress(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	last := ""
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if last == "" {
		return 0, fmt.Errorf("progress file %s is empty", path)
	}
	m, err := strconv.Atoi(last)
	if err != nil {
		return 0, fmt.Errorf("progress file %s: %w", path, err)
	}
	return m, nil
}

// ReadFlag reads the compliance classification an assessment left in path:
// the first non-empty line, 0 to 3.
func ReadFlag(path string) (status.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read compliance flag: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("unrecognised compliance flag %q", line)
		}
		r, err := status.ParseResult(v)
		if err != nil {
			return 0, fmt.Errorf("unrecognised compliance flag %q: %w", line, err)
		}
		return r, nil
	}
	return 0, fmt.Errorf("compliance flag file %s is empty", path)
}

// WriteErrorFile records why a job failed, for the operator.
func WriteErrorFile(ws workspace.Workspace, msg string, at time.Time) error {
	body := fmt.Sprintf("job: %s\ntime: %s\nerror: %s\n", ws.JobID, at.UTC().Format(time.RFC3339), msg)
	return os.WriteFile(ws.ErrPath(), []byte(body), 0o644)
}

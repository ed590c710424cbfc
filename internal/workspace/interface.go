package workspace

import (
	"context"
	"path/filepath"
)

// Standard entries of a job working directory.
const (
	OutputsDir   = "outputs"
	TmpDir       = "tmp"
	KillFile     = "kill.it"
	ProgressFile = "progress.txt"
	FlagFile     = "pflag.txt"
	dirPrefix    = "job_"
)

// Workspace describes one job's working directory under the jobs root.
type Workspace struct {
	JobID string
	Dir   string
}

// Outputs is where the assessment program writes its results.
func (w Workspace) Outputs() string { return filepath.Join(w.Dir, OutputsDir) }

// Tmp holds scratch files, including the progress and compliance flag files.
func (w Workspace) Tmp() string { return filepath.Join(w.Dir, TmpDir) }

// ProgressPath is the file the assessment program appends milestones to.
func (w Workspace) ProgressPath() string { return filepath.Join(w.Tmp(), ProgressFile) }

// FlagPath is the file carrying the compliance flag.
func (w Workspace) FlagPath() string { return filepath.Join(w.Tmp(), FlagFile) }

// KillPath is the admin override marker.
func (w Workspace) KillPath() string { return filepath.Join(w.Dir, KillFile) }

// ErrPath is the worker's failure report.
func (w Workspace) ErrPath() string { return filepath.Join(w.Dir, w.JobID+".err") }

// LogPath receives the worker's stdout and stderr.
func (w Workspace) LogPath() string { return filepath.Join(w.Dir, w.JobID+".log") }

// Manager governs job working directories.
type Manager interface {
	// Prepare creates a fresh working directory for jobID. Any existing
	// directory is removed first.
	Prepare(ctx context.Context, jobID string) (Workspace, error)

	// Open resolves the working directory for jobID without touching disk.
	Open(jobID string) (Workspace, error)

	// KillRequested reports whether the kill file exists for jobID.
	KillRequested(jobID string) bool

	// Remove deletes the working directory for jobID. Missing is not an error.
	Remove(jobID string) error
}

package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsWorkspaceManager manages job working directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("jobs directory is empty")
	}

	return &fsWorkspaceManager{baseDir: filepath.Clean(trimmed)}, nil
}

// Prepare wipes and recreates the working directory for jobID with its
// outputs and tmp subdirectories.
func (m *fsWorkspaceManager) Prepare(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	ws, err := m.Open(jobID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.RemoveAll(ws.Dir); err != nil {
		return Workspace{}, fmt.Errorf("clear working directory for job %q: %w", jobID, err)
	}
	for _, dir := range []string{ws.Outputs(), ws.Tmp()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Workspace{}, fmt.Errorf("create working directory for job %q: %w", jobID, err)
		}
	}

	return ws, nil
}

func (m *fsWorkspaceManager) Open(jobID string) (Workspace, error) {
	if err := validateJobID(jobID); err != nil {
		return Workspace{}, err
	}
	return Workspace{JobID: jobID, Dir: filepath.Join(m.baseDir, dirPrefix+jobID)}, nil
}

func (m *fsWorkspaceManager) KillRequested(jobID string) bool {
	ws, err := m.Open(jobID)
	if err != nil {
		return false
	}
	_, err = os.Stat(ws.KillPath())
	return err == nil
}

func (m *fsWorkspaceManager) Remove(jobID string) error {
	ws, err := m.Open(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("remove working directory for job %q: %w", jobID, err)
	}
	return nil
}

// BaseDir returns the jobs root.
func (m *fsWorkspaceManager) BaseDir() string {
	return m.baseDir
}

func validateJobID(jobID string) error {
	trimmed := strings.TrimSpace(jobID)
	if trimmed == "" {
		return fmt.Errorf("jobID is empty")
	}
	if trimmed != jobID {
		return fmt.Errorf("jobID %q has surrounding whitespace", jobID)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("jobID %q is invalid", jobID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("jobID %q must not contain path separators", jobID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("jobID %q is invalid", jobID)
	}
	return nil
}

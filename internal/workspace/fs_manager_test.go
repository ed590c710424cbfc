package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFSWorkspaceManagerPrepareLayout(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "jobs")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Prepare(context.Background(), "42")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "job_42")
	if ws.Dir != wantPath {
		t.Fatalf("Prepare() dir = %q, want %q", ws.Dir, wantPath)
	}
	for _, dir := range []string{ws.Outputs(), ws.Tmp()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
	if got := ws.ErrPath(); got != filepath.Join(wantPath, "42.err") {
		t.Fatalf("ErrPath() = %q", got)
	}
	if got := ws.ProgressPath(); got != filepath.Join(wantPath, "tmp", "progress.txt") {
		t.Fatalf("ProgressPath() = %q", got)
	}
}

func TestFSWorkspaceManagerPrepareWipesExisting(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Prepare(context.Background(), "7")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	stale := filepath.Join(ws.Outputs(), "stale.csv")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := mgr.Prepare(context.Background(), "7"); err != nil {
		t.Fatalf("Prepare() again error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale output survived Prepare(): %v", err)
	}
}

func TestFSWorkspaceManagerKillFileAndRemove(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Prepare(context.Background(), "9")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if mgr.KillRequested("9") {
		t.Fatalf("KillRequested() = true before kill file exists")
	}
	if err := os.WriteFile(ws.KillPath(), nil, 0o644); err != nil {
		t.Fatalf("WriteFile(kill.it) error = %v", err)
	}
	if !mgr.KillRequested("9") {
		t.Fatalf("KillRequested() = false with kill file present")
	}

	if err := mgr.Remove("9"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("working directory still exists: %v", err)
	}
	if err := mgr.Remove("9"); err != nil {
		t.Fatalf("Remove() of missing dir error = %v", err)
	}
}

func TestFSWorkspaceManagerRejectsInvalidJobIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, id := range []string{"", " ", "..", "a/b", `a\b`, " 1"} {
		if _, err := mgr.Prepare(context.Background(), id); err == nil {
			t.Fatalf("Prepare(%q) expected error", id)
		}
		if mgr.KillRequested(id) {
			t.Fatalf("KillRequested(%q) = true", id)
		}
	}
}

func TestFSWorkspaceManagerPrepareHonorsContext(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mgr.Prepare(ctx, "1"); err == nil {
		t.Fatalf("Prepare() with canceled context expected error")
	}
}

func TestNewFSManagerRejectsEmptyBase(t *testing.T) {
	if _, err := NewFSManager("  "); err == nil {
		t.Fatalf("NewFSManager() expected error for empty base")
	}
}

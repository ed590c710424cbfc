package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	share := t.TempDir()

	cfg, err := Load("", share)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", cfg.Service.Interval)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.DSN != filepath.Join(share, "simdispatch.db") {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Jobs.Dir != filepath.Join(share, "jobs") {
		t.Errorf("jobs.dir = %q", cfg.Jobs.Dir)
	}
	if len(cfg.Assessments) != 5 || cfg.Assessments[0] != "wireframe" {
		t.Errorf("assessments = %v", cfg.Assessments)
	}
	if cfg.SourcePath != "" {
		t.Errorf("SourcePath = %q, want empty", cfg.SourcePath)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, share string, cfg *Config)
	}{
		{
			name: "overrides merge onto defaults",
			yaml: `
service:
  interval: 30s
  log_level: debug
jobs:
  dir: work
worker:
  command: bin/simworker
  args: ["--verbose"]
supervisor:
  done_grace: 1s
status:
  listen: 127.0.0.1:9090
`,
			checkFn: func(t *testing.T, share string, cfg *Config) {
				if cfg.Service.Interval != 30*time.Second {
					t.Error("interval not parsed")
				}
				if cfg.Service.LogFormat != "json" {
					t.Error("log_format default lost")
				}
				if cfg.Jobs.Dir != filepath.Join(share, "work") {
					t.Errorf("jobs.dir not anchored: %q", cfg.Jobs.Dir)
				}
				if cfg.Worker.Command != filepath.Join(share, "bin/simworker") {
					t.Errorf("worker.command not anchored: %q", cfg.Worker.Command)
				}
				if len(cfg.Worker.Args) != 1 || cfg.Worker.Args[0] != "--verbose" {
					t.Errorf("worker.args = %v", cfg.Worker.Args)
				}
				if cfg.Supervisor.DoneGrace != time.Second || cfg.Supervisor.CancelAttempts != 50 {
					t.Errorf("supervisor = %+v", cfg.Supervisor)
				}
				if cfg.Status.Listen != "127.0.0.1:9090" {
					t.Error("status.listen not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
store:
  driver: mysql
  dsn: apass:${DB_PASSWORD}@tcp(db:3306)/apass
`,
			env: map[string]string{"DB_PASSWORD": "s3cret"},
			checkFn: func(t *testing.T, share string, cfg *Config) {
				if cfg.Store.DSN != "apass:s3cret@tcp(db:3306)/apass" {
					t.Errorf("dsn = %q", cfg.Store.DSN)
				}
			},
		},
		{
			name: "unresolved env var",
			yaml: `
store:
  driver: postgres
  dsn: postgres://sim:${SIMDISPATCH_TEST_UNSET_PW}@db/sim
`,
			wantErr: "SIMDISPATCH_TEST_UNSET_PW",
		},
		{
			name:    "unknown driver",
			yaml:    "store:\n  driver: oracle\n",
			wantErr: "store.driver",
		},
		{
			name:    "zero interval",
			yaml:    "service:\n  interval: 0s\n",
			wantErr: "service.interval",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "duplicate assessment",
			yaml:    "assessments: [wireframe, visual_comfort, wireframe]\n",
			wantErr: "duplicates",
		},
		{
			name: "retired assessment index",
			yaml: "assessments: [wireframe, \"\", visual_comfort]\n",
			checkFn: func(t *testing.T, share string, cfg *Config) {
				if len(cfg.Assessments) != 3 || cfg.Assessments[1] != "" {
					t.Errorf("assessments = %q", cfg.Assessments)
				}
			},
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			share := t.TempDir()
			writeConfig(t, share, tt.yaml)

			cfg, err := Load("", share)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.SourcePath == "" {
				t.Error("SourcePath not set")
			}
			if tt.checkFn != nil {
				tt.checkFn(t, share, cfg)
			}
		})
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

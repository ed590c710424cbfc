package config

import (
	"path/filepath"
	"time"
)

// DefaultFileName is looked up in the shared folder when no --config is given.
const DefaultFileName = "simdispatch.yaml"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config represents the complete simdispatch configuration.
type Config struct {
	Service     ServiceConfig    `yaml:"service"`
	Store       StoreConfig      `yaml:"store"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Worker      WorkerConfig     `yaml:"worker"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Assessments []string         `yaml:"assessments"`
	Status      StatusConfig     `yaml:"status,omitempty"`
	Admin       AdminConfig      `yaml:"admin"`

	// SourcePath is the file the config was read from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Interval  time.Duration `yaml:"interval"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
}

// StoreConfig selects the job table backend. For sqlite the DSN is a path.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// JobsConfig locates the per-job working directories.
type JobsConfig struct {
	Dir string `yaml:"dir"`
}

// WorkerConfig is the command launched once per job.
type WorkerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// SupervisorConfig holds the bounded waits of worker supervision.
type SupervisorConfig struct {
	CancelPoll     time.Duration `yaml:"cancel_poll"`
	CancelAttempts int           `yaml:"cancel_attempts"`
	DoneGrace      time.Duration `yaml:"done_grace"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// StatusConfig enables the read-only HTTP status server when Listen is set.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// AdminConfig defines where operator alerts go.
type AdminConfig struct {
	ErrorLog string `yaml:"error_log"`
}

// DefaultAssessments is the assessment table of the platform, by index.
func DefaultAssessments() []string {
	return []string{
		"wireframe",
		"ISO7730_thermal_comfort",
		"visual_comfort",
		"indoor_air_quality",
		"CIBSE_thermal_comfort",
	}
}

// Defaults returns a Config rooted at shareDir.
func Defaults(shareDir string) *Config {
	return &Config{
		Service: ServiceConfig{
			Interval:  15 * time.Second,
			LogLevel:  "info",
			LogFormat: "json",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    filepath.Join(shareDir, "simdispatch.db"),
		},
		Jobs: JobsConfig{
			Dir: filepath.Join(shareDir, "jobs"),
		},
		Worker: WorkerConfig{
			Command: "simworker",
		},
		Supervisor: SupervisorConfig{
			CancelPoll:     100 * time.Millisecond,
			CancelAttempts: 50,
			DoneGrace:      500 * time.Millisecond,
			DrainTimeout:   2 * time.Second,
		},
		Assessments: DefaultAssessments(),
		Admin: AdminConfig{
			ErrorLog: filepath.Join(shareDir, "simdispatch_errors_cur.txt"),
		},
	}
}

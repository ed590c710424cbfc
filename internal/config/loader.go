package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the configuration for the dispatcher serving shareDir.
//
// With an empty configPath the default file in shareDir is used if present,
// and defaults otherwise. An explicit configPath must exist. The file is
// verified against the .checksums manifest next to it, if there is one.
func Load(configPath, shareDir string) (*Config, error) {
	cfg := Defaults(shareDir)

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(shareDir, DefaultFileName)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	default:
		if err := verifyChecksum(filepath.Dir(absPath), filepath.Base(absPath), data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
	}

	resolvePaths(cfg, shareDir)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolvePaths anchors relative paths at the shared folder.
func resolvePaths(cfg *Config, shareDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(shareDir, p)
	}
	cfg.Jobs.Dir = abs(cfg.Jobs.Dir)
	cfg.Admin.ErrorLog = abs(cfg.Admin.ErrorLog)
	if cfg.Store.Driver == DriverSQLite {
		cfg.Store.DSN = abs(cfg.Store.DSN)
	}
	// A bare command name is looked up on PATH; only path-like values are
	// anchored.
	if strings.ContainsRune(cfg.Worker.Command, filepath.Separator) {
		cfg.Worker.Command = abs(cfg.Worker.Command)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.Interval <= 0 {
		return fmt.Errorf("service.interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.Store.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("store.driver must be one of: sqlite, mysql, postgres (got %q)", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if err := checkUnresolved("store.dsn", cfg.Store.DSN); err != nil {
		return err
	}

	if cfg.Jobs.Dir == "" {
		return fmt.Errorf("jobs.dir is required")
	}
	if cfg.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if err := checkUnresolved("worker.command", cfg.Worker.Command); err != nil {
		return err
	}
	for i, arg := range cfg.Worker.Args {
		if err := checkUnresolved(fmt.Sprintf("worker.args[%d]", i), arg); err != nil {
			return err
		}
	}

	if cfg.Supervisor.CancelPoll <= 0 {
		return fmt.Errorf("supervisor.cancel_poll must be positive")
	}
	if cfg.Supervisor.CancelAttempts <= 0 {
		return fmt.Errorf("supervisor.cancel_attempts must be positive")
	}
	if cfg.Supervisor.DoneGrace <= 0 {
		return fmt.Errorf("supervisor.done_grace must be positive")
	}
	if cfg.Supervisor.DrainTimeout <= 0 {
		return fmt.Errorf("supervisor.drain_timeout must be positive")
	}

	if len(cfg.Assessments) == 0 {
		return fmt.Errorf("assessments must list at least one assessment")
	}
	seen := make(map[string]int)
	for i, name := range cfg.Assessments {
		if name == "" {
			continue // retired index
		}
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("assessments[%d]: %q must be a plain name", i, name)
		}
		if j, dup := seen[name]; dup {
			return fmt.Errorf("assessments[%d]: %q duplicates assessments[%d]", i, name, j)
		}
		seen[name] = i
	}

	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

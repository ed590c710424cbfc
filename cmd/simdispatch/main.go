package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/simdispatch/internal/api"
	"github.com/mattjoyce/simdispatch/internal/config"
	"github.com/mattjoyce/simdispatch/internal/dispatch"
	"github.com/mattjoyce/simdispatch/internal/doctor"
	"github.com/mattjoyce/simdispatch/internal/events"
	"github.com/mattjoyce/simdispatch/internal/lock"
	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/store"
	"github.com/mattjoyce/simdispatch/internal/store/pgstore"
	"github.com/mattjoyce/simdispatch/internal/store/sqlstore"
	"github.com/mattjoyce/simdispatch/internal/supervisor"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

const version = "0.3.0"

// eventBuffer is how many events the status server can replay.
const eventBuffer = 256

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	debug        bool
	configPath   string
	statusListen string
	check        bool
	hashUpdate   bool
	version      bool

	shareDir string
	interval time.Duration
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, `simdispatch - simulation job dispatcher

Usage:
  simdispatch [flags] <shared-folder> [interval-seconds]

Polls the job table every interval (default 15s), starts a worker per
pending job, tracks progress and cancellations, and writes statuses back.

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func parseArgs(args []string, stderr io.Writer) (*options, int, bool) {
	opts := &options{}
	fs := flag.NewFlagSet("simdispatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.debug, "d", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging of every cycle and job")
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration file (default <shared-folder>/"+config.DefaultFileName+")")
	fs.StringVar(&opts.statusListen, "status-listen", "", "Serve the read-only status API on this address")
	fs.BoolVar(&opts.check, "check", false, "Run the preflight checks, print a report and exit")
	fs.BoolVar(&opts.hashUpdate, "hash-update", false, "Record the configuration file's BLAKE3 digest in .checksums and exit")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stderr, fs)
			return nil, 0, false
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr, fs)
		return nil, 1, false
	}
	if opts.version {
		return opts, 0, true
	}

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		fmt.Fprintln(stderr, "Error: expected <shared-folder> [interval-seconds]")
		printUsage(stderr, fs)
		return nil, 1, false
	}

	shareDir, err := filepath.Abs(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid shared folder %q: %v\n", rest[0], err)
		return nil, 1, false
	}
	opts.shareDir = shareDir

	if len(rest) == 2 {
		secs, err := strconv.ParseFloat(rest[1], 64)
		interval := time.Duration(secs * float64(time.Second))
		if err != nil || math.IsNaN(secs) || secs > math.MaxInt64/float64(time.Second) || interval <= 0 {
			fmt.Fprintf(stderr, "Error: interval must be a positive number of seconds, got %q\n", rest[1])
			return nil, 1, false
		}
		opts.interval = interval
	}
	return opts, 0, true
}

// run is main without the exit, for tests.
func run(args []string, stdout, stderr io.Writer) int {
	opts, code, ok := parseArgs(args, stderr)
	if !ok {
		return code
	}
	if opts.version {
		fmt.Fprintf(stdout, "simdispatch version %s\n", version)
		return 0
	}
	if opts.hashUpdate {
		return runHashUpdate(opts, stdout, stderr)
	}

	cfg, err := config.Load(opts.configPath, opts.shareDir)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	applyOverrides(cfg, opts)

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open job table: %v\n", err)
		return 1
	}
	defer st.Close()

	report := doctor.New(cfg, opts.shareDir).Validate(ctx, st)
	if opts.check {
		fmt.Fprint(stdout, doctor.FormatHuman(report))
		if !report.Valid {
			return 1
		}
		return 0
	}
	if !report.Valid {
		fmt.Fprint(stderr, doctor.FormatHuman(report))
		return 1
	}
	for _, w := range report.Warnings {
		logger.Warn("preflight", "category", w.Category, "field", w.Field, "message", w.Message)
	}

	pidLock, err := lock.Acquire(opts.shareDir)
	if err != nil {
		logger.Error("failed to acquire PID lock", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	if err := serve(ctx, cfg, opts, st); err != nil {
		logger.Error("simdispatch stopped", "error", err)
		return 1
	}
	logger.Info("simdispatch stopped")
	return 0
}

func applyOverrides(cfg *config.Config, opts *options) {
	if opts.interval > 0 {
		cfg.Service.Interval = opts.interval
	}
	if opts.statusListen != "" {
		cfg.Status.Listen = opts.statusListen
	}
	if opts.debug {
		cfg.Service.LogLevel = "debug"
	}
}

// jobStore is a store the preflight can ping.
type jobStore interface {
	store.Store
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config) (jobStore, error) {
	if cfg.Store.Driver == config.DriverPostgres {
		st, err := pgstore.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// serve runs the dispatch loop, and the status server if configured, until
// ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, opts *options, st store.Store) error {
	logger := log.WithComponent("main")

	ws, err := workspace.NewFSManager(cfg.Jobs.Dir)
	if err != nil {
		return fmt.Errorf("jobs directory: %w", err)
	}
	errorLog := log.NewErrorLog(cfg.Admin.ErrorLog)
	hub := events.NewHub(eventBuffer)

	sup := supervisor.New(supervisor.Config{
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		ShareDir:       opts.shareDir,
		Debug:          opts.debug,
		CancelPoll:     cfg.Supervisor.CancelPoll,
		CancelAttempts: cfg.Supervisor.CancelAttempts,
		DoneGrace:      cfg.Supervisor.DoneGrace,
		DrainTimeout:   cfg.Supervisor.DrainTimeout,
	}, ws, errorLog)

	disp := dispatch.New(st, sup, ws, dispatch.Options{
		Interval:    cfg.Service.Interval,
		Assessments: cfg.Assessments,
		Events:      hub,
		ErrorLog:    errorLog,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := disp.Run(gctx); err != nil {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})

	if cfg.Status.Listen != "" {
		srv := api.New(api.Config{Listen: cfg.Status.Listen, Interval: cfg.Service.Interval},
			disp, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	logger.Info("simdispatch running",
		"version", version,
		"share_dir", opts.shareDir,
		"config", cfg.SourcePath,
		"store", cfg.Store.Driver,
		"interval", cfg.Service.Interval.String(),
		"worker", cfg.Worker.Command,
	)
	return g.Wait()
}

func runHashUpdate(opts *options, stdout, stderr io.Writer) int {
	path := opts.configPath
	if path == "" {
		path = filepath.Join(opts.shareDir, config.DefaultFileName)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	dir, name := filepath.Dir(abs), filepath.Base(abs)
	if err := config.WriteChecksums(dir, name); err != nil {
		fmt.Fprintf(stderr, "Failed to update checksums: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Updated %s\n", filepath.Join(dir, config.ChecksumFileName))
	return 0
}

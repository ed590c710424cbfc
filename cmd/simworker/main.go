// Command simworker runs one simulation job for simdispatch. It expects the
// write end of the progress pipe on file descriptor 3.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/protocol"
	"github.com/mattjoyce/simdispatch/internal/worker"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

const version = "0.3.0"

// sender is the worker's end of the progress channel.
type sender interface {
	worker.Reporter
	Close() error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, func() (sender, error) {
		return protocol.OpenSender()
	}))
}

func parseParams(args []string, stderr io.Writer) (worker.Params, bool, error) {
	var (
		p           worker.Params
		showVersion bool
	)
	fs := flag.NewFlagSet("simworker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&p.JobID, "job-id", "", "Job identifier")
	fs.StringVar(&p.ShareDir, "share-dir", "", "Shared folder")
	fs.StringVar(&p.JobDir, "job-dir", "", "Working directory of the job")
	fs.StringVar(&p.Model, "model", "", "Model archive name under <share-dir>/Models")
	fs.StringVar(&p.Building, "building", "", "Building name")
	fs.StringVar(&p.Estate, "estate", "", "Estate name")
	fs.StringVar(&p.SimStart, "sim-start", "", "Simulation start date")
	fs.StringVar(&p.SimStop, "sim-stop", "", "Simulation stop date")
	fs.StringVar(&p.Assessment, "assessment", "", "Assessment to run")
	fs.BoolVar(&p.Debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return p, false, err
	}
	if showVersion {
		return p, true, nil
	}
	if fs.NArg() > 0 {
		return p, false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return p, false, p.Validate()
}

func run(args []string, stdout, stderr io.Writer, open func() (sender, error)) int {
	p, showVersion, err := parseParams(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "simworker version %s\n", version)
		return 0
	}

	level := "info"
	if p.Debug {
		level = "debug"
	}
	log.Setup(level, "text")
	logger := log.WithJob(p.JobID).With("component", "simworker")

	ws := workspace.Workspace{JobID: p.JobID, Dir: p.JobDir}
	fail := func(err error) int {
		logger.Error("job failed", "error", err)
		if werr := worker.WriteErrorFile(ws, err.Error(), time.Now()); werr != nil {
			logger.Error("failed to write error file", "path", ws.ErrPath(), "error", werr)
		}
		return 1
	}

	snd, err := open()
	if err != nil {
		return fail(err)
	}
	defer snd.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r := worker.New(p, snd)
	r.Output = stdout
	if _, err := r.Run(ctx); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("terminated by signal: %w", err)
		}
		return fail(err)
	}
	return 0
}

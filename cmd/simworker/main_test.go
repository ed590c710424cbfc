package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/protocol"
	"github.com/mattjoyce/simdispatch/internal/worker"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type job struct {
	share  string
	jobDir string
	args   []string
}

func newJob(t *testing.T, assessment, script string) job {
	t.Helper()
	share := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(share, worker.ModelsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(share, worker.ModelsDir, "office.tar.gz"), []byte("m"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(share, worker.AssessmentsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(share, worker.AssessmentsDir, assessment), []byte("#!/bin/bash\n"+script+"\n"), 0o755))

	jobDir := filepath.Join(share, "jobs", "job_00000005")
	return job{
		share:  share,
		jobDir: jobDir,
		args: []string{
			"--job-id", "00000005",
			"--share-dir", share,
			"--job-dir", jobDir,
			"--model", "office.tar.gz",
			"--building", "office",
			"--estate", "north",
			"--sim-start", "2024-01-01",
			"--sim-stop", "2024-12-31",
			"--assessment", assessment,
		},
	}
}

// runWithPipe runs the worker against a real progress pipe and returns the
// exit code and every line written to it.
func runWithPipe(t *testing.T, args []string) (int, []string) {
	t.Helper()
	pr, pw, err := os.Pipe()
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, func() (sender, error) {
		return protocol.NewSender(pw), nil
	})

	var lines []string
	sc := bufio.NewScanner(pr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	_ = pr.Close()
	return code, lines
}

func TestRunCompletes(t *testing.T) {
	j := newJob(t, "visual_comfort", "echo 1 > tmp/pflag.txt; echo done > outputs/report.pdf")

	code, lines := runWithPipe(t, j.args)
	require.Equal(t, 0, code)
	assert.Equal(t, []string{"1", "2", "9", "0", "1"}, lines)
	assert.FileExists(t, filepath.Join(j.share, worker.ResultsDir, "00000005", "report.pdf"))
	assert.NoFileExists(t, filepath.Join(j.jobDir, "00000005.err"))
}

func TestRunFailureWritesErrorFile(t *testing.T) {
	j := newJob(t, "indoor_air_quality", "echo 'solver diverged' >&2; exit 4")

	code, lines := runWithPipe(t, j.args)
	require.Equal(t, 1, code)
	assert.Equal(t, []string{"1", "2"}, lines)

	b, err := os.ReadFile(filepath.Join(j.jobDir, "00000005.err"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "job: 00000005\n"))
	assert.Contains(t, string(b), "solver diverged")
}

func TestRunUsageErrors(t *testing.T) {
	noSender := func() (sender, error) {
		t.Fatal("sender opened for invalid invocation")
		return nil, nil
	}

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"--job-id", "1"}, &stdout, &stderr, noSender))
	assert.Contains(t, stderr.String(), "--share-dir")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"--nope"}, &stdout, &stderr, noSender))

	stdout.Reset()
	assert.Equal(t, 0, run([]string{"--version"}, &stdout, &stderr, noSender))
	assert.Equal(t, "simworker version "+version+"\n", stdout.String())
}

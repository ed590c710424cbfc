package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/simdispatch/internal/config"
	"github.com/mattjoyce/simdispatch/internal/log"
	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	goleak.VerifyTestMain(m)
}

// recorder behaves like protocol.Sender: milestones that are not higher than
// the last one are dropped.
type recorder struct {
	mu         sync.Mutex
	milestones []int
	finished   bool
	result     status.Result
}

func (r *recorder) Milestone(m int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.milestones); n > 0 && m <= r.milestones[n-1] {
		return nil
	}
	r.milestones = append(r.milestones, m)
	return nil
}

func (r *recorder) Finish(res status.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.result = res
	return nil
}

type fixture struct {
	share  string
	params Params
	rec    *recorder
}

func newFixture(t *testing.T, assessment, script string) *fixture {
	t.Helper()
	share := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(share, ModelsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(share, ModelsDir, "house.tar.gz"), []byte("model bytes"), 0o644))

	if script != "" {
		dir := filepath.Join(share, AssessmentsDir)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, assessment), []byte("#!/bin/bash\n"+script), 0o755))
	}

	return &fixture{
		share: share,
		params: Params{
			JobID:      "00000042",
			ShareDir:   share,
			JobDir:     filepath.Join(share, "jobs", "job_00000042"),
			Model:      "house.tar.gz",
			Building:   "house",
			Estate:     "campus",
			SimStart:   "01/01/2020",
			SimStop:    "31/01/2020",
			Assessment: assessment,
		},
		rec: &recorder{},
	}
}

func (f *fixture) runner() *Runner {
	r := New(f.params, f.rec)
	r.PollInterval = 10 * time.Millisecond
	return r
}

func TestRunWireframe(t *testing.T) {
	f := newFixture(t, Wireframe, `
echo 3 > tmp/progress.txt
sleep 0.2
echo 5 >> tmp/progress.txt
echo picture > outputs/pic.jpg
mkdir -p outputs/views
echo side > outputs/views/side.jpg
`)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Compliant, res)
	assert.Equal(t, []int{1, 2, 3, 5, 9}, f.rec.milestones)
	assert.True(t, f.rec.finished)

	results := filepath.Join(f.share, ResultsDir, f.params.JobID)
	b, err := os.ReadFile(filepath.Join(results, "pic.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "picture\n", string(b))
	assert.FileExists(t, filepath.Join(results, "views", "side.jpg"))
}

func TestRunReadsComplianceFlag(t *testing.T) {
	f := newFixture(t, "visual_comfort", `echo 2 > tmp/pflag.txt`)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.MajorProblem, res)
	assert.Equal(t, status.MajorProblem, f.rec.result)
}

func TestRunPassesJobToAssessment(t *testing.T) {
	f := newFixture(t, Wireframe, `echo "$@" > outputs/args.txt; pwd > outputs/cwd.txt`)

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(f.params.JobDir, workspace.OutputsDir, "args.txt"))
	require.NoError(t, err)
	model := filepath.Join(f.params.JobDir, "model", "house.tar.gz")
	assert.Equal(t, "-d tmp -o outputs -s 01/01/2020 -e 31/01/2020 -b house -E campus "+model, strings.TrimSpace(string(args)))

	cwd, err := os.ReadFile(filepath.Join(f.params.JobDir, workspace.OutputsDir, "cwd.txt"))
	require.NoError(t, err)
	assert.Equal(t, f.params.JobDir, strings.TrimSpace(string(cwd)))

	want, err := config.ComputeBlake3Hash(filepath.Join(f.share, ModelsDir, "house.tar.gz"))
	require.NoError(t, err)
	got, err := config.ComputeBlake3Hash(model)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunIgnoresOutOfRangeProgress(t *testing.T) {
	f := newFixture(t, Wireframe, `echo 11 > tmp/progress.txt; sleep 0.1; echo 9 > tmp/progress.txt; sleep 0.1; echo 4 > tmp/progress.txt`)

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 9}, f.rec.milestones)
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name           string
		assessment     string
		script         string
		mutate         func(p *Params)
		wantErr        string
		wantMilestones []int
	}{
		{
			name:           "assessment exits nonzero",
			assessment:     "visual_comfort",
			script:         "echo 'radiance crashed' >&2; exit 3",
			wantErr:        "radiance crashed",
			wantMilestones: []int{1, 2},
		},
		{
			name:           "assessment program missing",
			assessment:     "visual_comfort",
			wantErr:        "not found",
			wantMilestones: []int{1},
		},
		{
			name:       "model missing",
			assessment: Wireframe,
			script:     "exit 0",
			mutate:     func(p *Params) { p.Model = "absent.tar.gz" },
			wantErr:    "copy model",
		},
		{
			name:           "compliance flag missing",
			assessment:     "indoor_air_quality",
			script:         "exit 0",
			wantErr:        "compliance flag",
			wantMilestones: []int{1, 2},
		},
		{
			name:           "compliance flag unrecognised",
			assessment:     "indoor_air_quality",
			script:         "echo 7 > tmp/pflag.txt",
			wantErr:        "unrecognised compliance flag",
			wantMilestones: []int{1, 2},
		},
		{
			name:       "job id missing",
			assessment: Wireframe,
			script:     "exit 0",
			mutate:     func(p *Params) { p.JobID = "" },
			wantErr:    "--job-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.assessment, tt.script)
			if tt.mutate != nil {
				tt.mutate(&f.params)
			}

			_, err := f.runner().Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.wantMilestones, f.rec.milestones)
			assert.False(t, f.rec.finished)
		})
	}
}

func TestRunCancelKillsAssessment(t *testing.T) {
	f := newFixture(t, "CIBSE_thermal_comfort", "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.runner().Run(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		f.rec.mu.Lock()
		defer f.rec.mu.Unlock()
		return len(f.rec.milestones) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, f.rec.finished)
}

func TestReadProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")

	_, err := ReadProgress(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, os.WriteFile(path, []byte("3\n4\n\n6\n\n"), 0o644))
	m, err := ReadProgress(path)
	require.NoError(t, err)
	assert.Equal(t, 6, m)

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))
	_, err = ReadProgress(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("half\n"), 0o644))
	_, err = ReadProgress(path)
	assert.Error(t, err)
}

func TestReadFlag(t *testing.T) {
	tests := []struct {
		content string
		want    status.Result
		wantErr bool
	}{
		{content: "0\n", want: status.Compliant},
		{content: "\n 1 \nignored\n", want: status.MinorProblem},
		{content: "3", want: status.Advisory},
		{content: "4\n", wantErr: true},
		{content: "yes\n", wantErr: true},
		{content: "", wantErr: true},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "pflag.txt")
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

		got, err := ReadFlag(path)
		if tt.wantErr {
			assert.Error(t, err, "content %q", tt.content)
			continue
		}
		require.NoError(t, err, "content %q", tt.content)
		assert.Equal(t, tt.want, got, "content %q", tt.content)
	}
}

func TestWriteErrorFile(t *testing.T) {
	ws := workspace.Workspace{JobID: "00000042", Dir: t.TempDir()}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, WriteErrorFile(ws, "assessment failed", at))

	b, err := os.ReadFile(filepath.Join(ws.Dir, "00000042.err"))
	require.NoError(t, err)
	assert.Equal(t, "job: 00000042\ntime: 2026-02-03T04:05:06Z\nerror: assessment failed\n", string(b))
}

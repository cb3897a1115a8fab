package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
	"dwsync/internal/repository"
)

// fakeEngine records the order jobs run in and simulates a multi-batch run.
type fakeEngine struct {
	order   []string
	batches map[string]int // job name → batches before the run drains
	calls   int
}

func (f *fakeEngine) RunBatch(_ context.Context, job *domain.Job, runID string, batchNumber int) (*domain.BatchResult, error) {
	f.calls++
	if batchNumber == 1 {
		f.order = append(f.order, job.Name)
		runID = "run-" + job.Name
	}
	total := f.batches[job.Name]
	if total == 0 {
		total = 1
	}
	if batchNumber < total {
		return &domain.BatchResult{RunID: runID, HasMore: true, NextBatch: batchNumber + 1}, nil
	}
	return &domain.BatchResult{RunID: runID, HasMore: false}, nil
}

func seedJobs(t *testing.T, repo *repository.JobRepo, jobs ...domain.Job) {
	t.Helper()
	for i := range jobs {
		require.NoError(t, repo.Put(context.Background(), &jobs[i]))
	}
}

func TestRunAll_DependencyOrder(t *testing.T) {
	t.Parallel()

	repo := repository.NewJobRepo(kv.NewMemoryStore())
	engine := &fakeEngine{}
	d := New(repo, engine, time.Minute, nil)

	seedJobs(t, repo,
		domain.Job{Name: "mirror-a", Type: domain.JobTypeBQToSupabase, Enabled: true},
		domain.Job{Name: "import-sheet", Type: domain.JobTypeSheetsToBQ, Enabled: true},
		domain.Job{Name: "mirror-b", Type: domain.JobTypeBQToSupabase, Enabled: true},
		domain.Job{Name: "disabled", Type: domain.JobTypeSheetsToBQ, Enabled: false},
	)

	require.NoError(t, d.RunAll(context.Background()))

	require.NotEmpty(t, engine.order)
	assert.Equal(t, "import-sheet", engine.order[0], "sheet imports run before warehouse mirrors")
	assert.NotContains(t, engine.order, "disabled")
	assert.Len(t, engine.order, 3)
}

func TestDriveRun_FollowsContinuation(t *testing.T) {
	t.Parallel()

	repo := repository.NewJobRepo(kv.NewMemoryStore())
	engine := &fakeEngine{batches: map[string]int{"orders": 3}}
	d := New(repo, engine, time.Minute, nil)

	job := domain.Job{Name: "orders", Type: domain.JobTypeBQToSupabase, Enabled: true}
	require.NoError(t, d.driveRun(context.Background(), &job))
	assert.Equal(t, 3, engine.calls, "one invocation per batch until hasMore=false")
}

func TestStartAndReload(t *testing.T) {
	t.Parallel()

	repo := repository.NewJobRepo(kv.NewMemoryStore())
	engine := &fakeEngine{}
	d := New(repo, engine, time.Minute, nil)
	t.Cleanup(d.Stop)

	seedJobs(t, repo,
		domain.Job{Name: "a", Enabled: true, CronSchedule: "*/5 * * * *"},
		domain.Job{Name: "b", Enabled: true, CronSchedule: "*/5 * * * *"},
		domain.Job{Name: "c", Enabled: true, CronSchedule: "0 6 * * *"},
		domain.Job{Name: "d", Enabled: true, CronSchedule: "bogus"},
		domain.Job{Name: "e", Enabled: false, CronSchedule: "0 7 * * *"},
	)

	require.NoError(t, d.Start(context.Background()))
	// One entry per distinct valid schedule of an enabled job.
	assert.Len(t, d.entries, 2)

	require.NoError(t, d.Reload(context.Background()))
	assert.Len(t, d.entries, 2)
}

func TestFire_MatchesExpressionExactly(t *testing.T) {
	t.Parallel()

	repo := repository.NewJobRepo(kv.NewMemoryStore())
	engine := &fakeEngine{}
	d := New(repo, engine, time.Minute, nil)

	seedJobs(t, repo,
		domain.Job{Name: "match", Enabled: true, CronSchedule: "*/5 * * * *"},
		domain.Job{Name: "other", Enabled: true, CronSchedule: "0 6 * * *"},
		domain.Job{Name: "off", Enabled: false, CronSchedule: "*/5 * * * *"},
	)

	d.fire("*/5 * * * *")
	assert.Equal(t, []string{"match"}, engine.order)
}

// File: internal/migration/optimizer_test.go
package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -- Mocks --

type mockRepository struct {
	mock.Mock
}

func (r *mockRepository) Hold(ctx context.Context, id int64, until time.Time) error {
	args := r.Called(ctx, id, until)
	return args.Error(0)
}

func (r *mockRepository) UpdateBatchSize(ctx context.Context, id int64, size int) error {
	args := r.Called(ctx, id, size)
	return args.Error(0)
}

func (r *mockRepository) SuccessfulJobs(ctx context.Context, id int64, limit int) ([]Job, error) {
	args := r.Called(ctx, id, limit)
	jobs, _ := args.Get(0).([]Job)
	return jobs, args.Error(1)
}

// -- Helpers --

// jobsTaking builds n finished jobs that each ran for d.
func jobsTaking(n int, d time.Duration) []Job {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := make([]Job, n)
	for i := range jobs {
		start := base.Add(time.Duration(i) * time.Hour)
		end := start.Add(d)
		jobs[i] = Job{ID: int64(i + 1), StartedAt: &start, FinishedAt: &end}
	}
	return jobs
}

func testOptimizerConfig() OptimizerConfig {
	cfg := DefaultOptimizerConfig()
	cfg.NumberOfJobs = 5
	return cfg
}

// -- Test Cases --

func TestSmoothedTimeEfficiency(t *testing.T) {
	interval := 2 * time.Minute

	t.Run("returns false with too few jobs", func(t *testing.T) {
		_, ok := SmoothedTimeEfficiency(jobsTaking(3, time.Minute), interval, 5, 0.2)
		assert.False(t, ok)
	})

	t.Run("uniform jobs yield their efficiency", func(t *testing.T) {
		eff, ok := SmoothedTimeEfficiency(jobsTaking(5, time.Minute), interval, 5, 0.2)
		require.True(t, ok)
		assert.Equal(t, 0.5, eff)
	})

	t.Run("recent jobs weigh more", func(t *testing.T) {
		jobs := append(jobsTaking(1, 2*time.Minute), jobsTaking(1, time.Minute)...)
		eff, ok := SmoothedTimeEfficiency(jobs, interval, 2, 0.2)
		require.True(t, ok)
		// (1.0*1 + 0.5*0.8) / 1.8
		assert.Equal(t, 0.78, eff)
	})

	t.Run("unfinished jobs are skipped", func(t *testing.T) {
		jobs := jobsTaking(2, time.Minute)
		jobs[0].FinishedAt = nil
		eff, ok := SmoothedTimeEfficiency(jobs, interval, 2, 0.2)
		require.True(t, ok)
		assert.Equal(t, 0.5, eff)
	})

	t.Run("no measurable jobs returns false", func(t *testing.T) {
		jobs := []Job{{ID: 1}, {ID: 2}}
		_, ok := SmoothedTimeEfficiency(jobs, interval, 2, 0.2)
		assert.False(t, ok)
	})
}

func TestBatchOptimizer_Optimize(t *testing.T) {
	ctx := context.Background()

	newMigration := func(batch int) *Migration {
		return &Migration{ID: 1, BatchSize: batch, Interval: 2 * time.Minute}
	}

	t.Run("fast jobs grow the batch by at most the multiplier cap", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(5, time.Minute), nil)
		repo.On("UpdateBatchSize", ctx, int64(1), 12000).Return(nil).Once()

		m := newMigration(10000)
		err := NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, 12000, m.BatchSize)
		repo.AssertExpectations(t)
	})

	t.Run("slow jobs shrink the batch", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(5, 4*time.Minute), nil)
		repo.On("UpdateBatchSize", ctx, int64(1), 4750).Return(nil).Once()

		m := newMigration(10000)
		require.NoError(t, NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m))
		assert.Equal(t, 4750, m.BatchSize)
	})

	t.Run("efficiency inside the target range leaves the batch alone", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(5, 111*time.Second), nil)

		m := newMigration(10000)
		require.NoError(t, NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m))
		assert.Equal(t, 10000, m.BatchSize)
		repo.AssertNotCalled(t, "UpdateBatchSize", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not enough history leaves the batch alone", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(2, time.Minute), nil)

		m := newMigration(10000)
		require.NoError(t, NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m))
		repo.AssertNotCalled(t, "UpdateBatchSize", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("batch size is clamped to the migration ceiling", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(5, time.Minute), nil)
		repo.On("UpdateBatchSize", ctx, int64(1), 11000).Return(nil).Once()

		m := newMigration(10000)
		m.MaxBatchSize = 11000
		require.NoError(t, NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m))
		assert.Equal(t, 11000, m.BatchSize)
	})

	t.Run("batch size never drops below the minimum", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(jobsTaking(5, 4*time.Minute), nil)

		m := newMigration(1000)
		require.NoError(t, NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, m))
		assert.Equal(t, 1000, m.BatchSize)
		repo.AssertNotCalled(t, "UpdateBatchSize", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repository errors are wrapped", func(t *testing.T) {
		loadErr := errors.New("statement timeout")
		repo := new(mockRepository)
		repo.On("SuccessfulJobs", ctx, int64(1), 5).Return(nil, loadErr)

		err := NewBatchOptimizer(repo, testOptimizerConfig(), zap.NewNop()).Optimize(ctx, newMigration(10000))
		require.Error(t, err)
		assert.ErrorIs(t, err, loadErr)
		assert.Contains(t, err.Error(), "failed to load jobs for migration 1")
	})
}

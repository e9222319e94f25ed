package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/migration"
	"github.com/xkilldash9x/pacer/internal/partitioning"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakeLister struct {
	records []*migration.Migration
	err     error
}

func (f *fakeLister) ActiveMigrations(context.Context) ([]*migration.Migration, error) {
	return f.records, f.err
}

type fakeController struct {
	mu       sync.Mutex
	calls    map[int64]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	errFor   map[int64]error
	delay    time.Duration
}

func newFakeController() *fakeController {
	return &fakeController{calls: make(map[int64]int), errFor: make(map[int64]error)}
}

func (f *fakeController) Adapt(_ context.Context, m adapt.Migration, _ adapt.Indicator) (adapt.Signal, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[m.ID()]++
	if err := f.errFor[m.ID()]; err != nil {
		return adapt.Normal(), err
	}
	return adapt.Normal(), nil
}

func (f *fakeController) callCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) SyncPartitions(context.Context, []partitioning.Model) error {
	f.calls.Add(1)
	return f.err
}

type fakeDropper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeDropper) DropExpired(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

func entityFor(m *migration.Migration) adapt.Migration {
	return migration.NewEntity(m, nil, nil)
}

func database(name string, lister MigrationLister) Database {
	return Database{Name: name, Migrations: lister, Entity: entityFor}
}

// -- Test Cases --

func TestAdaptOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Minute)

	t.Run("adapts active migrations once and skips held ones", func(t *testing.T) {
		ctrl := newFakeController()
		lister := &fakeLister{records: []*migration.Migration{
			{ID: 1, TableName: "issues"},
			{ID: 2, TableName: "notes", OnHoldUntil: &later},
			{ID: 3, TableName: "events"},
			{ID: 1, TableName: "issues"},
		}}
		s := New(Options{Concurrency: 2}, ctrl, []Database{database("main", lister)}, nil, zap.NewNop())
		s.now = func() time.Time { return now }

		require.NoError(t, s.AdaptOnce(ctx))
		assert.Equal(t, 1, ctrl.callCount(1))
		assert.Equal(t, 0, ctrl.callCount(2), "held migrations are not adapted")
		assert.Equal(t, 1, ctrl.callCount(3))
	})

	t.Run("one failing migration does not stop the others", func(t *testing.T) {
		ctrl := newFakeController()
		holdErr := errors.New("failed to hold migration 1: deadlock detected")
		ctrl.errFor[1] = holdErr
		lister := &fakeLister{records: []*migration.Migration{{ID: 1}, {ID: 2}, {ID: 3}}}
		s := New(Options{Concurrency: 1}, ctrl, []Database{database("main", lister)}, nil, zap.NewNop())

		err := s.AdaptOnce(ctx)
		assert.ErrorIs(t, err, holdErr)
		assert.Equal(t, 1, ctrl.callCount(2))
		assert.Equal(t, 1, ctrl.callCount(3))
	})

	t.Run("a failing database does not stop the others", func(t *testing.T) {
		ctrl := newFakeController()
		loadErr := errors.New("connection refused")
		s := New(Options{Concurrency: 1}, ctrl, []Database{
			database("ci", &fakeLister{err: loadErr}),
			database("main", &fakeLister{records: []*migration.Migration{{ID: 7}}}),
		}, nil, zap.NewNop())

		err := s.AdaptOnce(ctx)
		assert.ErrorIs(t, err, loadErr)
		assert.Contains(t, err.Error(), "ci: connection refused")
		assert.Equal(t, 1, ctrl.callCount(7))
	})

	t.Run("concurrency is bounded", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.delay = 10 * time.Millisecond
		var records []*migration.Migration
		for i := int64(1); i <= 12; i++ {
			records = append(records, &migration.Migration{ID: i})
		}
		s := New(Options{Concurrency: 3}, ctrl, []Database{database("main", &fakeLister{records: records})}, nil, zap.NewNop())

		require.NoError(t, s.AdaptOnce(ctx))
		assert.LessOrEqual(t, ctrl.maxSeen.Load(), int32(3))
		for i := int64(1); i <= 12; i++ {
			assert.Equal(t, 1, ctrl.callCount(i))
		}
	})

	t.Run("a cancelled context surfaces from the rate limiter", func(t *testing.T) {
		ctrl := newFakeController()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := New(Options{Concurrency: 1, RateLimit: 1}, ctrl,
			[]Database{database("main", &fakeLister{records: []*migration.Migration{{ID: 1}}})}, nil, zap.NewNop())

		err := s.AdaptOnce(cctx)
		assert.Error(t, err)
		assert.Equal(t, 0, ctrl.callCount(1))
	})
}

func TestSyncOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("runs sync and drop", func(t *testing.T) {
		syncer, dropper := &fakeSyncer{}, &fakeDropper{}
		s := New(Options{}, newFakeController(), nil, &Partitions{Syncer: syncer, Dropper: dropper}, zap.NewNop())

		require.NoError(t, s.SyncOnce(ctx))
		assert.Equal(t, int32(1), syncer.calls.Load())
		assert.Equal(t, int32(1), dropper.calls.Load())
	})

	t.Run("drop still runs when sync fails", func(t *testing.T) {
		syncErr := errors.New("main public.audit_events: lock timeout")
		syncer, dropper := &fakeSyncer{err: syncErr}, &fakeDropper{}
		s := New(Options{}, newFakeController(), nil, &Partitions{Syncer: syncer, Dropper: dropper}, zap.NewNop())

		assert.ErrorIs(t, s.SyncOnce(ctx), syncErr)
		assert.Equal(t, int32(1), dropper.calls.Load())
	})

	t.Run("no partitions configured", func(t *testing.T) {
		s := New(Options{}, newFakeController(), nil, nil, zap.NewNop())
		assert.NoError(t, s.SyncOnce(ctx))
	})
}

func TestRun(t *testing.T) {
	ctrl := newFakeController()
	syncer := &fakeSyncer{}
	s := New(Options{AdaptInterval: 5 * time.Millisecond, PartitionInterval: time.Hour, Concurrency: 1}, ctrl,
		[]Database{database("main", &fakeLister{records: []*migration.Migration{{ID: 1}}})},
		&Partitions{Syncer: syncer}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ctrl.callCount(1) >= 2 }, time.Second, 5*time.Millisecond,
		"adapt runs immediately and again on each tick")
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond,
		"partition sync runs once immediately")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

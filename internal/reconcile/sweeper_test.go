package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/photojournal/service/internal/storage"
	"github.com/photojournal/service/internal/storage/storagetest"
)

var sweepNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type refSet map[string]bool

func (r refSet) KeyExists(_ context.Context, key string) (bool, error) {
	if key == "photos/lookup-fails.png" {
		return false, errors.New("db down")
	}
	return r[key], nil
}

func newTestSweeper(store ObjectStore, refs KeyReferences) *Sweeper {
	s := NewSweeper(store, refs, "photos", time.Hour, 24*time.Hour)
	s.now = func() time.Time { return sweepNow }
	return s
}

func TestSweeper_RunOnce(t *testing.T) {
	old := sweepNow.Add(-48 * time.Hour)
	store := &storagetest.Mock{}
	store.On("List", mock.Anything, "photos/").Return([]storage.ObjectInfo{
		{Key: "photos/committed.png", LastModified: old},
		{Key: "photos/abandoned.png", LastModified: old},
		{Key: "photos/fresh.png", LastModified: sweepNow.Add(-time.Minute)},
		{Key: "photos/lookup-fails.png", LastModified: old},
	}, nil)
	store.On("Delete", mock.Anything, "photos/abandoned.png").Return(nil).Once()

	before := testutil.ToFloat64(sweepDeletedTotal)
	result, skipped := newTestSweeper(store, refSet{"photos/committed.png": true}).RunOnce(context.Background())

	require.False(t, skipped)
	assert.Equal(t, SweepResult{Scanned: 4, Deleted: 1, Errors: 1}, result)
	assert.Equal(t, before+1, testutil.ToFloat64(sweepDeletedTotal))
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Delete", 1)
}

func TestSweeper_ListFailure(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("List", mock.Anything, "photos/").Return(nil, errors.New("access denied"))

	result, _ := newTestSweeper(store, refSet{}).RunOnce(context.Background())
	assert.Equal(t, SweepResult{Errors: 1}, result)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestSweeper_DeleteFailureContinues(t *testing.T) {
	old := sweepNow.Add(-48 * time.Hour)
	store := &storagetest.Mock{}
	store.On("List", mock.Anything, "photos/").Return([]storage.ObjectInfo{
		{Key: "photos/a.png", LastModified: old},
		{Key: "photos/b.png", LastModified: old},
	}, nil)
	store.On("Delete", mock.Anything, "photos/a.png").Return(errors.New("boom"))
	store.On("Delete", mock.Anything, "photos/b.png").Return(nil)

	result, _ := newTestSweeper(store, refSet{}).RunOnce(context.Background())
	assert.Equal(t, SweepResult{Scanned: 2, Deleted: 1, Errors: 1}, result)
}

func TestSweeper_SkipsWhenRunning(t *testing.T) {
	s := newTestSweeper(&storagetest.Mock{}, refSet{})
	s.inProgress = true

	_, skipped := s.RunOnce(context.Background())
	assert.True(t, skipped)
}

// countingStore counts List calls and holds nothing.
type countingStore struct {
	lists atomic.Int32
}

func (c *countingStore) List(context.Context, string) ([]storage.ObjectInfo, error) {
	c.lists.Add(1)
	return nil, nil
}

func (c *countingStore) Delete(context.Context, string) error { return nil }

func TestSweeper_StartStop(t *testing.T) {
	store := &countingStore{}
	s := NewSweeper(store, refSet{}, "", 10*time.Millisecond, time.Hour)
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return store.lists.Load() > 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := store.lists.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, store.lists.Load())
}

func TestSweeper_StartTwiceKeepsOneLoop(t *testing.T) {
	store := &countingStore{}
	s := NewSweeper(store, refSet{}, "", time.Hour, time.Hour)

	s.Start(context.Background())
	first := s.done
	s.Start(context.Background())
	assert.Equal(t, first, s.done)

	s.Stop()
	select {
	case <-first:
	default:
		t.Fatal("loop still running after Stop")
	}
	s.Stop()

	// restartable after Stop
	s.Start(context.Background())
	assert.NotEqual(t, first, s.done)
	s.Stop()
}

package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository/memory"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fast = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type flakyStore struct {
	*memory.Store
	failing atomic.Bool
	inserts atomic.Int32
}

func (f *flakyStore) InsertAudit(ctx context.Context, entry models.AuditEntry) error {
	f.inserts.Add(1)
	if f.failing.Load() {
		return errors.New("write concern timeout")
	}
	return f.Store.InsertAudit(ctx, entry)
}

func setup(t *testing.T) (*flakyStore, *Trail, models.Batch) {
	t.Helper()
	store := &flakyStore{Store: memory.New()}
	b, err := store.CreateBatch(context.Background(), models.Batch{FarmID: "farm-1", OriginalCount: 10})
	require.NoError(t, err)
	return store, NewTrail(store, fast, nil, nil), b
}

func entry(batchID string, rev int64) models.AuditEntry {
	return models.AuditEntry{BatchID: batchID, FarmID: "farm-1", Dead: 1, Revision: rev}
}

func TestRecordAssignsIDAndPersists(t *testing.T) {
	_, trail, b := setup(t)
	ctx := context.Background()

	got, pending := trail.Record(ctx, entry(b.ID, 1))
	assert.False(t, pending)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	history, err := trail.History(ctx, "farm-1", b.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, got.ID, history[0].ID)
}

func TestRecordSurvivesCanceledCaller(t *testing.T) {
	_, trail, b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, pending := trail.Record(ctx, entry(b.ID, 1))
	assert.False(t, pending)
}

func TestFlushIsIdempotent(t *testing.T) {
	store, trail, b := setup(t)
	ctx := context.Background()

	store.failing.Store(true)
	first, pending := trail.Record(ctx, entry(b.ID, 1))
	require.True(t, pending)

	// Already written by another path: the duplicate counts as success.
	require.NoError(t, store.Store.InsertAudit(ctx, first))
	store.failing.Store(false)

	flushed, err := trail.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Zero(t, trail.Pending())

	history, err := trail.History(ctx, "farm-1", b.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	_, trail, b := setup(t)
	ctx := context.Background()

	for rev := int64(1); rev <= 5; rev++ {
		trail.Record(ctx, entry(b.ID, rev))
	}

	history, err := trail.History(ctx, "farm-1", b.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.EqualValues(t, 5, history[0].Revision)
	assert.EqualValues(t, 3, history[2].Revision)

	_, err = trail.History(ctx, "farm-2", b.ID, 3)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRunDrainsQueue(t *testing.T) {
	store, trail, b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	store.failing.Store(true)
	_, pending := trail.Record(context.Background(), entry(b.ID, 1))
	require.True(t, pending)
	store.failing.Store(false)

	done := make(chan struct{})
	go func() {
		trail.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return trail.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

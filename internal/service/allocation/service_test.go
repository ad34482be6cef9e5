package allocation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository/memory"
	"github.com/mamadbah2/flockledger/internal/service/audit"
	"github.com/mamadbah2/flockledger/internal/service/ledger"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

const farm = "farm-1"

var fast = retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	trail := audit.NewTrail(store, fast, nil, nil)
	l := ledger.NewService(store, trail, fast, nil, nil)
	return &fixture{store: store, ledger: l, svc: NewService(store, l, fast, nil, nil)}
}

func (f *fixture) batch(t *testing.T, original int) models.Batch {
	t.Helper()
	b, err := f.ledger.CreateBatch(context.Background(), farm, "flock", original)
	require.NoError(t, err)
	return b
}

func (f *fixture) house(t *testing.T, capacity *int) models.House {
	t.Helper()
	h, err := f.svc.RegisterHouse(context.Background(), farm, "house", capacity)
	require.NoError(t, err)
	return h
}

func (f *fixture) unbounded(t *testing.T) models.House {
	t.Helper()
	return f.house(t, nil)
}

func assertInvariants(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	batches, houses, err := f.store.Guards(ctx)
	require.NoError(t, err)
	totals, err := f.store.AllocationTotals(ctx)
	require.NoError(t, err)
	for _, b := range batches {
		assert.LessOrEqual(t, totals.ByBatch[b.ID], b.CurrentCount(), "batch %s over-allocated", b.ID)
		assert.Equal(t, totals.ByBatch[b.ID], b.Allocated, "batch %s guard drift", b.ID)
	}
	for _, h := range houses {
		assert.True(t, h.Fits(totals.ByHouse[h.ID]), "house %s over capacity", h.ID)
		assert.Equal(t, totals.ByHouse[h.ID], h.Occupancy, "house %s guard drift", h.ID)
	}
}

func TestAllocateRejectsInsufficientUnallocated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 1000)
	_, err := f.ledger.ApplyLossDelta(ctx, farm, b.ID, models.LossDelta{Dead: models.IntPtr(10), Culled: models.IntPtr(5), Offlaid: models.IntPtr(3)}, models.Actor{}, "", "")
	require.NoError(t, err)
	houseA, houseB := f.unbounded(t), f.unbounded(t)

	_, err = f.svc.Allocate(ctx, farm, b.ID, houseA.ID, 500)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, farm, b.ID, houseB.ID, 600)
	require.ErrorIs(t, err, errs.ErrInsufficientUnallocated)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 600, typed.Requested)
	assert.Equal(t, 482, typed.Available)
	assert.Contains(t, err.Error(), "requested 600, only 482 unallocated")
	assertInvariants(t, f)
}

func TestAllocateRespectsHouseCapacityAcrossBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, y := f.batch(t, 800), f.batch(t, 800)
	h := f.house(t, models.IntPtr(500))

	_, err := f.svc.Allocate(ctx, farm, x.ID, h.ID, 500)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, farm, y.ID, h.ID, 1)
	require.ErrorIs(t, err, errs.ErrCapacityExceeded)
	assertInvariants(t, f)
}

func TestAllocateGrowsExistingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	h := f.unbounded(t)

	first, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 30)
	require.NoError(t, err)
	second, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 20)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 50, second.Quantity)

	list, err := f.svc.ListForBatch(ctx, farm, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	h := f.unbounded(t)

	_, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = f.svc.Allocate(ctx, farm, "missing", h.ID, 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Allocate(ctx, farm, b.ID, "missing", 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Allocate(ctx, "farm-2", b.ID, h.ID, 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.ledger.ArchiveBatch(ctx, farm, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, farm, b.ID, h.ID, 1)
	assert.ErrorIs(t, err, errs.ErrConstraintViolation)
}

func TestConcurrentAllocateNeverOverCommitsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	houses := make([]models.House, 10)
	for i := range houses {
		houses[i] = f.unbounded(t)
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(h models.House) {
			defer wg.Done()
			_, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 10)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, errs.ErrInsufficientUnallocated):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(houses[i%len(houses)])
	}
	wg.Wait()

	assert.EqualValues(t, 10, ok.Load())
	avail, err := f.ledger.GetAvailability(ctx, farm, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, avail.AllocatedCount)
	assert.Zero(t, avail.UnallocatedCount)
	assertInvariants(t, f)
}

func TestConcurrentAllocateNeverOverfillsHouse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.house(t, models.IntPtr(50))

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		b := f.batch(t, 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 10)
			if err != nil && !errors.Is(err, errs.ErrCapacityExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	occupancy, err := f.store.SumOccupancyForHouse(ctx, farm, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, occupancy)
	assertInvariants(t, f)
}

func TestUpdateAllocationQuantityExcludesOwnBirds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 500)
	other := f.batch(t, 500)
	h := f.house(t, models.IntPtr(300))

	a, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 200)
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, farm, other.ID, h.ID, 50)
	require.NoError(t, err)

	updated, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, 250, updated.Quantity)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 251)
	require.ErrorIs(t, err, errs.ErrCapacityExceeded)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 251, typed.Requested)
	assert.Equal(t, 300, typed.Limit)

	lowered, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, lowered.Quantity)
	assertInvariants(t, f)
}

func TestUpdateAllocationQuantityToZeroRemovesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	h := f.unbounded(t)

	a, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 40)
	require.NoError(t, err)

	drained, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, drained.Quantity)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 5)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.ledger.ArchiveBatch(ctx, farm, b.ID)
	assert.NoError(t, err)
	assertInvariants(t, f)
}

func TestUpdateAllocationQuantityChecksUnallocated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	h := f.unbounded(t)

	a, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 90)
	require.NoError(t, err)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 101)
	assert.ErrorIs(t, err, errs.ErrInsufficientUnallocated)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, -1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestListForHouseAcrossBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, y := f.batch(t, 100), f.batch(t, 100)
	h := f.unbounded(t)

	_, err := f.svc.Allocate(ctx, farm, x.ID, h.ID, 10)
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, farm, y.ID, h.ID, 20)
	require.NoError(t, err)

	list, err := f.svc.ListForHouse(ctx, farm, h.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, y.ID, list[0].BatchID, "newest first")

	_, err = f.svc.ListForHouse(ctx, "farm-2", h.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.ListForBatch(ctx, farm, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// overAllocated allocates the whole batch to one house, then records 20
// deaths so the house holds more birds than the batch still has.
func (f *fixture) overAllocated(t *testing.T) (models.Batch, models.Allocation) {
	t.Helper()
	ctx := context.Background()
	b := f.batch(t, 100)
	h := f.unbounded(t)
	a, err := f.svc.Allocate(ctx, farm, b.ID, h.ID, 100)
	require.NoError(t, err)
	_, err = f.ledger.ApplyLossDelta(ctx, farm, b.ID, models.LossDelta{Dead: models.IntPtr(20)}, models.Actor{}, "", "")
	require.NoError(t, err)

	avail, err := f.ledger.GetAvailability(ctx, farm, b.ID)
	require.NoError(t, err)
	require.Equal(t, 20, avail.OverAllocatedCount)
	return b, a
}

func TestPartialCorrectionOnOverAllocatedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, a := f.overAllocated(t)

	lowered, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 90)
	require.NoError(t, err)
	assert.Equal(t, 90, lowered.Quantity)

	avail, err := f.ledger.GetAvailability(ctx, farm, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, avail.AllocatedCount)
	assert.Equal(t, 10, avail.OverAllocatedCount)
	assert.Zero(t, avail.UnallocatedCount)

	batch, err := f.store.GetBatch(ctx, farm, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, batch.Allocated)
	house, err := f.store.GetHouse(ctx, farm, a.HouseID)
	require.NoError(t, err)
	assert.Equal(t, 90, house.Occupancy)

	closed, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 80)
	require.NoError(t, err)
	assert.Equal(t, 80, closed.Quantity)
	assertInvariants(t, f)
}

func TestOverAllocatedBatchRefusesGrowth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, a := f.overAllocated(t)

	_, err := f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 95)
	require.NoError(t, err)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 96)
	require.ErrorIs(t, err, errs.ErrInsufficientUnallocated)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 1, typed.Requested)
	assert.Zero(t, typed.Available)

	_, err = f.svc.Allocate(ctx, farm, b.ID, f.unbounded(t).ID, 1)
	require.ErrorIs(t, err, errs.ErrInsufficientUnallocated)
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 1, typed.Requested)
	assert.Zero(t, typed.Available)
}

func TestArchiveOverAllocatedBatchReportsHeldBirds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, a := f.overAllocated(t)

	_, err := f.ledger.ArchiveBatch(ctx, farm, b.ID)
	require.ErrorIs(t, err, errs.ErrConstraintViolation)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 100, typed.Requested)
	assert.Zero(t, typed.Limit)

	_, err = f.svc.UpdateAllocationQuantity(ctx, farm, a.ID, 0)
	require.NoError(t, err)
	_, err = f.ledger.ArchiveBatch(ctx, farm, b.ID)
	assert.NoError(t, err)
}

func TestZeroCapacityHouseAcceptsNoBirds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, 100)
	closed := f.house(t, models.IntPtr(0))
	require.True(t, closed.Bounded())

	_, err := f.svc.Allocate(ctx, farm, b.ID, closed.ID, 1)
	require.ErrorIs(t, err, errs.ErrCapacityExceeded)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Zero(t, typed.Limit)
	assert.Zero(t, typed.Available)

	open := f.unbounded(t)
	assert.False(t, open.Bounded())
	_, err = f.svc.Allocate(ctx, farm, b.ID, open.ID, 100)
	assert.NoError(t, err)

	_, err = f.svc.RegisterHouse(ctx, farm, "bad", models.IntPtr(-1))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

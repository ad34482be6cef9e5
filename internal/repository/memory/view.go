package memory

import (
	"context"
	"sort"
	"time"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository"
)

// view applies operations to one state without locking. The owning Store
// holds the lock.
type view struct {
	st  *state
	now func() time.Time
}

var _ repository.Ops = (*view)(nil)

func (v *view) CreateBatch(_ context.Context, batch models.Batch) (models.Batch, error) {
	if batch.ID == "" {
		batch.ID = newID()
	}
	if _, exists := v.st.batches[batch.ID]; exists {
		return models.Batch{}, repository.ErrDuplicate
	}
	now := v.now()
	batch.CreatedAt, batch.UpdatedAt = now, now
	v.st.batches[batch.ID] = batch
	return batch, nil
}

func (v *view) GetBatch(_ context.Context, farmID, batchID string) (models.Batch, error) {
	b, ok := v.st.batches[batchID]
	if !ok || b.FarmID != farmID {
		return models.Batch{}, repository.ErrNotFound
	}
	return b, nil
}

func (v *view) IncrementLosses(ctx context.Context, farmID, batchID string, dead, culled, offlaid int) (models.Batch, error) {
	b, err := v.GetBatch(ctx, farmID, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	if b.IsArchived || b.Losses()+dead+culled+offlaid > b.OriginalCount {
		return models.Batch{}, repository.ErrConditionFailed
	}
	b.Dead += dead
	b.Culled += culled
	b.Offlaid += offlaid
	b.Revision++
	b.UpdatedAt = v.now()
	v.st.batches[b.ID] = b
	return b, nil
}

func (v *view) ReserveBirds(ctx context.Context, farmID, batchID string, delta int) (models.Batch, error) {
	b, err := v.GetBatch(ctx, farmID, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	next := b.Allocated + delta
	if next < 0 || (delta > 0 && (b.IsArchived || next > b.CurrentCount())) {
		return models.Batch{}, repository.ErrConditionFailed
	}
	b.Allocated = next
	b.UpdatedAt = v.now()
	v.st.batches[b.ID] = b
	return b, nil
}

func (v *view) ArchiveBatch(ctx context.Context, farmID, batchID string) (models.Batch, error) {
	b, err := v.GetBatch(ctx, farmID, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	if b.IsArchived || b.Allocated != 0 {
		return models.Batch{}, repository.ErrConditionFailed
	}
	b.IsArchived = true
	b.UpdatedAt = v.now()
	v.st.batches[b.ID] = b
	return b, nil
}

func (v *view) CreateHouse(_ context.Context, house models.House) (models.House, error) {
	if house.ID == "" {
		house.ID = newID()
	}
	if _, exists := v.st.houses[house.ID]; exists {
		return models.House{}, repository.ErrDuplicate
	}
	if house.Capacity != nil {
		limit := *house.Capacity
		house.Capacity = &limit
	}
	now := v.now()
	house.CreatedAt, house.UpdatedAt = now, now
	v.st.houses[house.ID] = house
	return house, nil
}

func (v *view) GetHouse(_ context.Context, farmID, houseID string) (models.House, error) {
	h, ok := v.st.houses[houseID]
	if !ok || h.FarmID != farmID {
		return models.House{}, repository.ErrNotFound
	}
	return h, nil
}

func (v *view) OccupyHouse(ctx context.Context, farmID, houseID string, delta int) (models.House, error) {
	h, err := v.GetHouse(ctx, farmID, houseID)
	if err != nil {
		return models.House{}, err
	}
	next := h.Occupancy + delta
	if next < 0 || (delta > 0 && !h.Fits(next)) {
		return models.House{}, repository.ErrConditionFailed
	}
	h.Occupancy = next
	h.UpdatedAt = v.now()
	v.st.houses[h.ID] = h
	return h, nil
}

func (v *view) GetAllocation(_ context.Context, farmID, allocationID string) (models.Allocation, error) {
	a, ok := v.st.allocations[allocationID]
	if !ok || a.FarmID != farmID {
		return models.Allocation{}, repository.ErrNotFound
	}
	return a, nil
}

func (v *view) FindAllocation(_ context.Context, farmID, batchID, houseID string) (models.Allocation, error) {
	for _, a := range v.st.allocations {
		if a.FarmID == farmID && a.BatchID == batchID && a.HouseID == houseID {
			return a, nil
		}
	}
	return models.Allocation{}, repository.ErrNotFound
}

func (v *view) AdjustAllocation(ctx context.Context, farmID, batchID, houseID string, delta int) (models.Allocation, error) {
	now := v.now()
	a, err := v.FindAllocation(ctx, farmID, batchID, houseID)
	switch {
	case err == nil:
	case delta > 0:
		a = models.Allocation{
			ID:        newID(),
			FarmID:    farmID,
			BatchID:   batchID,
			HouseID:   houseID,
			CreatedAt: now,
		}
	default:
		return models.Allocation{}, repository.ErrConditionFailed
	}

	next := a.Quantity + delta
	if next < 0 {
		return models.Allocation{}, repository.ErrConditionFailed
	}
	a.Quantity = next
	a.UpdatedAt = now
	if next == 0 {
		delete(v.st.allocations, a.ID)
		return a, nil
	}
	v.st.allocations[a.ID] = a
	return a, nil
}

func (v *view) ListAllocationsByBatch(_ context.Context, farmID, batchID string) ([]models.Allocation, error) {
	return v.allocations(func(a models.Allocation) bool {
		return a.FarmID == farmID && a.BatchID == batchID
	}), nil
}

func (v *view) ListAllocationsByHouse(_ context.Context, farmID, houseID string) ([]models.Allocation, error) {
	return v.allocations(func(a models.Allocation) bool {
		return a.FarmID == farmID && a.HouseID == houseID
	}), nil
}

func (v *view) SumAllocatedForBatch(ctx context.Context, farmID, batchID string) (int, error) {
	list, _ := v.ListAllocationsByBatch(ctx, farmID, batchID)
	return sum(list), nil
}

func (v *view) SumOccupancyForHouse(ctx context.Context, farmID, houseID string) (int, error) {
	list, _ := v.ListAllocationsByHouse(ctx, farmID, houseID)
	return sum(list), nil
}

func (v *view) InsertAudit(_ context.Context, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if _, exists := v.st.audits[entry.ID]; exists {
		return repository.ErrDuplicate
	}
	entry.PersistedAt = v.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.PersistedAt
	}
	v.st.audits[entry.ID] = entry
	return nil
}

func (v *view) ListAudit(_ context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range v.st.audits {
		if e.FarmID == farmID && e.BatchID == batchID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revision != out[j].Revision {
			return out[i].Revision > out[j].Revision
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) ListAuditSince(_ context.Context, since time.Time, limit int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range v.st.audits {
		if e.PersistedAt.After(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PersistedAt.Equal(out[j].PersistedAt) {
			return out[i].PersistedAt.Before(out[j].PersistedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) allocations(match func(models.Allocation) bool) []models.Allocation {
	var out []models.Allocation
	for _, a := range v.st.allocations {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func sum(list []models.Allocation) int {
	total := 0
	for _, a := range list {
		total += a.Quantity
	}
	return total
}

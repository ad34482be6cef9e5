// Package memory provides a process-local Store with the same conditional
// write and transaction semantics as the MongoDB store. It backs tests and the
// "memory" storage driver for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository"
)

type state struct {
	batches     map[string]models.Batch
	houses      map[string]models.House
	allocations map[string]models.Allocation
	audits      map[string]models.AuditEntry
}

func newState() *state {
	return &state{
		batches:     make(map[string]models.Batch),
		houses:      make(map[string]models.House),
		allocations: make(map[string]models.Allocation),
		audits:      make(map[string]models.AuditEntry),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.houses {
		c.houses[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	for k, v := range s.audits {
		c.audits[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory implementation of repository.Store.
// Transactions run against a copy of the state that replaces the live state on success.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) view(st *state) *view {
	return &view{st: st, now: s.now}
}

// RunInTx implements repository.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(ctx, s.view(staged)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = staged
	return nil
}

// Guards implements repository.Store.
func (s *Store) Guards(ctx context.Context) ([]models.Batch, []models.House, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batches []models.Batch
	for _, b := range s.st.batches {
		if !b.IsArchived {
			batches = append(batches, b)
		}
	}
	houses := make([]models.House, 0, len(s.st.houses))
	for _, h := range s.st.houses {
		houses = append(houses, h)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	sort.Slice(houses, func(i, j int) bool { return houses[i].ID < houses[j].ID })
	return batches, houses, nil
}

// AllocationTotals implements repository.Store.
func (s *Store) AllocationTotals(ctx context.Context) (repository.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := repository.Totals{ByBatch: map[string]int{}, ByHouse: map[string]int{}}
	for _, a := range s.st.allocations {
		totals.ByBatch[a.BatchID] += a.Quantity
		totals.ByHouse[a.HouseID] += a.Quantity
	}
	return totals, nil
}

// Close implements repository.Store.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) do(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.view(s.st))
}

func (s *Store) CreateBatch(ctx context.Context, batch models.Batch) (out models.Batch, err error) {
	err = s.do(func(v *view) error { out, err = v.CreateBatch(ctx, batch); return err })
	return out, err
}

func (s *Store) GetBatch(ctx context.Context, farmID, batchID string) (out models.Batch, err error) {
	err = s.do(func(v *view) error { out, err = v.GetBatch(ctx, farmID, batchID); return err })
	return out, err
}

func (s *Store) IncrementLosses(ctx context.Context, farmID, batchID string, dead, culled, offlaid int) (out models.Batch, err error) {
	err = s.do(func(v *view) error { out, err = v.IncrementLosses(ctx, farmID, batchID, dead, culled, offlaid); return err })
	return out, err
}

func (s *Store) ReserveBirds(ctx context.Context, farmID, batchID string, delta int) (out models.Batch, err error) {
	err = s.do(func(v *view) error { out, err = v.ReserveBirds(ctx, farmID, batchID, delta); return err })
	return out, err
}

func (s *Store) ArchiveBatch(ctx context.Context, farmID, batchID string) (out models.Batch, err error) {
	err = s.do(func(v *view) error { out, err = v.ArchiveBatch(ctx, farmID, batchID); return err })
	return out, err
}

func (s *Store) CreateHouse(ctx context.Context, house models.House) (out models.House, err error) {
	err = s.do(func(v *view) error { out, err = v.CreateHouse(ctx, house); return err })
	return out, err
}

func (s *Store) GetHouse(ctx context.Context, farmID, houseID string) (out models.House, err error) {
	err = s.do(func(v *view) error { out, err = v.GetHouse(ctx, farmID, houseID); return err })
	return out, err
}

func (s *Store) OccupyHouse(ctx context.Context, farmID, houseID string, delta int) (out models.House, err error) {
	err = s.do(func(v *view) error { out, err = v.OccupyHouse(ctx, farmID, houseID, delta); return err })
	return out, err
}

func (s *Store) GetAllocation(ctx context.Context, farmID, allocationID string) (out models.Allocation, err error) {
	err = s.do(func(v *view) error { out, err = v.GetAllocation(ctx, farmID, allocationID); return err })
	return out, err
}

func (s *Store) FindAllocation(ctx context.Context, farmID, batchID, houseID string) (out models.Allocation, err error) {
	err = s.do(func(v *view) error { out, err = v.FindAllocation(ctx, farmID, batchID, houseID); return err })
	return out, err
}

func (s *Store) AdjustAllocation(ctx context.Context, farmID, batchID, houseID string, delta int) (out models.Allocation, err error) {
	err = s.do(func(v *view) error { out, err = v.AdjustAllocation(ctx, farmID, batchID, houseID, delta); return err })
	return out, err
}

func (s *Store) ListAllocationsByBatch(ctx context.Context, farmID, batchID string) (out []models.Allocation, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAllocationsByBatch(ctx, farmID, batchID); return err })
	return out, err
}

func (s *Store) ListAllocationsByHouse(ctx context.Context, farmID, houseID string) (out []models.Allocation, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAllocationsByHouse(ctx, farmID, houseID); return err })
	return out, err
}

func (s *Store) SumAllocatedForBatch(ctx context.Context, farmID, batchID string) (out int, err error) {
	err = s.do(func(v *view) error { out, err = v.SumAllocatedForBatch(ctx, farmID, batchID); return err })
	return out, err
}

func (s *Store) SumOccupancyForHouse(ctx context.Context, farmID, houseID string) (out int, err error) {
	err = s.do(func(v *view) error { out, err = v.SumOccupancyForHouse(ctx, farmID, houseID); return err })
	return out, err
}

func (s *Store) InsertAudit(ctx context.Context, entry models.AuditEntry) error {
	return s.do(func(v *view) error { return v.InsertAudit(ctx, entry) })
}

func (s *Store) ListAudit(ctx context.Context, farmID, batchID string, limit int) (out []models.AuditEntry, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAudit(ctx, farmID, batchID, limit); return err })
	return out, err
}

func (s *Store) ListAuditSince(ctx context.Context, since time.Time, limit int) (out []models.AuditEntry, err error) {
	err = s.do(func(v *view) error { out, err = v.ListAuditSince(ctx, since, limit); return err })
	return out, err
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

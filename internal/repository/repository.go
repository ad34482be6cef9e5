// Package repository declares the storage contract shared by the MongoDB and
// in-memory stores. Every mutating method is a single conditional atomic write
// evaluated by the storage engine; multi-document changes go through RunInTx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mamadbah2/flockledger/internal/domain/models"
)

var (
	// ErrNotFound is returned when a document does not exist inside the farm.
	ErrNotFound = errors.New("document not found")
	// ErrConditionFailed is returned when a conditional write matched nothing
	// because its guard no longer holds.
	ErrConditionFailed = errors.New("conditional write rejected")
	// ErrDuplicate is returned when an insert collides with an existing id.
	ErrDuplicate = errors.New("duplicate document")
)

// Ops are the storage primitives available both standalone and inside a transaction.
type Ops interface {
	CreateBatch(ctx context.Context, batch models.Batch) (models.Batch, error)
	GetBatch(ctx context.Context, farmID, batchID string) (models.Batch, error)
	// IncrementLosses adds the deltas only if the batch is active and the new
	// loss total stays within the original count. It returns the batch after the write.
	IncrementLosses(ctx context.Context, farmID, batchID string, dead, culled, offlaid int) (models.Batch, error)
	// ReserveBirds moves the batch's allocated guard by delta. Positive deltas
	// require an active batch and must stay within the current count; negative
	// deltas only need to keep it non-negative.
	ReserveBirds(ctx context.Context, farmID, batchID string, delta int) (models.Batch, error)
	// ArchiveBatch archives the batch only while nothing is allocated.
	ArchiveBatch(ctx context.Context, farmID, batchID string) (models.Batch, error)

	CreateHouse(ctx context.Context, house models.House) (models.House, error)
	GetHouse(ctx context.Context, farmID, houseID string) (models.House, error)
	// OccupyHouse moves the house's occupancy guard by delta, keeping it
	// non-negative. Positive deltas must stay within a declared capacity.
	OccupyHouse(ctx context.Context, farmID, houseID string, delta int) (models.House, error)

	GetAllocation(ctx context.Context, farmID, allocationID string) (models.Allocation, error)
	FindAllocation(ctx context.Context, farmID, batchID, houseID string) (models.Allocation, error)
	// AdjustAllocation adds delta to the (batch, house) allocation, creating it
	// when delta is positive. Quantity never drops below zero and a record that
	// reaches zero is deleted; the returned allocation then has Quantity 0.
	AdjustAllocation(ctx context.Context, farmID, batchID, houseID string, delta int) (models.Allocation, error)
	ListAllocationsByBatch(ctx context.Context, farmID, batchID string) ([]models.Allocation, error)
	ListAllocationsByHouse(ctx context.Context, farmID, houseID string) ([]models.Allocation, error)
	SumAllocatedForBatch(ctx context.Context, farmID, batchID string) (int, error)
	SumOccupancyForHouse(ctx context.Context, farmID, houseID string) (int, error)

	// InsertAudit stamps PersistedAt and stores the entry.
	InsertAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error)
	// ListAuditSince pages entries persisted after since, in insertion order.
	ListAuditSince(ctx context.Context, since time.Time, limit int) ([]models.AuditEntry, error)
}

// Totals are allocation sums keyed by batch id and by house id.
type Totals struct {
	ByBatch map[string]int
	ByHouse map[string]int
}

// Store is a full storage backend.
type Store interface {
	Ops
	// RunInTx runs fn atomically: either every write made through tx commits
	// or none does.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error
	// Guards returns every active batch and every house with their guard counters.
	Guards(ctx context.Context) ([]models.Batch, []models.House, error)
	AllocationTotals(ctx context.Context) (Totals, error)
	Close(ctx context.Context) error
}

// Package lookup loads tenant-scoped entities and turns storage misses into
// typed not-found errors. Entities outside the caller's farm are reported as
// missing so their existence does not leak.
package lookup

import (
	"context"
	"errors"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository"
)

type batchGetter interface {
	GetBatch(ctx context.Context, farmID, batchID string) (models.Batch, error)
}

type houseGetter interface {
	GetHouse(ctx context.Context, farmID, houseID string) (models.House, error)
}

type allocationGetter interface {
	GetAllocation(ctx context.Context, farmID, allocationID string) (models.Allocation, error)
	FindAllocation(ctx context.Context, farmID, batchID, houseID string) (models.Allocation, error)
}

func Batch(ctx context.Context, ops batchGetter, farmID, batchID string) (models.Batch, error) {
	b, err := ops.GetBatch(ctx, farmID, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Batch{}, errs.NotFound("batch %s not found", batchID)
	}
	return b, err
}

// ActiveBatch is Batch that also refuses archived batches.
func ActiveBatch(ctx context.Context, ops batchGetter, farmID, batchID string) (models.Batch, error) {
	b, err := Batch(ctx, ops, farmID, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	if b.IsArchived {
		return models.Batch{}, errs.ConstraintViolation(0, 0, "batch %s is archived", batchID)
	}
	return b, nil
}

func House(ctx context.Context, ops houseGetter, farmID, houseID string) (models.House, error) {
	h, err := ops.GetHouse(ctx, farmID, houseID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.House{}, errs.NotFound("house %s not found", houseID)
	}
	return h, err
}

func Allocation(ctx context.Context, ops allocationGetter, farmID, allocationID string) (models.Allocation, error) {
	a, err := ops.GetAllocation(ctx, farmID, allocationID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Allocation{}, errs.NotFound("allocation %s not found", allocationID)
	}
	return a, err
}

// Placement loads the allocation of batchID in houseID.
func Placement(ctx context.Context, ops allocationGetter, farmID, batchID, houseID string) (models.Allocation, error) {
	a, err := ops.FindAllocation(ctx, farmID, batchID, houseID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Allocation{}, errs.NotFound("batch %s has no allocation in house %s", batchID, houseID)
	}
	return a, err
}

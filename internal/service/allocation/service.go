package allocation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/metrics"
	"github.com/mamadbah2/flockledger/internal/repository"
	"github.com/mamadbah2/flockledger/internal/service/lookup"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

// AvailabilityReader reports how many birds of a batch are still unplaced.
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, farmID, batchID string) (models.Availability, error)
}

// Table places a batch's birds into houses.
type Table interface {
	RegisterHouse(ctx context.Context, farmID, name string, capacity *int) (models.House, error)
	Allocate(ctx context.Context, farmID, batchID, houseID string, quantity int) (models.Allocation, error)
	UpdateAllocationQuantity(ctx context.Context, farmID, allocationID string, quantity int) (models.Allocation, error)
	ListForBatch(ctx context.Context, farmID, batchID string) ([]models.Allocation, error)
	ListForHouse(ctx context.Context, farmID, houseID string) ([]models.Allocation, error)
}

// Service implements Table. Every write runs in one transaction that also
// moves the batch's allocated guard and the house's occupancy guard through
// conditional updates, so two requests that both passed the pre-checks on
// stale reads cannot both commit.
type Service struct {
	store   repository.Store
	ledger  AvailabilityReader
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ Table = (*Service)(nil)

// NewService constructs the allocation table.
func NewService(store repository.Store, ledger AvailabilityReader, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		ledger:  ledger,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

// RegisterHouse adds a house to the farm. A nil capacity means unbounded.
func (s *Service) RegisterHouse(ctx context.Context, farmID, name string, capacity *int) (models.House, error) {
	if strings.TrimSpace(farmID) == "" {
		return models.House{}, errs.InvalidInput("farm id is required")
	}
	if capacity != nil && *capacity < 0 {
		return models.House{}, errs.InvalidInput("capacity must not be negative, got %d", *capacity)
	}

	h, err := retry.Do(ctx, s.policy, "house.create", func() (models.House, error) {
		return s.store.CreateHouse(ctx, models.House{FarmID: farmID, Name: strings.TrimSpace(name), Capacity: capacity})
	}, s.metrics.Retry("house.create"))
	s.metrics.ObserveMutation("house.create", err)
	if err != nil {
		return models.House{}, err
	}

	s.logger.Info("house registered",
		zap.String("farm_id", farmID),
		zap.String("house_id", h.ID),
		zap.Bool("bounded", h.Bounded()),
		zap.Int("capacity", h.Limit()))
	return h, nil
}

// Allocate places quantity birds of a batch into a house, growing the
// existing (batch, house) record when there is one.
func (s *Service) Allocate(ctx context.Context, farmID, batchID, houseID string, quantity int) (models.Allocation, error) {
	if quantity <= 0 {
		err := errs.InvalidInput("quantity must be positive, got %d", quantity)
		s.metrics.ObserveMutation("allocation.allocate", err)
		return models.Allocation{}, err
	}

	a, err := retry.Do(ctx, s.policy, "allocation.allocate", func() (models.Allocation, error) {
		if _, err := lookup.ActiveBatch(ctx, s.store, farmID, batchID); err != nil {
			return models.Allocation{}, err
		}
		house, err := lookup.House(ctx, s.store, farmID, houseID)
		if err != nil {
			return models.Allocation{}, err
		}
		avail, err := s.ledger.GetAvailability(ctx, farmID, batchID)
		if err != nil {
			return models.Allocation{}, err
		}
		if quantity > avail.UnallocatedCount {
			return models.Allocation{}, errs.InsufficientUnallocated(quantity, avail.UnallocatedCount)
		}
		occupancy, err := s.store.SumOccupancyForHouse(ctx, farmID, houseID)
		if err != nil {
			return models.Allocation{}, err
		}
		if !house.Fits(occupancy + quantity) {
			return models.Allocation{}, errs.CapacityExceeded(quantity, occupancy, house.Limit())
		}

		var out models.Allocation
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Ops) error {
			if _, err := tx.ReserveBirds(ctx, farmID, batchID, quantity); err != nil {
				return err
			}
			if _, err := tx.OccupyHouse(ctx, farmID, houseID, quantity); err != nil {
				return err
			}
			a, err := tx.AdjustAllocation(ctx, farmID, batchID, houseID, quantity)
			out = a
			return err
		})
		return out, err
	}, s.metrics.Retry("allocation.allocate"))
	s.metrics.ObserveMutation("allocation.allocate", err)
	if err != nil {
		return models.Allocation{}, err
	}

	s.logger.Info("birds allocated",
		zap.String("farm_id", farmID),
		zap.String("batch_id", batchID),
		zap.String("house_id", houseID),
		zap.Int("quantity", quantity),
		zap.Int("allocation_quantity", a.Quantity))
	return a, nil
}

// UpdateAllocationQuantity sets an allocation to quantity. The house check
// leaves the allocation's own birds out of the occupancy and adds the new
// quantity back. Setting zero removes the allocation.
func (s *Service) UpdateAllocationQuantity(ctx context.Context, farmID, allocationID string, quantity int) (models.Allocation, error) {
	if quantity < 0 {
		err := errs.InvalidInput("quantity must not be negative, got %d", quantity)
		s.metrics.ObserveMutation("allocation.update", err)
		return models.Allocation{}, err
	}

	a, err := retry.Do(ctx, s.policy, "allocation.update", func() (models.Allocation, error) {
		current, err := lookup.Allocation(ctx, s.store, farmID, allocationID)
		if err != nil {
			return models.Allocation{}, err
		}
		delta := quantity - current.Quantity
		if delta == 0 {
			return current, nil
		}

		if delta > 0 {
			if _, err := lookup.ActiveBatch(ctx, s.store, farmID, current.BatchID); err != nil {
				return models.Allocation{}, err
			}
			house, err := lookup.House(ctx, s.store, farmID, current.HouseID)
			if err != nil {
				return models.Allocation{}, err
			}
			avail, err := s.ledger.GetAvailability(ctx, farmID, current.BatchID)
			if err != nil {
				return models.Allocation{}, err
			}
			if delta > avail.UnallocatedCount {
				return models.Allocation{}, errs.InsufficientUnallocated(delta, avail.UnallocatedCount)
			}
			occupancy, err := s.store.SumOccupancyForHouse(ctx, farmID, current.HouseID)
			if err != nil {
				return models.Allocation{}, err
			}
			others := occupancy - current.Quantity
			if !house.Fits(others + quantity) {
				return models.Allocation{}, errs.CapacityExceeded(quantity, others, house.Limit())
			}
		}

		var out models.Allocation
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Ops) error {
			latest, err := tx.GetAllocation(ctx, farmID, allocationID)
			if err != nil {
				return err
			}
			if latest.Quantity != current.Quantity {
				return repository.ErrConditionFailed
			}
			if _, err := tx.ReserveBirds(ctx, farmID, current.BatchID, delta); err != nil {
				return err
			}
			if _, err := tx.OccupyHouse(ctx, farmID, current.HouseID, delta); err != nil {
				return err
			}
			a, err := tx.AdjustAllocation(ctx, farmID, current.BatchID, current.HouseID, delta)
			out = a
			return err
		})
		return out, err
	}, s.metrics.Retry("allocation.update"))
	s.metrics.ObserveMutation("allocation.update", err)
	if err != nil {
		return models.Allocation{}, err
	}

	s.logger.Info("allocation quantity updated",
		zap.String("farm_id", farmID),
		zap.String("allocation_id", allocationID),
		zap.Int("quantity", quantity))
	return a, nil
}

// ListForBatch returns a batch's allocations, newest first.
func (s *Service) ListForBatch(ctx context.Context, farmID, batchID string) ([]models.Allocation, error) {
	return retry.Do(ctx, s.policy, "allocation.list_batch", func() ([]models.Allocation, error) {
		if _, err := lookup.Batch(ctx, s.store, farmID, batchID); err != nil {
			return nil, err
		}
		return s.store.ListAllocationsByBatch(ctx, farmID, batchID)
	}, s.metrics.Retry("allocation.list_batch"))
}

// ListForHouse returns a house's allocations across batches, newest first.
func (s *Service) ListForHouse(ctx context.Context, farmID, houseID string) ([]models.Allocation, error) {
	return retry.Do(ctx, s.policy, "allocation.list_house", func() ([]models.Allocation, error) {
		if _, err := lookup.House(ctx, s.store, farmID, houseID); err != nil {
			return nil, err
		}
		return s.store.ListAllocationsByHouse(ctx, farmID, houseID)
	}, s.metrics.Retry("allocation.list_house"))
}

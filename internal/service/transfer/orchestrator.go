package transfer

import (
	"context"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/metrics"
	"github.com/mamadbah2/flockledger/internal/repository"
	"github.com/mamadbah2/flockledger/internal/service/lookup"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

// Transferer moves birds of one batch between houses.
type Transferer interface {
	Transfer(ctx context.Context, farmID, batchID, fromHouseID, toHouseID string, quantity int) (models.TransferResult, error)
}

// Orchestrator runs the debit of the source allocation and the credit of the
// destination in one transaction. If any leg fails the store rolls all of
// them back, so a transfer is never half applied.
type Orchestrator struct {
	store   repository.Store
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ Transferer = (*Orchestrator)(nil)

// NewOrchestrator constructs a transfer orchestrator.
func NewOrchestrator(store repository.Store, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, policy: policy, metrics: m, logger: logger}
}

// Transfer moves quantity birds of batchID from one house to another. The
// batch's allocated total does not change; only the two houses' occupancy does.
// A drained source allocation is deleted and returned with quantity zero.
func (o *Orchestrator) Transfer(ctx context.Context, farmID, batchID, fromHouseID, toHouseID string, quantity int) (models.TransferResult, error) {
	res, err := o.transfer(ctx, farmID, batchID, fromHouseID, toHouseID, quantity)
	o.metrics.ObserveMutation("allocation.transfer", err)
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			o.logger.Error("transfer failed, no leg was committed",
				zap.Error(err),
				zap.String("farm_id", farmID),
				zap.String("batch_id", batchID),
				zap.String("from_house_id", fromHouseID),
				zap.String("to_house_id", toHouseID),
				zap.Int("quantity", quantity))
		}
		return models.TransferResult{}, err
	}

	o.logger.Info("birds transferred",
		zap.String("farm_id", farmID),
		zap.String("batch_id", batchID),
		zap.String("from_house_id", fromHouseID),
		zap.String("to_house_id", toHouseID),
		zap.Int("quantity", quantity),
		zap.Int("from_quantity", res.From.Quantity),
		zap.Int("to_quantity", res.To.Quantity))
	return res, nil
}

func (o *Orchestrator) transfer(ctx context.Context, farmID, batchID, fromHouseID, toHouseID string, quantity int) (models.TransferResult, error) {
	if quantity <= 0 {
		return models.TransferResult{}, errs.InvalidInput("quantity must be positive, got %d", quantity)
	}
	if fromHouseID == toHouseID {
		return models.TransferResult{}, errs.InvalidInput("source and destination house are both %s", fromHouseID)
	}

	return retry.Do(ctx, o.policy, "allocation.transfer", func() (models.TransferResult, error) {
		if _, err := lookup.Batch(ctx, o.store, farmID, batchID); err != nil {
			return models.TransferResult{}, err
		}
		if _, err := lookup.House(ctx, o.store, farmID, fromHouseID); err != nil {
			return models.TransferResult{}, err
		}
		dest, err := lookup.House(ctx, o.store, farmID, toHouseID)
		if err != nil {
			return models.TransferResult{}, err
		}
		source, err := lookup.Placement(ctx, o.store, farmID, batchID, fromHouseID)
		if err != nil {
			return models.TransferResult{}, err
		}
		if source.Quantity < quantity {
			return models.TransferResult{}, errs.InsufficientBirds(quantity, source.Quantity)
		}
		// Source and destination differ, so none of the destination's current
		// occupancy is made of the birds being moved.
		occupancy, err := o.store.SumOccupancyForHouse(ctx, farmID, toHouseID)
		if err != nil {
			return models.TransferResult{}, err
		}
		if !dest.Fits(occupancy + quantity) {
			return models.TransferResult{}, errs.CapacityExceeded(quantity, occupancy, dest.Limit())
		}

		var res models.TransferResult
		err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Ops) error {
			from, err := tx.AdjustAllocation(ctx, farmID, batchID, fromHouseID, -quantity)
			if err != nil {
				return err
			}
			if _, err := tx.OccupyHouse(ctx, farmID, fromHouseID, -quantity); err != nil {
				return err
			}
			if _, err := tx.OccupyHouse(ctx, farmID, toHouseID, quantity); err != nil {
				return err
			}
			to, err := tx.AdjustAllocation(ctx, farmID, batchID, toHouseID, quantity)
			if err != nil {
				return err
			}
			res = models.TransferResult{From: from, To: to}
			return nil
		})
		return res, err
	}, o.metrics.Retry("allocation.transfer"))
}

package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/models"
)

// Reconcile compares each batch's allocated guard and each house's occupancy
// guard with the sums over the allocation table. Any drift needs manual
// correction and is logged loudly.
func (s *Service) Reconcile(ctx context.Context) ([]models.Drift, error) {
	batches, houses, err := s.store.Guards(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.AllocationTotals(ctx)
	if err != nil {
		return nil, err
	}

	var drift []models.Drift
	for _, b := range batches {
		if computed := totals.ByBatch[b.ID]; computed != b.Allocated {
			drift = append(drift, models.Drift{Kind: "batch", ID: b.ID, FarmID: b.FarmID, Counter: b.Allocated, Computed: computed})
		}
	}
	for _, h := range houses {
		if computed := totals.ByHouse[h.ID]; computed != h.Occupancy {
			drift = append(drift, models.Drift{Kind: "house", ID: h.ID, FarmID: h.FarmID, Counter: h.Occupancy, Computed: computed})
		}
	}

	for _, d := range drift {
		s.logger.Error("allocation guard drift detected",
			zap.String("kind", d.Kind),
			zap.String("id", d.ID),
			zap.String("farm_id", d.FarmID),
			zap.Int("counter", d.Counter),
			zap.Int("computed", d.Computed))
	}
	s.metrics.SetDrift(len(drift))
	return drift, nil
}

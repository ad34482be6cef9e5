package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository"
)

// GetAllocation loads an allocation scoped to its farm.
func (r *MongoDBRepository) GetAllocation(ctx context.Context, farmID, allocationID string) (models.Allocation, error) {
	var a models.Allocation
	err := r.coll(allocationsColl).FindOne(ctx, bson.M{"_id": allocationID, "farm_id": farmID}).Decode(&a)
	if err != nil {
		return models.Allocation{}, classify(err)
	}
	return a, nil
}

// FindAllocation loads the allocation of a batch in a house.
func (r *MongoDBRepository) FindAllocation(ctx context.Context, farmID, batchID, houseID string) (models.Allocation, error) {
	var a models.Allocation
	err := r.coll(allocationsColl).FindOne(ctx, pairFilter(farmID, batchID, houseID)).Decode(&a)
	if err != nil {
		return models.Allocation{}, classify(err)
	}
	return a, nil
}

// AdjustAllocation upserts on credit and guards quantity on debit. A debit
// that drains the record deletes it in the same transaction.
func (r *MongoDBRepository) AdjustAllocation(ctx context.Context, farmID, batchID, houseID string, delta int) (models.Allocation, error) {
	if delta == 0 {
		return r.FindAllocation(ctx, farmID, batchID, houseID)
	}

	now := r.now()
	filter := pairFilter(farmID, batchID, houseID)
	update := bson.M{
		"$inc": bson.M{"quantity": delta},
		"$set": bson.M{"updated_at": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	if delta > 0 {
		update["$setOnInsert"] = bson.M{"_id": newID(), "created_at": now}
		opts.SetUpsert(true)
	} else {
		filter["quantity"] = bson.M{"$gte": -delta}
	}

	var a models.Allocation
	err := r.coll(allocationsColl).FindOneAndUpdate(ctx, filter, update, opts).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return models.Allocation{}, repository.ErrConditionFailed
	}
	if err != nil {
		return models.Allocation{}, classify(err)
	}

	if a.Quantity == 0 {
		if _, err := r.coll(allocationsColl).DeleteOne(ctx, bson.M{"_id": a.ID, "quantity": 0}); err != nil {
			return models.Allocation{}, fmt.Errorf("delete drained allocation: %w", err)
		}
	}
	return a, nil
}

// ListAllocationsByBatch returns a batch's allocations, newest first.
func (r *MongoDBRepository) ListAllocationsByBatch(ctx context.Context, farmID, batchID string) ([]models.Allocation, error) {
	return r.listAllocations(ctx, bson.M{"farm_id": farmID, "batch_id": batchID})
}

// ListAllocationsByHouse returns a house's allocations, newest first.
func (r *MongoDBRepository) ListAllocationsByHouse(ctx context.Context, farmID, houseID string) ([]models.Allocation, error) {
	return r.listAllocations(ctx, bson.M{"farm_id": farmID, "house_id": houseID})
}

// SumAllocatedForBatch sums the allocation table for one batch.
func (r *MongoDBRepository) SumAllocatedForBatch(ctx context.Context, farmID, batchID string) (int, error) {
	return sumQuantity(ctx, r.coll(allocationsColl), bson.M{"farm_id": farmID, "batch_id": batchID})
}

// SumOccupancyForHouse sums the allocation table for one house across batches.
func (r *MongoDBRepository) SumOccupancyForHouse(ctx context.Context, farmID, houseID string) (int, error) {
	return sumQuantity(ctx, r.coll(allocationsColl), bson.M{"farm_id": farmID, "house_id": houseID})
}

// Guards returns active batches and all houses for reconciliation.
func (r *MongoDBRepository) Guards(ctx context.Context) ([]models.Batch, []models.House, error) {
	var batches []models.Batch
	cur, err := r.coll(batchesColl).Find(ctx, bson.M{"is_archived": false})
	if err != nil {
		return nil, nil, fmt.Errorf("find batches: %w", err)
	}
	if err := cur.All(ctx, &batches); err != nil {
		return nil, nil, fmt.Errorf("decode batches: %w", err)
	}

	var houses []models.House
	cur, err = r.coll(housesColl).Find(ctx, bson.M{})
	if err != nil {
		return nil, nil, fmt.Errorf("find houses: %w", err)
	}
	if err := cur.All(ctx, &houses); err != nil {
		return nil, nil, fmt.Errorf("decode houses: %w", err)
	}
	return batches, houses, nil
}

// AllocationTotals sums the allocation table per batch and per house.
func (r *MongoDBRepository) AllocationTotals(ctx context.Context) (repository.Totals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$facet", Value: bson.M{
			"by_batch": bson.A{bson.M{"$group": bson.M{"_id": "$batch_id", "total": bson.M{"$sum": "$quantity"}}}},
			"by_house": bson.A{bson.M{"$group": bson.M{"_id": "$house_id", "total": bson.M{"$sum": "$quantity"}}}},
		}}},
	}
	cur, err := r.coll(allocationsColl).Aggregate(ctx, pipeline)
	if err != nil {
		return repository.Totals{}, fmt.Errorf("aggregate allocation totals: %w", err)
	}
	defer cur.Close(ctx)

	type group struct {
		ID    string `bson:"_id"`
		Total int    `bson:"total"`
	}
	var rows []struct {
		ByBatch []group `bson:"by_batch"`
		ByHouse []group `bson:"by_house"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return repository.Totals{}, fmt.Errorf("decode allocation totals: %w", err)
	}

	totals := repository.Totals{ByBatch: map[string]int{}, ByHouse: map[string]int{}}
	for _, row := range rows {
		for _, g := range row.ByBatch {
			totals.ByBatch[g.ID] = g.Total
		}
		for _, g := range row.ByHouse {
			totals.ByHouse[g.ID] = g.Total
		}
	}
	return totals, nil
}

func (r *MongoDBRepository) listAllocations(ctx context.Context, filter bson.M) ([]models.Allocation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll(allocationsColl).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find allocations: %w", err)
	}

	var out []models.Allocation
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode allocations: %w", err)
	}
	return out, nil
}

func pairFilter(farmID, batchID, houseID string) bson.M {
	return bson.M{"farm_id": farmID, "batch_id": batchID, "house_id": houseID}
}

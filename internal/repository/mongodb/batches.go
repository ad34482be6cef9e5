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

var lossesExpr = bson.M{"$add": bson.A{"$dead", "$culled", "$offlaid"}}

// CreateBatch inserts a new batch with zeroed counters.
func (r *MongoDBRepository) CreateBatch(ctx context.Context, batch models.Batch) (models.Batch, error) {
	if batch.ID == "" {
		batch.ID = newID()
	}
	now := r.now()
	batch.CreatedAt, batch.UpdatedAt = now, now

	if _, err := r.coll(batchesColl).InsertOne(ctx, batch); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Batch{}, repository.ErrDuplicate
		}
		return models.Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	return batch, nil
}

// GetBatch loads a batch scoped to its farm.
func (r *MongoDBRepository) GetBatch(ctx context.Context, farmID, batchID string) (models.Batch, error) {
	var b models.Batch
	err := r.coll(batchesColl).FindOne(ctx, bson.M{"_id": batchID, "farm_id": farmID}).Decode(&b)
	if err != nil {
		return models.Batch{}, classify(err)
	}
	return b, nil
}

// IncrementLosses is a single findAndModify whose filter carries the
// losses-within-original guard, so concurrent increments never overshoot.
func (r *MongoDBRepository) IncrementLosses(ctx context.Context, farmID, batchID string, dead, culled, offlaid int) (models.Batch, error) {
	total := dead + culled + offlaid
	filter := bson.M{
		"_id":         batchID,
		"farm_id":     farmID,
		"is_archived": false,
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{lossesExpr, total}},
			"$original_count",
		}},
	}
	update := bson.M{
		"$inc": bson.M{"dead": dead, "culled": culled, "offlaid": offlaid, "revision": 1},
		"$set": bson.M{"updated_at": r.now()},
	}
	return r.updateBatch(ctx, farmID, batchID, filter, update)
}

// ReserveBirds shifts the allocated guard. Increases must fit within the
// current count of an active batch; decreases only need to stay
// non-negative, so corrections still land after losses have overtaken the
// allocated total.
func (r *MongoDBRepository) ReserveBirds(ctx context.Context, farmID, batchID string, delta int) (models.Batch, error) {
	next := bson.M{"$add": bson.A{"$allocated", delta}}
	guard := bson.A{bson.M{"$gte": bson.A{next, 0}}}
	filter := bson.M{
		"_id":     batchID,
		"farm_id": farmID,
	}
	if delta > 0 {
		guard = append(guard, bson.M{"$lte": bson.A{next, bson.M{"$subtract": bson.A{"$original_count", lossesExpr}}}})
		filter["is_archived"] = false
	}
	filter["$expr"] = bson.M{"$and": guard}
	update := bson.M{
		"$inc": bson.M{"allocated": delta},
		"$set": bson.M{"updated_at": r.now()},
	}
	return r.updateBatch(ctx, farmID, batchID, filter, update)
}

// ArchiveBatch flips the archive flag while the allocated guard is zero.
func (r *MongoDBRepository) ArchiveBatch(ctx context.Context, farmID, batchID string) (models.Batch, error) {
	filter := bson.M{"_id": batchID, "farm_id": farmID, "is_archived": false, "allocated": 0}
	update := bson.M{"$set": bson.M{"is_archived": true, "updated_at": r.now()}}
	return r.updateBatch(ctx, farmID, batchID, filter, update)
}

func (r *MongoDBRepository) updateBatch(ctx context.Context, farmID, batchID string, filter, update bson.M) (models.Batch, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b models.Batch
	err := r.coll(batchesColl).FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return models.Batch{}, r.missOrConflict(ctx, batchesColl, farmID, batchID)
	}
	if err != nil {
		return models.Batch{}, classify(err)
	}
	return b, nil
}

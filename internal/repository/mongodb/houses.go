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

// CreateHouse registers a house. A missing capacity leaves it unbounded.
func (r *MongoDBRepository) CreateHouse(ctx context.Context, house models.House) (models.House, error) {
	if house.ID == "" {
		house.ID = newID()
	}
	now := r.now()
	house.CreatedAt, house.UpdatedAt = now, now

	if _, err := r.coll(housesColl).InsertOne(ctx, house); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.House{}, repository.ErrDuplicate
		}
		return models.House{}, fmt.Errorf("insert house: %w", err)
	}
	return house, nil
}

// GetHouse loads a house scoped to its farm.
func (r *MongoDBRepository) GetHouse(ctx context.Context, farmID, houseID string) (models.House, error) {
	var h models.House
	err := r.coll(housesColl).FindOne(ctx, bson.M{"_id": houseID, "farm_id": farmID}).Decode(&h)
	if err != nil {
		return models.House{}, classify(err)
	}
	return h, nil
}

// OccupyHouse shifts the occupancy guard. Increases may not pass a declared
// capacity; decreases only need to stay non-negative.
func (r *MongoDBRepository) OccupyHouse(ctx context.Context, farmID, houseID string, delta int) (models.House, error) {
	next := bson.M{"$add": bson.A{"$occupancy", delta}}
	guard := bson.A{bson.M{"$gte": bson.A{next, 0}}}
	if delta > 0 {
		guard = append(guard, bson.M{"$or": bson.A{
			bson.M{"$lt": bson.A{bson.M{"$ifNull": bson.A{"$capacity", -1}}, 0}},
			bson.M{"$lte": bson.A{next, "$capacity"}},
		}})
	}
	filter := bson.M{
		"_id":     houseID,
		"farm_id": farmID,
		"$expr":   bson.M{"$and": guard},
	}
	update := bson.M{
		"$inc": bson.M{"occupancy": delta},
		"$set": bson.M{"updated_at": r.now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var h models.House
	err := r.coll(housesColl).FindOneAndUpdate(ctx, filter, update, opts).Decode(&h)
	if err == mongo.ErrNoDocuments {
		return models.House{}, r.missOrConflict(ctx, housesColl, farmID, houseID)
	}
	if err != nil {
		return models.House{}, classify(err)
	}
	return h, nil
}

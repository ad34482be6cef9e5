package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository"
)

// InsertAudit appends an audit entry. Re-inserting the same id reports ErrDuplicate.
func (r *MongoDBRepository) InsertAudit(ctx context.Context, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	entry.PersistedAt = r.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.PersistedAt
	}

	if _, err := r.coll(auditColl).InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns a batch's history by storage write order, newest first.
func (r *MongoDBRepository) ListAudit(ctx context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "revision", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.findAudit(ctx, bson.M{"farm_id": farmID, "batch_id": batchID}, opts)
}

// ListAuditSince returns entries persisted after since, in insertion order.
func (r *MongoDBRepository) ListAuditSince(ctx context.Context, since time.Time, limit int) ([]models.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "persisted_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.findAudit(ctx, bson.M{"persisted_at": bson.M{"$gt": since}}, opts)
}

func (r *MongoDBRepository) findAudit(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.AuditEntry, error) {
	cur, err := r.coll(auditColl).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit entries: %w", err)
	}

	var out []models.AuditEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audit entries: %w", err)
	}
	return out, nil
}

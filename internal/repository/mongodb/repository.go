package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/repository"
)

const (
	batchesColl     = "batches"
	housesColl      = "houses"
	allocationsColl = "allocations"
	auditColl       = "audit_entries"
)

// MongoDBRepository implements repository.Store on MongoDB. Transactions need
// a replica set or sharded cluster.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.Store = (*MongoDBRepository)(nil)

// NewMongoDBRepository connects, pings and ensures indexes.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string, logger *zap.Logger) (*MongoDBRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoDBRepository{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	logger.Info("mongodb repository ready", zap.String("database", dbName))
	return r, nil
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		allocationsColl: {
			{
				Keys:    bson.D{{Key: "farm_id", Value: 1}, {Key: "batch_id", Value: 1}, {Key: "house_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "farm_id", Value: 1}, {Key: "house_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		auditColl: {
			{
				Keys:    bson.D{{Key: "batch_id", Value: 1}, {Key: "revision", Value: -1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "persisted_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		batchesColl: {
			{Keys: bson.D{{Key: "farm_id", Value: 1}, {Key: "is_archived", Value: 1}}},
		},
		housesColl: {
			{Keys: bson.D{{Key: "farm_id", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// RunInTx runs fn inside a snapshot transaction with majority writes. The
// driver re-runs fn on transient transaction errors.
func (r *MongoDBRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Ops) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, r)
	}, txnOpts)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoDBRepository) coll(name string) *mongo.Collection {
	return r.db.Collection(name)
}

// classify maps driver errors onto repository sentinels. Write conflicts and
// duplicate upserts mean a concurrent writer won, which callers retry.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrConditionFailed),
		errors.Is(err, repository.ErrDuplicate):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return repository.ErrConditionFailed
	}

	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel(driver.TransientTransactionError) {
		return fmt.Errorf("%w: %v", repository.ErrConditionFailed, err)
	}
	return err
}

// missOrConflict tells a missing document apart from a failed guard after a
// conditional update matched nothing.
func (r *MongoDBRepository) missOrConflict(ctx context.Context, coll, farmID, id string) error {
	n, err := r.coll(coll).CountDocuments(ctx, bson.M{"_id": id, "farm_id": farmID})
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConditionFailed
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

func sumQuantity(ctx context.Context, coll *mongo.Collection, match bson.M) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$quantity"}}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate quantity: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Total int `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode quantity sum: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

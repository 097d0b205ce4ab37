// Package mongo mirrors pipeline records into a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

// Defaults applied when the database or collection is not configured.
const (
	DefaultDatabase   = "urlfetch"
	DefaultCollection = "fetch_results"
)

const connectTimeout = 10 * time.Second

// ResultStoreConfig selects the deployment and collection result documents go to.
type ResultStoreConfig struct {
	URI        string
	Database   string
	Collection string
	RunID      string
}

type inserter interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// ResultStore inserts one document per record.
type ResultStore struct {
	coll       inserter
	disconnect func(context.Context) error
	runID      string
	now        func() time.Time
}

// NewResultStore connects to MongoDB, verifies the deployment answers and
// indexes the collection by run.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mirrors.mongo.uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	index := mongo.IndexModel{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "fetched_at", Value: 1}}}
	if _, err := coll.Indexes().CreateOne(connectCtx, index); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("create run index: %w", err)
	}

	return &ResultStore{
		coll:       coll,
		disconnect: client.Disconnect,
		runID:      cfg.RunID,
		now:        time.Now,
	}, nil
}

// NewResultStoreWithCollection constructs a store from an existing collection (primarily for testing).
func NewResultStoreWithCollection(coll inserter, runID string) (*ResultStore, error) {
	if coll == nil {
		return nil, fmt.Errorf("collection is required")
	}
	return &ResultStore{coll: coll, runID: runID, now: time.Now}, nil
}

// Name identifies the mirror in logs and metrics.
func (s *ResultStore) Name() string {
	return "mongo"
}

// Mirror inserts rec as a document. JSON numbers are stored as int64 when they
// fit and as doubles otherwise.
func (s *ResultStore) Mirror(ctx context.Context, rec pipeline.Record) error {
	if s == nil || s.coll == nil {
		return fmt.Errorf("result store is not configured")
	}
	doc := bson.D{
		{Key: "run_id", Value: s.runID},
		{Key: "url", Value: rec.URL},
		{Key: "content_type", Value: string(rec.Content.Type)},
		{Key: "content", Value: rec.Content.Content},
		{Key: "fetched_at", Value: s.now().UTC()},
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *ResultStore) Close(ctx context.Context) error {
	if s == nil || s.disconnect == nil {
		return nil
	}
	if err := s.disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// Package mongo implements store.Document on top of MongoDB, for
// mongo.kind = "remote" deployments (spec.md §8 config). It generalizes
// the teacher's features/session/mongo/clients/mongo client: one
// Options-configured client fronting many named collections instead of
// two fixed ones, with the same idempotent-upsert, ErrNoDocuments
// translation, and health.Pinger shape.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
)

const (
	defaultOpTimeout = 5 * time.Second
	clientName       = "store-mongo"
)

// Options configures the Mongo-backed Document.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

type client struct {
	db      *mongodriver.Client
	dbName  string
	timeout time.Duration
}

var _ store.Document = (*client)(nil)
var _ health.Pinger = (*client)(nil)

// New returns a store.Document backed by MongoDB and ensures the indexes
// named in spec.md §6 (unique user/actor relations, conversation message
// ordering, job uniqueness) exist.
func New(opts Options) (store.Document, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	c := &client{db: opts.Client, dbName: opts.Database, timeout: timeout}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.db.Ping(ctx, readpref.Primary())
}

func (c *client) coll(name string) *mongodriver.Collection {
	return c.db.Database(c.dbName).Collection(name)
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// UpsertEntity implements store.Document.
func (c *client) UpsertEntity(ctx context.Context, collection string, id any, fields map[string]any) (any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if id == nil {
		now := time.Now().UnixMilli()
		doc := bson.M{"createdAt": now}
		for k, v := range fields {
			doc[k] = v
		}
		nextID, err := c.nextSequence(ctx, collection)
		if err != nil {
			return nil, err
		}
		doc["id"] = nextID
		if _, err := c.coll(collection).InsertOne(ctx, doc); err != nil {
			return nil, err
		}
		return nextID, nil
	}

	filter := bson.M{"id": id}
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	update := bson.M{
		"$set": set,
		// Idempotent insert: the createdAt timestamp is only ever set on
		// first write, matching the teacher's $setOnInsert pattern for
		// CreateSession.
		"$setOnInsert": bson.M{"id": id, "createdAt": time.Now().UnixMilli()},
	}
	if _, err := c.coll(collection).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return nil, err
	}
	return id, nil
}

// DeleteEntity implements store.Document.
func (c *client) DeleteEntity(ctx context.Context, collection string, id any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll(collection).DeleteOne(ctx, bson.M{"id": id})
	return err
}

// GetEntity implements store.Document.
func (c *client) GetEntity(ctx context.Context, collection string, id any) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc bson.M
	err := c.coll(collection).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return map[string]any(doc), nil
}

// ListCollection implements store.Document.
func (c *client) ListCollection(ctx context.Context, collection string, filter store.ListFilter) ([]map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	match := bson.M{}
	for k, v := range filter.Match {
		match[k] = v
	}
	findOpts := options.Find()
	if len(filter.Sort) > 0 {
		sort := bson.D{}
		for _, s := range filter.Sort {
			order := 1
			if s.Order < 0 {
				order = -1
			}
			sort = append(sort, bson.E{Key: s.Field, Value: order})
		}
		findOpts.SetSort(sort)
	}
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}
	cur, err := c.coll(collection).Find(ctx, match, findOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []map[string]any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, map[string]any(doc))
	}
	return out, cur.Err()
}

// CreateIndex implements store.Document.
func (c *client) CreateIndex(ctx context.Context, collection string, spec store.IndexSpec) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	keys := bson.D{}
	for _, f := range spec.Fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	model := mongodriver.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(spec.Unique).SetSparse(spec.Sparse),
	}
	_, err := c.coll(collection).Indexes().CreateOne(ctx, model)
	return err
}

// SnapshotAll implements store.Document.
func (c *client) SnapshotAll(ctx context.Context, names []string) (store.Snapshot, error) {
	snap := store.Snapshot{Collections: make(map[string][]map[string]any, len(names)), TakenAt: time.Now()}
	for _, name := range names {
		docs, err := c.ListCollection(ctx, name, store.ListFilter{})
		if err != nil {
			return store.Snapshot{}, err
		}
		snap.Collections[name] = docs
	}
	return snap, nil
}

// RestoreAll implements store.Document.
func (c *client) RestoreAll(ctx context.Context, snap store.Snapshot) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	for name, docs := range snap.Collections {
		coll := c.coll(name)
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
		if len(docs) == 0 {
			continue
		}
		batch := make([]any, 0, len(docs))
		for _, d := range docs {
			batch = append(batch, bson.M(d))
		}
		if _, err := coll.InsertMany(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// nextSequence hands out monotonically increasing integer ids per
// collection using findAndModify against the util collection, matching
// spec.md §6's "integer IDs for domain entities" requirement without a
// separate autoincrement service.
func (c *client) nextSequence(ctx context.Context, collection string) (int, error) {
	filter := bson.M{"id": "seq:" + collection}
	update := bson.M{"$inc": bson.M{"value": 1}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc struct {
		Value int `bson:"value"`
	}
	err := c.db.Database(c.dbName).Collection(store.CollectionUtil).
		FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (c *client) ensureIndexes(ctx context.Context) error {
	specs := []struct {
		collection string
		spec       store.IndexSpec
	}{
		{store.CollectionUserActorRelations, store.IndexSpec{Fields: []string{"userId", "actorId"}, Unique: true}},
		{store.CollectionConversationMessages, store.IndexSpec{Fields: []string{"conversationId", "time"}}},
		{store.CollectionAgenda, store.IndexSpec{Fields: []string{"unique"}, Unique: true, Sparse: true}},
	}
	for _, s := range specs {
		if err := c.CreateIndex(ctx, s.collection, s.spec); err != nil {
			return err
		}
	}
	return nil
}

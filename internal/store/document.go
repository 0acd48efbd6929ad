// Package store defines the document-store contract the core consumes
// (spec.md §6, EXTERNAL INTERFACES → Document store) and the
// ConversationStore built on top of it, plus concrete backends: a
// MongoDB-backed implementation (internal/store/mongo) for mongo.kind =
// "remote" and an in-memory implementation (internal/store/memstore) for
// mongo.kind = "memory".
package store

import (
	"context"
	"errors"
	"time"
)

// Collection names are stable across the process (spec.md §6, Persisted
// state layout). Every backend must use exactly these names.
const (
	CollectionRoles                = "roles"
	CollectionActors               = "actors"
	CollectionUsers                = "users"
	CollectionUserActorRelations   = "user_actor_relations"
	CollectionConversations        = "conversations"
	CollectionConversationMessages = "conversation_messages"
	CollectionShortTermMemories    = "short_term_memories"
	CollectionLongTermMemories     = "long_term_memories"
	CollectionAgenda               = "agenda"
	CollectionUtil                 = "util"
)

// StableCollections is the fixed, ordered set of collection names a
// snapshot must cover (spec.md §4.4).
var StableCollections = []string{
	CollectionRoles,
	CollectionActors,
	CollectionUsers,
	CollectionUserActorRelations,
	CollectionConversations,
	CollectionConversationMessages,
	CollectionShortTermMemories,
	CollectionLongTermMemories,
	CollectionAgenda,
	CollectionUtil,
}

// ErrNotFound is returned when an entity lookup finds nothing.
var ErrNotFound = errors.New("store: entity not found")

// Sort describes an ascending (1) or descending (-1) sort on a field.
type Sort struct {
	Field string
	Order int
}

// ListFilter scopes a ListCollection call.
type ListFilter struct {
	// Match is a set of exact-match field constraints.
	Match map[string]any
	Sort  []Sort
	Limit int
}

// IndexSpec describes an index to create on a collection.
type IndexSpec struct {
	Fields []string
	Unique bool
	// Sparse excludes documents that lack the indexed fields entirely from
	// a unique index, so records that never set an optional field don't
	// collide with each other.
	Sparse bool
}

// Entity is the minimal shape every persisted domain record carries
// (spec.md §6, Persisted state layout: "each record carries id and
// createdAt").
type Entity struct {
	ID        any            `bson:"id"`
	CreatedAt int64          `bson:"createdAt"`
	Fields    map[string]any `bson:",inline"`
}

// Document is the document-store contract consumed by the core (spec.md
// §6). IDs are integers for domain entities and opaque strings for jobs;
// timestamps are Unix milliseconds.
type Document interface {
	// UpsertEntity inserts or replaces the entity identified by id within
	// collection. When id is nil, a new id is assigned and returned.
	UpsertEntity(ctx context.Context, collection string, id any, fields map[string]any) (any, error)
	// DeleteEntity removes the entity identified by id. Deleting a
	// nonexistent entity is not an error.
	DeleteEntity(ctx context.Context, collection string, id any) error
	// GetEntity loads a single entity by id. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, collection string, id any) (map[string]any, error)
	// ListCollection returns entities matching filter.
	ListCollection(ctx context.Context, collection string, filter ListFilter) ([]map[string]any, error)
	// CreateIndex ensures an index exists on collection.
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
	// SnapshotAll dumps every named collection as of the call. names is
	// expected to be StableCollections or a subset of it.
	SnapshotAll(ctx context.Context, names []string) (Snapshot, error)
	// RestoreAll replaces the contents of every collection present in snap.
	RestoreAll(ctx context.Context, snap Snapshot) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Snapshot is a point-in-time dump of a fixed, ordered set of collections.
type Snapshot struct {
	Collections map[string][]map[string]any
	TakenAt     time.Time
}

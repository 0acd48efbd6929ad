// Package server implements the Server Registry (spec.md §4.4, component
// C7): a process-wide, at-most-once-constructed cache of Actor Workers
// keyed by (userId, actorId, conversationId), plus snapshot/restore
// delegation to the document store. Construction is single-flight per key,
// grounded on internal/singleflight (itself adapted from the teacher
// pack's haasonsaas-nexus/internal/infra singleflight.Group), since the
// teacher's own runtime/registry is a TTL MemoryCache rather than a
// per-key dedup cache.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/Reynold-degenracy/EverMindAgent/internal/actor"
	"github.com/Reynold-degenracy/EverMindAgent/internal/singleflight"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
)

// DefaultUserName is used when no user record exists, or the record
// carries no name (spec.md §4.4, "load user name or fall back to User").
const DefaultUserName = "User"

// WorkerFactory builds the Config for a freshly created Actor Worker. It
// is called at most once per key, inside the registry's single-flight
// section, with the resolved user display name.
type WorkerFactory func(key actor.Key, userName string) actor.Config

// Registry is the Server Registry.
type Registry struct {
	doc     store.Document
	factory WorkerFactory
	log     telemetry.Logger

	mu      sync.RWMutex
	workers map[actor.Key]*actor.Worker

	group singleflight.Group[actor.Key, *actor.Worker]
}

// New builds an empty Registry. doc backs user/conversation lookups and
// snapshot/restore; factory supplies per-worker configuration.
func New(doc store.Document, factory WorkerFactory, log telemetry.Logger) *Registry {
	return &Registry{
		doc:     doc,
		factory: factory,
		log:     log,
		workers: make(map[actor.Key]*actor.Worker),
	}
}

// GetActor returns the Actor Worker for (userID, actorID, conversationID),
// creating it on first reference (spec.md §4.4). Concurrent callers for a
// key under construction observe exactly one construction and share its
// result or error.
func (r *Registry) GetActor(ctx context.Context, userID, actorID, conversationID int) (*actor.Worker, error) {
	key := actor.Key{UserID: userID, ActorID: actorID, ConversationID: conversationID}

	if w, ok := r.lookup(key); ok {
		return w, nil
	}

	w, err, _ := r.group.Do(key, func() (*actor.Worker, error) {
		// Re-check under the single-flight section: another goroutine may
		// have finished construction between our first lookup and
		// acquiring a slot in the group.
		if w, ok := r.lookup(key); ok {
			return w, nil
		}
		return r.create(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Registry) lookup(key actor.Key) (*actor.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[key]
	return w, ok
}

func (r *Registry) create(ctx context.Context, key actor.Key) (*actor.Worker, error) {
	userName, err := r.loadUserName(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("server: load user name: %w", err)
	}
	if err := r.upsertConversation(ctx, key); err != nil {
		return nil, fmt.Errorf("server: upsert conversation: %w", err)
	}

	cfg := r.factory(key, userName)
	w := actor.New(ctx, cfg)

	r.mu.Lock()
	r.workers[key] = w
	r.mu.Unlock()

	r.log.Info(ctx, "server: actor worker created", "key", key.String())
	return w, nil
}

func (r *Registry) loadUserName(ctx context.Context, userID int) (string, error) {
	doc, err := r.doc.GetEntity(ctx, store.CollectionUsers, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return DefaultUserName, nil
		}
		return "", err
	}
	name, _ := doc["name"].(string)
	if name == "" {
		return DefaultUserName, nil
	}
	return name, nil
}

func (r *Registry) upsertConversation(ctx context.Context, key actor.Key) error {
	_, err := r.doc.UpsertEntity(ctx, store.CollectionConversations, key.ConversationID, map[string]any{
		"userId":  key.UserID,
		"actorId": key.ActorID,
	})
	return err
}

// Snapshot dumps every stable collection as of the call (spec.md §4.4).
func (r *Registry) Snapshot(ctx context.Context) (store.Snapshot, error) {
	return r.doc.SnapshotAll(ctx, store.StableCollections)
}

// Restore replaces the contents of every collection present in snap.
func (r *Registry) Restore(ctx context.Context, snap store.Snapshot) error {
	return r.doc.RestoreAll(ctx, snap)
}

// Len reports the number of currently instantiated Actor Workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

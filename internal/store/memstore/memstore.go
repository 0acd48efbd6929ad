// Package memstore implements store.Document entirely in memory, for
// mongo.kind = "memory" deployments (tests, local tooling, the CLI demo
// mode). It generalizes the teacher's
// features/session/mongo/clients/mongo/inmem in-memory store shape to
// arbitrary named collections.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
)

// Store is an in-memory store.Document. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	nextIntID   map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]any),
		nextIntID:   make(map[string]int),
	}
}

func (s *Store) coll(name string) map[string]map[string]any {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		s.collections[name] = c
	}
	return c
}

func keyOf(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// UpsertEntity implements store.Document.
func (s *Store) UpsertEntity(_ context.Context, collection string, id any, fields map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)

	assignedID := id
	if assignedID == nil {
		// Domain entities use integer ids (spec.md §6); jobs use opaque
		// strings. Collections addressed without an id get an integer id
		// assigned sequentially, matching a document store's auto-id
		// behavior for domain entities.
		s.nextIntID[collection]++
		assignedID = s.nextIntID[collection]
	}
	key := keyOf(assignedID)
	if key == "" {
		key = uuid.NewString()
		assignedID = key
	}

	existing, ok := c[key]
	merged := make(map[string]any, len(fields)+2)
	if ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["id"] = assignedID
	if _, ok := merged["createdAt"]; !ok {
		merged["createdAt"] = time.Now().UnixMilli()
	}
	c[key] = merged
	return assignedID, nil
}

// DeleteEntity implements store.Document.
func (s *Store) DeleteEntity(_ context.Context, collection string, id any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coll(collection), keyOf(id))
	return nil
}

// GetEntity implements store.Document.
func (s *Store) GetEntity(_ context.Context, collection string, id any) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.coll(collection)[keyOf(id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMap(doc), nil
}

// ListCollection implements store.Document.
func (s *Store) ListCollection(_ context.Context, collection string, filter store.ListFilter) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []map[string]any
	for _, doc := range s.coll(collection) {
		if matches(doc, filter.Match) {
			out = append(out, cloneMap(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		for _, srt := range filter.Sort {
			a, b := out[i][srt.Field], out[j][srt.Field]
			cmp := compare(a, b)
			if cmp == 0 {
				continue
			}
			if srt.Order < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateIndex is a no-op: an in-memory map scan needs no index structures,
// but uniqueness is honored on UpsertEntity callers' id choice.
func (s *Store) CreateIndex(context.Context, string, store.IndexSpec) error {
	return nil
}

// SnapshotAll implements store.Document.
func (s *Store) SnapshotAll(_ context.Context, names []string) (store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := store.Snapshot{Collections: make(map[string][]map[string]any, len(names)), TakenAt: time.Now()}
	for _, name := range names {
		var docs []map[string]any
		for _, doc := range s.coll(name) {
			docs = append(docs, cloneMap(doc))
		}
		snap.Collections[name] = docs
	}
	return snap, nil
}

// RestoreAll implements store.Document.
func (s *Store) RestoreAll(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, docs := range snap.Collections {
		c := make(map[string]map[string]any, len(docs))
		for _, doc := range docs {
			if id, ok := doc["id"]; ok {
				c[keyOf(id)] = cloneMap(doc)
			}
		}
		s.collections[name] = c
	}
	return nil
}

// Ping always succeeds: there is no network boundary to probe.
func (s *Store) Ping(context.Context) error { return nil }

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func matches(doc map[string]any, match map[string]any) bool {
	for k, want := range match {
		if got, ok := doc[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

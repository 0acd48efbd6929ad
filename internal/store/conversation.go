package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
)

// ConversationStore is the Conversation store contract from spec.md §2
// (component C3): ordered append and bounded read-back of BufferMessages
// for one conversation, built entirely on Document so either backend
// (mongo or memstore) satisfies it without change.
type ConversationStore struct {
	doc Document
}

// NewConversationStore wraps a Document as a ConversationStore.
func NewConversationStore(doc Document) *ConversationStore {
	return &ConversationStore{doc: doc}
}

// Append persists one BufferMessage at the given sequence number.
// Sequence numbers are assigned by the caller (the actor's
// single-consumer write pipeline) so that append order and persisted
// order always agree, even across retried writes.
func (s *ConversationStore) Append(ctx context.Context, seq int64, msg contentmodel.BufferMessage) error {
	doc := map[string]any{
		"conversationId": msg.ConversationID,
		"kind":           string(msg.Kind),
		"name":           msg.Name,
		"msgId":          msg.ID,
		"contents":       msg.Contents,
		"time":           msg.Time,
		"seq":            seq,
	}
	if _, err := s.doc.UpsertEntity(ctx, CollectionConversationMessages, nil, doc); err != nil {
		return fmt.Errorf("store: append buffer message: %w", err)
	}
	return nil
}

// Tail returns the most recent limit BufferMessages for conversationID,
// in append order (oldest first). limit <= 0 means no bound.
func (s *ConversationStore) Tail(ctx context.Context, conversationID int, limit int) ([]contentmodel.BufferMessage, error) {
	filter := ListFilter{
		Match: map[string]any{"conversationId": conversationID},
		Sort:  []Sort{{Field: "seq", Order: -1}},
		Limit: limit,
	}
	docs, err := s.doc.ListCollection(ctx, CollectionConversationMessages, filter)
	if err != nil {
		return nil, fmt.Errorf("store: tail buffer messages: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool {
		return seqOf(docs[i]["seq"]) < seqOf(docs[j]["seq"])
	})
	out := make([]contentmodel.BufferMessage, 0, len(docs))
	for _, doc := range docs {
		out = append(out, bufferMessageOf(doc))
	}
	return out, nil
}

func bufferMessageOf(doc map[string]any) contentmodel.BufferMessage {
	msg := contentmodel.BufferMessage{}
	if kind, ok := doc["kind"].(string); ok {
		msg.Kind = contentmodel.BufferKind(kind)
	}
	if name, ok := doc["name"].(string); ok {
		msg.Name = name
	}
	if id, ok := doc["msgId"].(string); ok {
		msg.ID = id
	}
	if convID, ok := toInt(doc["conversationId"]); ok {
		msg.ConversationID = convID
	}
	msg.Time = seqOf(doc["time"])
	if contents, ok := doc["contents"].([]contentmodel.Content); ok {
		msg.Contents = contents
	} else if raw, ok := doc["contents"].([]any); ok {
		msg.Contents = contentsFromRaw(raw)
	}
	return msg
}

func contentsFromRaw(raw []any) []contentmodel.Content {
	out := make([]contentmodel.Content, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		text, _ := m["text"].(string)
		out = append(out, contentmodel.Content{Kind: contentmodel.ContentKind(kind), Text: text})
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func seqOf(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// EnsureIndexes creates the indexes ConversationStore relies on.
func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	return s.doc.CreateIndex(ctx, CollectionConversationMessages, IndexSpec{Fields: []string{"conversationId", "seq"}, Unique: true})
}

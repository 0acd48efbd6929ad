package contentmodel

// BufferKind discriminates the author of a persisted BufferMessage.
type BufferKind string

const (
	// BufferKindUser marks a message authored by the end user.
	BufferKindUser BufferKind = "user"
	// BufferKindActor marks a message authored by the agent (a delivered
	// ema_reply).
	BufferKindActor BufferKind = "actor"
)

// BufferMessage is a Message enriched for persistence and recall: it
// carries author identity and a monotonic-enough wall-clock timestamp so
// ordering by Time and insertion position can both be preserved (spec.md
// §3, Invariants).
type BufferMessage struct {
	Kind     BufferKind `json:"kind" bson:"kind"`
	ID       string     `json:"id" bson:"id"`
	Name     string     `json:"name" bson:"name"`
	Contents []Content  `json:"contents" bson:"contents"`
	// Time is Unix milliseconds, matching the timestamp convention spec.md
	// §6 requires of the document store.
	Time int64 `json:"time" bson:"time"`

	// ConversationID scopes the message to a single conversation's ordered
	// log; it is not part of the spec.md BufferMessage shape but is
	// required by any persistence layer that stores messages from more
	// than one conversation in a shared collection.
	ConversationID int `json:"conversation_id" bson:"conversationId"`
}

// Text concatenates the text of every text Content in the buffer message.
func (b BufferMessage) Text() string {
	var out string
	for _, c := range b.Contents {
		if c.Kind == ContentKindText {
			out += c.Text
		}
	}
	return out
}

// NewUserBufferMessage builds a BufferMessage for a batch of user inputs.
func NewUserBufferMessage(conversationID int, id, name string, contents []Content, timeMS int64) BufferMessage {
	return BufferMessage{
		Kind:           BufferKindUser,
		ID:             id,
		Name:           name,
		Contents:       contents,
		Time:           timeMS,
		ConversationID: conversationID,
	}
}

// NewActorBufferMessage builds a BufferMessage for a delivered agent reply.
func NewActorBufferMessage(conversationID int, id, name, text string, timeMS int64) BufferMessage {
	return BufferMessage{
		Kind:           BufferKindActor,
		ID:             id,
		Name:           name,
		Contents:       []Content{NewText(text)},
		Time:           timeMS,
		ConversationID: conversationID,
	}
}

package models

// EventIndex numbers every event appended to a timeline scope. Indices are
// assigned sequentially starting at 1 and are never reused or skipped.
type EventIndex uint32

// MessageIndex numbers only message-bearing events within a scope. It is an
// independent counter from EventIndex.
type MessageIndex uint32

// MessageID is a caller-supplied opaque identifier, unique per sender within
// the conversation. It lets callers address a message for edit/react before
// they learn its MessageIndex.
type MessageID uint64

type EventKind string

const (
	KindMessage         EventKind = "message"
	KindMembersJoined   EventKind = "members_joined"
	KindMembersLeft     EventKind = "members_left"
	KindMessagePinned   EventKind = "message_pinned"
	KindMessageUnpinned EventKind = "message_unpinned"
	KindRulesChanged    EventKind = "rules_changed"
	KindWebhookAdded    EventKind = "webhook_added"
	KindWebhookRemoved  EventKind = "webhook_removed"
)

// EventEnvelope is the immutable wrapper around one logged event. Envelopes
// are never rewritten after creation; message mutation happens on the payload
// record the envelope points at (see MessagePayload).
type EventEnvelope struct {
	Index EventIndex `json:"index"`
	// TS is wall-clock nanoseconds at admission. Informational only; every
	// ordering decision keys on Index.
	TS   int64     `json:"ts"`
	Kind EventKind `json:"kind"`

	// MessageIndex is set when Kind is KindMessage; the payload lives in a
	// separate mutable record addressed by this index.
	MessageIndex MessageIndex `json:"message_index,omitempty"`

	// Inline payloads for non-message events. These never mutate.
	Membership *MembershipChange `json:"membership,omitempty"`
	Pinned     *PinnedChange     `json:"pinned,omitempty"`
	Rules      *RulesChanged     `json:"rules,omitempty"`
	Webhook    *WebhookChange    `json:"webhook,omitempty"`
}

type MembershipChange struct {
	Members []string `json:"members"`
}

type PinnedChange struct {
	MessageIndex MessageIndex `json:"message_index"`
	By           string       `json:"by"`
}

type RulesChanged struct {
	Version uint32 `json:"version"`
	By      string `json:"by"`
}

type WebhookChange struct {
	WebhookID string `json:"webhook_id"`
	By        string `json:"by"`
}

package models

// MessagePayload is the mutable "current message" record for one message
// event. The owning envelope is immutable; edits, reactions, deletes, poll
// votes and swap transitions all land here.
type MessagePayload struct {
	MessageIndex MessageIndex `json:"message_index"`
	EventIndex   EventIndex   `json:"event_index"`
	MessageID    MessageID    `json:"message_id,omitempty"`
	Sender       string       `json:"sender"`
	TS           int64        `json:"ts"`

	Content string `json:"content,omitempty"`
	// OriginalContent is retained from before the first edit.
	OriginalContent string `json:"original_content,omitempty"`
	Edited          bool   `json:"edited,omitempty"`

	// Mentions lists users mentioned by this message; consumed by the
	// mentions index at append time.
	Mentions []string `json:"mentions,omitempty"`

	// Reactions maps reaction -> senders who applied it.
	Reactions map[string][]string `json:"reactions,omitempty"`

	DeletedBy   string `json:"deleted_by,omitempty"`
	DeletedTS   int64  `json:"deleted_ts,omitempty"`
	HardDeleted bool   `json:"hard_deleted,omitempty"`
	// HiddenContent holds the content of a soft-deleted message so an
	// authorized party can still recover it until hard delete.
	HiddenContent string `json:"hidden_content,omitempty"`

	// Thread is the cached summary of this message's thread, maintained
	// atomically with every append to the thread scope. Nil when the message
	// has no thread.
	Thread *ThreadSummary `json:"thread,omitempty"`

	Poll *PollState `json:"poll,omitempty"`
	Swap *SwapState `json:"swap,omitempty"`

	// LastUpdated is the caller-supplied time of the latest payload mutation.
	// Informational only: caller clocks skew, so nothing orders on it.
	LastUpdated int64 `json:"last_updated,omitempty"`

	// Revision counts payload mutations since append. Reads report a message
	// as affected when it is non-zero, independent of wall clocks.
	Revision uint32 `json:"revision,omitempty"`
}

// Deleted reports whether the message is currently soft- or hard-deleted.
func (m *MessagePayload) Deleted() bool {
	return m.HardDeleted || m.DeletedTS != 0
}

// ThreadSummary aggregates one thread for O(1) display on its root message.
type ThreadSummary struct {
	Participants     []string   `json:"participants,omitempty"`
	ReplyCount       uint32     `json:"reply_count"`
	LatestEventIndex EventIndex `json:"latest_event_index"`
	LatestEventTS    int64      `json:"latest_event_ts"`
}

// PollState holds poll sub-state on a message payload.
type PollState struct {
	Options []string            `json:"options"`
	Votes   map[string][]string `json:"votes,omitempty"` // option -> voters
	Ended   bool                `json:"ended,omitempty"`
	EndedTS int64               `json:"ended_ts,omitempty"`
}

type SwapStatus string

const (
	SwapOpen      SwapStatus = "open"
	SwapReserved  SwapStatus = "reserved"
	SwapCompleted SwapStatus = "completed"
	SwapCancelled SwapStatus = "cancelled"
	SwapExpired   SwapStatus = "expired"
)

// SwapState holds token-swap sub-state on a message payload. Only the status
// transitions matter to the event store; amounts and tokens are opaque.
type SwapState struct {
	Status     SwapStatus `json:"status"`
	ReservedBy string     `json:"reserved_by,omitempty"`
	UpdatedTS  int64      `json:"updated_ts,omitempty"`
}

// Mention is one entry in the mentions index.
type Mention struct {
	Mentioned    string        `json:"mentioned"`
	MessageIndex MessageIndex  `json:"message_index"`
	EventIndex   EventIndex    `json:"event_index"`
	ThreadRoot   *MessageIndex `json:"thread_root,omitempty"`
	TS           int64         `json:"ts"`
}

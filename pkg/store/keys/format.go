package keys

const (
	// notation dictionary for key formats:
	// e   = event envelope
	// p   = message payload (mutable)
	// mid = message id -> locator lookup
	// ctr = scope counters
	// mn  = mention entry, mnd = mention dedup guard
	// sr  = search posting, srd = search document
	// lu  = last-updated index (t = by time, s = by subject)
	// del = soft delete marker (keyed by deletion time, for retention scans)
	// All keys are lowercase; segments are separated by ":"
	// <scope> is "m" for the main timeline or "t:<root>" for a thread

	EventKey   = "e:%s:%s" // e:<scope>:<index>
	PayloadKey = "p:%s:%s" // p:<scope>:<message_index>

	MessageIDKey = "mid:%s:%020d" // mid:<sender>:<message_id> -> locator

	CounterEventKey   = "ctr:e:%s" // ctr:e:<scope>
	CounterMessageKey = "ctr:m:%s" // ctr:m:<scope>

	MentionKey      = "mn:%s:%s:%s" // mn:<user>:<rev_ts>:<event_index>
	MentionGuardKey = "mnd:%s:%s"   // mnd:<user>:<locator>

	SearchPostingKey = "sr:%s:%s" // sr:<token>:<rev_message_index>
	SearchDocKey     = "srd:%s"   // srd:<rev_message_index>

	UpdatedByTimeKey    = "lu:t:%s:%s" // lu:t:<rev_ts>:<subject>
	UpdatedBySubjectKey = "lu:s:%s"    // lu:s:<subject> -> current ts

	SoftDeleteMarker = "del:%s:%s:%s" // del:<ts>:<scope>:<message_index>

	// padding widths (fixed for lexicographic ordering)
	IdxPadWidth = 10 // uint32 decimal
	TSPadWidth  = 20 // int64 nanoseconds

	// scope segments
	MainScopeSegment   = "m"
	ThreadScopePrefix  = "t:"
	ThreadScopeSegment = "t:%s" // t:<root message index>
)

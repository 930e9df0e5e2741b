package keys

import (
	"fmt"
	"math"
)

// ScopeSegment renders a scope for key embedding. root is nil for the main
// timeline.
func ScopeSegment(root *uint32) string {
	if root == nil {
		return MainScopeSegment
	}
	return fmt.Sprintf(ThreadScopeSegment, PadIdx(*root))
}

func GenEventKey(scope string, idx uint32) string {
	return fmt.Sprintf(EventKey, scope, PadIdx(idx))
}

func GenEventPrefix(scope string) string {
	return fmt.Sprintf("e:%s:", scope)
}

func GenPayloadKey(scope string, msgIdx uint32) string {
	return fmt.Sprintf(PayloadKey, scope, PadIdx(msgIdx))
}

func GenMessageIDKey(sender string, id uint64) string {
	return fmt.Sprintf(MessageIDKey, sender, id)
}

func GenCounterEventKey(scope string) string {
	return fmt.Sprintf(CounterEventKey, scope)
}

func GenCounterMessageKey(scope string) string {
	return fmt.Sprintf(CounterMessageKey, scope)
}

// mentions: reverse timestamp so a forward scan yields most recent first
func GenMentionKey(user string, ts int64, eventIdx uint32) string {
	return fmt.Sprintf(MentionKey, user, PadRevTS(ts), PadIdx(eventIdx))
}

func GenMentionPrefix(user string) string {
	return fmt.Sprintf("mn:%s:", user)
}

func GenMentionGuardKey(user, locator string) string {
	return fmt.Sprintf(MentionGuardKey, user, locator)
}

// search: reverse message index so a forward scan yields newest first
func GenSearchPostingKey(token string, msgIdx uint32) string {
	return fmt.Sprintf(SearchPostingKey, token, PadRevIdx(msgIdx))
}

func GenSearchTokenPrefix(token string) string {
	return fmt.Sprintf("sr:%s:", token)
}

func GenSearchDocKey(msgIdx uint32) string {
	return fmt.Sprintf(SearchDocKey, PadRevIdx(msgIdx))
}

func GenUpdatedByTimeKey(ts int64, subject string) string {
	return fmt.Sprintf(UpdatedByTimeKey, PadRevTS(ts), subject)
}

func GenUpdatedBySubjectKey(subject string) string {
	return fmt.Sprintf(UpdatedBySubjectKey, subject)
}

func GenSoftDeleteMarker(ts int64, scope string, msgIdx uint32) string {
	return fmt.Sprintf(SoftDeleteMarker, PadTS(ts), scope, PadIdx(msgIdx))
}

// helpers
func PadIdx(v uint32) string {
	return fmt.Sprintf("%0*d", IdxPadWidth, v)
}

func PadRevIdx(v uint32) string {
	return fmt.Sprintf("%0*d", IdxPadWidth, math.MaxUint32-v)
}

func PadTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadRevTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, math.MaxInt64-ts)
}

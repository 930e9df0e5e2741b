package events

import (
	"fmt"
	"strings"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"
)

// Scope selects a timeline: the main timeline of the conversation or the
// sub-timeline of one thread. Both carry independent event and message
// counters and are read through the same code path so ordering and floor
// rules cannot diverge between them.
type Scope struct {
	root   models.MessageIndex
	thread bool
}

// MainScope addresses the conversation's main timeline.
func MainScope() Scope {
	return Scope{}
}

// ThreadScope addresses the thread rooted at the given main-timeline message.
func ThreadScope(root models.MessageIndex) Scope {
	return Scope{root: root, thread: true}
}

func (s Scope) IsThread() bool { return s.thread }

// Root returns the thread root message index; ok is false for the main scope.
func (s Scope) Root() (models.MessageIndex, bool) {
	return s.root, s.thread
}

func (s Scope) segment() string {
	if !s.thread {
		return keys.ScopeSegment(nil)
	}
	r := uint32(s.root)
	return keys.ScopeSegment(&r)
}

func (s Scope) String() string {
	if !s.thread {
		return "main"
	}
	return fmt.Sprintf("thread(%d)", s.root)
}

func parseScopeSegment(seg string) (Scope, error) {
	if seg == keys.MainScopeSegment {
		return MainScope(), nil
	}
	if strings.HasPrefix(seg, keys.ThreadScopePrefix) {
		idx, err := keys.ParseIdx(strings.TrimPrefix(seg, keys.ThreadScopePrefix))
		if err != nil {
			return Scope{}, err
		}
		return ThreadScope(models.MessageIndex(idx)), nil
	}
	return Scope{}, fmt.Errorf("invalid scope segment %q", seg)
}

// MessageRef addresses a message either by (scope, message index) or by the
// caller-supplied message id, for callers that have not yet learned the index.
type MessageRef struct {
	scope    Scope
	index    models.MessageIndex
	byIndex  bool
	id       models.MessageID
	idSender string
}

// ByIndex addresses a message by its index within a scope.
func ByIndex(scope Scope, idx models.MessageIndex) MessageRef {
	return MessageRef{scope: scope, index: idx, byIndex: true}
}

// ByID addresses a message by the id its sender assigned it.
func ByID(sender string, id models.MessageID) MessageRef {
	return MessageRef{id: id, idSender: sender}
}

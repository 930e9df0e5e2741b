package models

import (
	"errors"
	"fmt"
)

// Expected failure conditions are plain sentinel errors so callers can branch
// with errors.Is. Collaborator faults (storage corruption, exhaustion) are
// wrapped and propagate as-is.
var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrThreadNotFound     = errors.New("thread not found")
	ErrScopeNotFound      = errors.New("scope not found")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrMessageHardDeleted = errors.New("message hard deleted")
	ErrInvalidReaction    = errors.New("invalid reaction")
	ErrPollNotFound       = errors.New("message has no poll")
	ErrPollEnded          = errors.New("poll ended")
	ErrSwapNotFound       = errors.New("message has no swap")
	ErrSwapFinalized      = errors.New("swap already finalized")
)

// ReplicaNotUpToDateError signals that the caller's view is fresher than this
// replica: the caller supplied a latest event index the store has not reached
// yet. Not a failure of the operation; the caller retries once the replica
// catches up to Latest.
type ReplicaNotUpToDateError struct {
	Latest EventIndex
}

func (e *ReplicaNotUpToDateError) Error() string {
	return fmt.Sprintf("replica not up to date: latest event index %d", e.Latest)
}

// UpdateOutcome distinguishes a transition that changed state from an
// idempotent no-op success. Redundant calls (reacting twice, deleting an
// already soft-deleted message) are NoChange, not errors, so at-least-once
// callers can retry safely.
type UpdateOutcome int

const (
	Updated UpdateOutcome = iota
	NoChange
)

func (o UpdateOutcome) String() string {
	if o == NoChange {
		return "no_change"
	}
	return "updated"
}

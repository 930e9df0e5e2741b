package events

import (
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
)

// hotRing keeps the most recent envelopes of one scope fully materialized.
// Older envelopes fall back to the durable tier and are deserialized on
// demand. Envelope contents never mutate, so cached copies never go stale;
// message payloads are always read fresh.
type hotRing struct {
	cap  int
	envs []models.EventEnvelope
}

func newHotRing(capacity int) *hotRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &hotRing{cap: capacity}
}

// pushGrew appends an envelope, evicting the oldest when full. Reports
// whether the resident count grew.
func (h *hotRing) pushGrew(env models.EventEnvelope) bool {
	h.envs = append(h.envs, env)
	if len(h.envs) > h.cap {
		h.envs = h.envs[len(h.envs)-h.cap:]
		return false
	}
	return true
}

// get returns the cached envelope for idx, if still resident.
func (h *hotRing) get(idx models.EventIndex) (models.EventEnvelope, bool) {
	if len(h.envs) == 0 {
		return models.EventEnvelope{}, false
	}
	first := h.envs[0].Index
	if idx < first || idx > h.envs[len(h.envs)-1].Index {
		return models.EventEnvelope{}, false
	}
	return h.envs[idx-first], true
}

func (h *hotRing) len() int { return len(h.envs) }

package keys

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseIdx decodes a fixed-width index segment.
func ParseIdx(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid index segment %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseRevIdx decodes a reverse-padded index segment.
func ParseRevIdx(s string) (uint32, error) {
	v, err := ParseIdx(s)
	if err != nil {
		return 0, err
	}
	return math.MaxUint32 - v, nil
}

// ParseTS decodes a fixed-width timestamp segment.
func ParseTS(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp segment %q: %w", s, err)
	}
	return v, nil
}

// ParseRevTS decodes a reverse-padded timestamp segment.
func ParseRevTS(s string) (int64, error) {
	v, err := ParseTS(s)
	if err != nil {
		return 0, err
	}
	return math.MaxInt64 - v, nil
}

// ParseMentionKey splits mn:<user>:<rev_ts>:<event_index>. The user segment
// may itself contain ":" so the fixed tail is parsed from the right.
func ParseMentionKey(key string) (user string, ts int64, eventIdx uint32, err error) {
	if !strings.HasPrefix(key, "mn:") {
		return "", 0, 0, fmt.Errorf("not a mention key: %q", key)
	}
	rest := strings.TrimPrefix(key, "mn:")
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", 0, 0, fmt.Errorf("malformed mention key: %q", key)
	}
	eventIdx, err = ParseIdx(rest[i+1:])
	if err != nil {
		return "", 0, 0, err
	}
	rest = rest[:i]
	j := strings.LastIndexByte(rest, ':')
	if j < 0 {
		return "", 0, 0, fmt.Errorf("malformed mention key: %q", key)
	}
	ts, err = ParseRevTS(rest[j+1:])
	if err != nil {
		return "", 0, 0, err
	}
	return rest[:j], ts, eventIdx, nil
}

// ParseUpdatedByTimeKey splits lu:t:<rev_ts>:<subject>.
func ParseUpdatedByTimeKey(key string) (ts int64, subject string, err error) {
	if !strings.HasPrefix(key, "lu:t:") {
		return 0, "", fmt.Errorf("not an updated-by-time key: %q", key)
	}
	rest := strings.TrimPrefix(key, "lu:t:")
	if len(rest) < TSPadWidth+1 {
		return 0, "", fmt.Errorf("malformed updated-by-time key: %q", key)
	}
	ts, err = ParseRevTS(rest[:TSPadWidth])
	if err != nil {
		return 0, "", err
	}
	return ts, rest[TSPadWidth+1:], nil
}

// ParseSearchPostingKey splits sr:<token>:<rev_message_index>.
func ParseSearchPostingKey(key string) (token string, msgIdx uint32, err error) {
	if !strings.HasPrefix(key, "sr:") {
		return "", 0, fmt.Errorf("not a search posting key: %q", key)
	}
	rest := strings.TrimPrefix(key, "sr:")
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed search posting key: %q", key)
	}
	msgIdx, err = ParseRevIdx(rest[i+1:])
	if err != nil {
		return "", 0, err
	}
	return rest[:i], msgIdx, nil
}

// ParseSoftDeleteMarker splits del:<ts>:<scope>:<message_index>.
func ParseSoftDeleteMarker(key string) (ts int64, scope string, msgIdx uint32, err error) {
	if !strings.HasPrefix(key, "del:") {
		return 0, "", 0, fmt.Errorf("not a soft delete marker: %q", key)
	}
	rest := strings.TrimPrefix(key, "del:")
	if len(rest) < TSPadWidth+1 {
		return 0, "", 0, fmt.Errorf("malformed soft delete marker: %q", key)
	}
	ts, err = ParseTS(rest[:TSPadWidth])
	if err != nil {
		return 0, "", 0, err
	}
	rest = rest[TSPadWidth+1:]
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return 0, "", 0, fmt.Errorf("malformed soft delete marker: %q", key)
	}
	msgIdx, err = ParseIdx(rest[i+1:])
	if err != nil {
		return 0, "", 0, err
	}
	return ts, rest[:i], msgIdx, nil
}

// ParseEventKey splits e:<scope>:<index>.
func ParseEventKey(key string) (scope string, idx uint32, err error) {
	if !strings.HasPrefix(key, "e:") {
		return "", 0, fmt.Errorf("not an event key: %q", key)
	}
	rest := strings.TrimPrefix(key, "e:")
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed event key: %q", key)
	}
	idx, err = ParseIdx(rest[i+1:])
	if err != nil {
		return "", 0, err
	}
	return rest[:i], idx, nil
}

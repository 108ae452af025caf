package mqtt

import (
	"fmt"
	"strings"
)

// Topic wildcard tokens.
const (
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

type segmentKind uint8

const (
	segmentExact segmentKind = iota
	segmentSingle
	segmentTail
)

type segment struct {
	kind  segmentKind
	value string
}

// Pattern is a compiled MQTT topic filter.
//
// Compile once with CompilePattern and reuse; Matches does no allocation
// beyond splitting the topic.
type Pattern struct {
	raw      string
	segments []segment
}

// CompilePattern compiles a topic filter into per-segment matchers.
//
// A "+" segment matches exactly one level, which may be empty. A "#" in
// the last segment matches the parent level and any number of levels
// below it. Wildcards that share a segment with other characters, or a
// "#" that is not last, have no special meaning and match literally.
// CompilePattern never fails; use ValidatePattern to reject such filters
// before subscribing.
func CompilePattern(pattern string) Pattern {
	parts := strings.Split(pattern, topicSeparator)
	segs := make([]segment, len(parts))
	for i, part := range parts {
		switch {
		case part == singleLevelWildcard:
			segs[i] = segment{kind: segmentSingle}
		case part == multiLevelWildcard && i == len(parts)-1:
			segs[i] = segment{kind: segmentTail}
		default:
			segs[i] = segment{kind: segmentExact, value: part}
		}
	}
	return Pattern{raw: pattern, segments: segs}
}

// String returns the filter as written.
func (p Pattern) String() string {
	return p.raw
}

// IsWildcard reports whether the pattern contains any wildcard segment.
func (p Pattern) IsWildcard() bool {
	for _, s := range p.segments {
		if s.kind != segmentExact {
			return true
		}
	}
	return false
}

// Matches reports whether topic is matched by the pattern.
//
// Topics starting with "$" (broker-internal such as $SYS) are never
// matched by a filter whose first segment is a wildcard.
func (p Pattern) Matches(topic string) bool {
	if len(p.segments) == 0 {
		return false
	}
	if strings.HasPrefix(topic, "$") && p.segments[0].kind != segmentExact {
		return false
	}

	levels := strings.Split(topic, topicSeparator)
	for i, seg := range p.segments {
		if seg.kind == segmentTail {
			// "a/#" also matches "a".
			return len(levels) >= i
		}
		if i >= len(levels) {
			return false
		}
		if seg.kind == segmentExact && seg.value != levels[i] {
			return false
		}
	}
	return len(levels) == len(p.segments)
}

// TopicMatches compiles pattern and matches it against topic.
// Prefer CompilePattern when the same pattern is used repeatedly.
func TopicMatches(pattern, topic string) bool {
	return CompilePattern(pattern).Matches(topic)
}

// ValidatePattern checks that a topic filter is acceptable to a broker.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}
	parts := strings.Split(pattern, topicSeparator)
	for i, part := range parts {
		if part == singleLevelWildcard {
			continue
		}
		if part == multiLevelWildcard {
			if i != len(parts)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidTopic, multiLevelWildcard, pattern)
			}
			continue
		}
		if strings.ContainsAny(part, singleLevelWildcard+multiLevelWildcard) {
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, pattern)
		}
	}
	return nil
}

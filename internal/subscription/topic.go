package subscription

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Topic filter limits.
const (
	// MaxTopicLength is the longest topic filter MQTT can encode.
	MaxTopicLength = 65535

	// MaxQoS is the highest MQTT quality of service level.
	MaxQoS = 2

	levelSeparator   = "/"
	singleLevelWild  = "+"
	multiLevelWild   = "#"
	sharedPrefix     = "$share/"
	systemTopicStart = '$'
)

// ValidateTopic checks a topic filter against the MQTT rules:
//   - not empty, at most 65535 bytes, valid UTF-8 without NUL
//   - "+" occupies a whole level
//   - "#" occupies a whole level and is the last level
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTopic, len(topic), MaxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}

	levels := strings.Split(topic, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWild) {
			if level != multiLevelWild || i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the whole last level", ErrInvalidTopic, multiLevelWild)
			}
		}
		if strings.Contains(level, singleLevelWild) && level != singleLevelWild {
			return fmt.Errorf("%w: %q must be a whole level", ErrInvalidTopic, singleLevelWild)
		}
	}

	return nil
}

// ValidateQoS checks that qos is 0, 1 or 2.
func ValidateQoS(qos byte) error {
	if qos > MaxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

// HasWildcard reports whether the filter contains "+" or "#".
func HasWildcard(filter string) bool {
	return strings.ContainsAny(filter, singleLevelWild+multiLevelWild)
}

// Match reports whether a concrete topic name matches a topic filter.
//
// Wildcards at the first level do not match topics starting with "$".
// Shared subscription filters ($share/group/filter) match on the filter part.
func Match(filter, topic string) bool {
	if rest, ok := strings.CutPrefix(filter, sharedPrefix); ok {
		_, f, found := strings.Cut(rest, levelSeparator)
		if !found {
			return false
		}
		filter = f
	}

	if filter == topic {
		return true
	}

	if topic != "" && topic[0] == systemTopicStart && filter != "" && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, levelSeparator)
	tl := strings.Split(topic, levelSeparator)

	for i, level := range fl {
		switch level {
		case multiLevelWild:
			// "a/#" also matches "a".
			return true
		case singleLevelWild:
			if i >= len(tl) {
				return false
			}
		default:
			if i >= len(tl) || tl[i] != level {
				return false
			}
		}
	}

	return len(fl) == len(tl)
}

// specificity orders matching filters: fewer wildcards first, then more
// levels. Used to pick one handler when several wildcard filters match.
func specificity(filter string) (wildcards, levels int) {
	for _, level := range strings.Split(filter, levelSeparator) {
		levels++
		if level == singleLevelWild || level == multiLevelWild {
			wildcards++
		}
	}
	return wildcards, levels
}

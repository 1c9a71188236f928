package realtime

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// GenerateEvents expands a hierarchical event pattern such as
//
//	databases.{databaseId}.collections.{collectionId}.attributes.{attributeId}.update
//
// into every event name a subscriber could have registered for: the fully
// instantiated name first, then progressively less specific variants with
// wildcard segments and with the trailing action removed. Routing tables match
// against the whole list; senders rely on the most specific name being first.
func GenerateEvents(pattern string, params map[string]string) []string {
	segments := strings.Split(pattern, ".")

	placeholders := make([]int, 0, len(segments))
	for i, segment := range segments {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			placeholders = append(placeholders, i)
		}
	}

	// The action is everything after the last placeholder, e.g. "update".
	action := 0
	if len(placeholders) > 0 {
		action = len(segments) - placeholders[len(placeholders)-1] - 1
	}

	masks := make([]int, 0, 1<<len(placeholders))
	for mask := 0; mask < 1<<len(placeholders); mask++ {
		masks = append(masks, mask)
	}
	// Fewer wildcards first; among equal counts, lower masks (wildcarding
	// earlier placeholders) come first to keep the order deterministic.
	sort.SliceStable(masks, func(a, b int) bool {
		if bits.OnesCount(uint(masks[a])) != bits.OnesCount(uint(masks[b])) {
			return bits.OnesCount(uint(masks[a])) < bits.OnesCount(uint(masks[b]))
		}
		return masks[a] < masks[b]
	})

	seen := make(map[string]struct{})
	events := make([]string, 0, len(masks)*2)

	emit := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			events = append(events, name)
		}
	}

	for _, mask := range masks {
		resolved := make([]string, len(segments))
		copy(resolved, segments)

		for bit, position := range placeholders {
			key := strings.Trim(segments[position], "{}")
			if mask&(1<<bit) != 0 {
				resolved[position] = "*"
			} else if value, ok := params[key]; ok {
				resolved[position] = value
			} else {
				resolved[position] = "*"
			}
		}

		emit(strings.Join(resolved, "."))
		if action > 0 {
			emit(strings.Join(resolved[:len(resolved)-action], "."))
		}
	}

	return events
}

// ResourceChannel strips the trailing action from an instantiated event name,
// yielding the channel a subscriber watches for changes to that resource.
func ResourceChannel(event string) string {
	if idx := strings.LastIndex(event, "."); idx > 0 {
		last := event[idx+1:]
		if last == "create" || last == "update" || last == "delete" {
			return event[:idx]
		}
	}
	return event
}

// FromPayload derives the routing target for a message from its most specific
// event name and the owning project.
func FromPayload(event string, projectId string) Target {
	return Target{
		Channels: []string{"console", fmt.Sprintf("projects.%v", projectId), ResourceChannel(event)},
		Roles:    []string{"any"},
	}
}

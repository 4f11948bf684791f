package basic

import "github.com/paperbench/paperbench/pkg/chat"

// pruneMessages drops the oldest non-system messages once the history
// exceeds max, always keeping every system message. The result is a new
// slice; the caller's slice is never mutated in place.
func pruneMessages(messages []chat.Message, max int) []chat.Message {
	if len(messages) <= max {
		return messages
	}
	system, rest := splitSystem(messages)
	keep := max - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}
	return rebind(system, alignToPairBoundary(rest))
}

// pruneOldest handles a provider context-overflow rejection by dropping
// the oldest ~30% of the non-system history, keeping the initial
// instruction and never splitting a tool_call from its tool_result.
func pruneOldest(messages []chat.Message) []chat.Message {
	system, rest := splitSystem(messages)
	drop := len(rest) * 3 / 10
	if drop < 1 {
		drop = 1
	}
	if drop > len(rest) {
		drop = len(rest)
	}
	return rebind(system, alignToPairBoundary(rest[drop:]))
}

func splitSystem(messages []chat.Message) (system, rest []chat.Message) {
	for _, m := range messages {
		if m.Role == chat.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	return system, rest
}

// alignToPairBoundary skips any leading tool results whose originating
// tool call was dropped, so every surviving tool_result still follows its
// assistant turn.
func alignToPairBoundary(rest []chat.Message) []chat.Message {
	for len(rest) > 0 && rest[0].Role == chat.RoleTool {
		rest = rest[1:]
	}
	return rest
}

func rebind(system, rest []chat.Message) []chat.Message {
	result := make([]chat.Message, 0, len(system)+len(rest))
	result = append(result, system...)
	result = append(result, rest...)
	return result
}

package compress

import "github.com/poemonsense/antigravity-proxy-go/internal/wire"

const minSignatureLength = 50

// round is one assistant(tool_use)+user(tool_result...) pair of messages,
// referenced by index range into the original slice.
type round struct {
	start, end int // [start, end] inclusive, end exclusive of the next round
}

// findRounds groups the message slice into tool-use rounds: an assistant
// message containing a tool_use, followed by one or more user messages
// containing only tool_result blocks (spec §4.4 Layer 1).
func findRounds(messages []Message) []round {
	var rounds []round
	i := 0
	for i < len(messages) {
		if messages[i].Role == "assistant" && hasToolUse(messages[i]) {
			start := i
			i++
			for i < len(messages) && messages[i].Role == "user" && isAllToolResult(messages[i]) {
				i++
			}
			rounds = append(rounds, round{start: start, end: i})
			continue
		}
		i++
	}
	return rounds
}

func hasToolUse(m Message) bool {
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

func isAllToolResult(m Message) bool {
	if len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return true
}

// TrimRounds implements Layer 1: when the number of tool-use rounds
// exceeds keepLastN, whole oldest rounds are removed in bulk (not edited),
// preserving any prefix caching on the remainder.
func TrimRounds(messages []Message, keepLastN int) []Message {
	rounds := findRounds(messages)
	if len(rounds) <= keepLastN {
		return messages
	}
	numToRemove := len(rounds) - keepLastN
	if numToRemove > len(rounds) {
		numToRemove = len(rounds)
	}
	removed := rounds[:numToRemove]

	kept := make([]Message, 0, len(messages))
	for i, m := range messages {
		if belongsToRemovedRound(i, removed) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func belongsToRemovedRound(idx int, removed []round) bool {
	for _, r := range removed {
		if idx >= r.start && idx < r.end {
			return true
		}
	}
	return false
}

// CompressSignedThinking implements Layer 2: for assistant messages outside
// the last protectedLastN, replace each signed thinking block's text with
// "..." while retaining its signature. Unsigned thinking blocks longer than
// 10 chars are eligible for the same treatment.
func CompressSignedThinking(messages []Message, protectedLastN int) []Message {
	boundary := len(messages) - protectedLastN
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if i >= boundary || out[i].Role != "assistant" {
			continue
		}
		blocks := make([]wire.ContentBlock, len(out[i].Content))
		copy(blocks, out[i].Content)
		for j, b := range blocks {
			if b.Type != "thinking" {
				continue
			}
			signed := len(b.Signature) >= minSignatureLength
			if signed || len(b.Thinking) > 10 {
				blocks[j].Thinking = "..."
			}
		}
		out[i].Content = blocks
	}
	return out
}

// PurificationLevel selects how aggressively Layer 3 strips thinking blocks.
type PurificationLevel int

const (
	PurifySoft       PurificationLevel = iota // keep last 4 messages
	PurifyAggressive                          // keep 0
)

// Purify implements Layer 3: strip all thinking blocks outside the
// protected range.
func Purify(messages []Message, level PurificationLevel) []Message {
	protect := 4
	if level == PurifyAggressive {
		protect = 0
	}
	boundary := len(messages) - protect
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if i >= boundary {
			continue
		}
		filtered := make([]wire.ContentBlock, 0, len(out[i].Content))
		for _, b := range out[i].Content {
			if b.Type == "thinking" {
				continue
			}
			filtered = append(filtered, b)
		}
		out[i].Content = filtered
	}
	return out
}

// ExtractLastValidSignature scans messages in reverse and returns the first
// thinking signature whose length is >= 50 (spec §4.4).
func ExtractLastValidSignature(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		for j := len(messages[i].Content) - 1; j >= 0; j-- {
			b := messages[i].Content[j]
			if b.Type == "thinking" && len(b.Signature) >= minSignatureLength {
				return b.Signature, true
			}
		}
	}
	return "", false
}

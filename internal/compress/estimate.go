package compress

import (
	"encoding/json"
	"math"
	"unicode"
)

const safetyFactor = 1.15

// EstimateTextTokens implements spec §4.4's heuristic:
// ceil(ascii_chars/4) + ceil(unicode_chars/1.5), times a 1.15 safety factor.
func EstimateTextTokens(text string) int {
	var ascii, unicodeRunes int
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			unicodeRunes++
		}
	}
	raw := math.Ceil(float64(ascii)/4) + math.Ceil(float64(unicodeRunes)/1.5)
	return int(math.Ceil(raw * safetyFactor))
}

func isASCIIOnly(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// EstimateBlockTokens estimates one content block's token cost per spec §4.4.
func EstimateBlockTokens(b Block) int {
	switch b.Type {
	case "text":
		return EstimateTextTokens(b.Text)
	case "thinking":
		n := EstimateTextTokens(b.Text)
		if b.Signature != "" {
			n += 100
		}
		return n
	case "tool_use":
		return 20 + EstimateTextTokens(b.Name) + EstimateTextTokens(b.InputJSON)
	case "tool_result":
		return 10 + EstimateTextTokens(b.Text)
	default:
		return EstimateTextTokens(b.Text)
	}
}

// Block is a minimal token-estimation view over a content block, decoupled
// from wire.ContentBlock's JSON tags so estimation can run on already
// flattened text.
type Block struct {
	Type      string
	Text      string
	Signature string
	Name      string
	InputJSON string
}

// EstimateMessageTokens sums per-message overhead (4 tokens, spec §4.4)
// plus every block's estimate.
func EstimateMessageTokens(blocks []Block) int {
	total := 4
	for _, b := range blocks {
		total += EstimateBlockTokens(b)
	}
	return total
}

// EstimateToolDefsTokens adds tool definitions to the running total.
func EstimateToolDefsTokens(tools []ToolDef) int {
	total := 0
	for _, t := range tools {
		total += EstimateTextTokens(t.Name) + EstimateTextTokens(t.Description) + EstimateTextTokens(t.SchemaJSON)
	}
	return total
}

// SerializeForEstimate turns an arbitrary tool-result content value into the
// text used for token estimation, mirroring the mapper's own serialization
// (string passthrough, array join, else JSON-stringify).
func SerializeForEstimate(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

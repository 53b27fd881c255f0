package claude

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/compress"
	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// buildContents implements spec §4.8 step 7: role mapping, per-block
// translation (including the tool_use id->name bookkeeping tool_result
// blocks need), and step-end adjacent-role merging.
func buildContents(messages []normMessage, thinkingEnabled bool, sigCache *sigcache.Cache, targetModel string) ([]wire.Content, error) {
	toolNames := map[string]string{} // tool_use id -> name, for tool_result lookups

	var out []wire.Content
	for _, m := range messages {
		role := mapRole(m.Role)
		if role == "" {
			continue
		}
		var parts []wire.Part
		for _, b := range m.Blocks {
			p, ok := translateBlock(b, thinkingEnabled, toolNames, sigCache, targetModel)
			if ok {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, wire.Content{Role: role, Parts: parts})
	}

	return mergeAdjacentContents(out), nil
}

func mapRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user":
		return "user"
	default:
		return ""
	}
}

func translateBlock(b wire.ContentBlock, thinkingEnabled bool, toolNames map[string]string, sigCache *sigcache.Cache, targetModel string) (wire.Part, bool) {
	switch b.Type {
	case "text":
		if b.Text == "" {
			return wire.Part{}, false
		}
		return wire.Part{Text: b.Text}, true

	case "thinking":
		if !thinkingEnabled {
			return wire.Part{Text: b.Thinking}, b.Thinking != ""
		}
		sig := b.Signature
		if sig != "" && sigCache != nil && !sigCache.IsSignatureCompatible(sig, targetModel) {
			sig = ""
		}
		return wire.Part{Text: b.Thinking, Thought: true, ThoughtSignature: sig}, true

	case "redacted_thinking":
		return wire.Part{Text: "[Redacted Thinking: " + b.Data + "]"}, true

	case "image", "document":
		if b.Source == nil || b.Source.Data == "" {
			return wire.Part{}, false
		}
		return wire.Part{InlineData: &wire.InlineData{MimeType: b.Source.MediaType, Data: b.Source.Data}}, true

	case "tool_use":
		id := b.ID
		if id == "" {
			id = "toolu_" + uuid.New().String()
		}
		toolNames[id] = b.Name
		var args map[string]interface{}
		if len(b.Input) > 0 {
			_ = json.Unmarshal(b.Input, &args)
		}
		return wire.Part{FunctionCall: &wire.FunctionCall{ID: id, Name: b.Name, Args: args}}, true

	case "tool_result":
		name, ok := toolNames[b.ToolUseID]
		if !ok {
			name = b.ToolUseID
		}
		result := toolResultText(b)
		return wire.Part{FunctionResponse: &wire.FunctionResponse{
			ID:   b.ToolUseID,
			Name: name,
			Response: map[string]interface{}{"result": result},
		}}, true

	default:
		return wire.Part{}, false
	}
}

// toolResultText implements spec §4.8 step 7's tool_result text collapse:
// array content joins `.text` fields by newline, strings pass through, any
// other value is JSON-stringified; empty results get a literal fallback;
// long results are truncated.
func toolResultText(b wire.ContentBlock) string {
	text := decodeToolResultContent(b.Content)
	if text == "" {
		return compress.EmptyToolResultText(b.IsError)
	}
	return compress.TruncateLongToolResultText(text)
}

func decodeToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if strings.HasPrefix(trimmed, "[") {
		var blocks []wire.ContentBlock
		if err := json.Unmarshal(raw, &blocks); err == nil {
			var lines []string
			for _, blk := range blocks {
				if blk.Text != "" {
					lines = append(lines, blk.Text)
				}
			}
			return strings.Join(lines, "\n")
		}
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err == nil {
		data, _ := json.Marshal(generic)
		return string(data)
	}
	return trimmed
}

// mergeAdjacentContents joins consecutive same-role Content entries emitted
// across separate source messages (spec §4.8 step 7's "merged at emit time").
func mergeAdjacentContents(contents []wire.Content) []wire.Content {
	if len(contents) == 0 {
		return contents
	}
	out := make([]wire.Content, 0, len(contents))
	out = append(out, contents[0])
	for _, c := range contents[1:] {
		last := &out[len(out)-1]
		if last.Role == c.Role {
			last.Parts = append(last.Parts, c.Parts...)
			continue
		}
		out = append(out, c)
	}
	return out
}

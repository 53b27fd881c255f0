package openai

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// aggregatedToolCall accumulates one tool_calls-by-index entry while
// collapsing a stream (spec §4.9 invariant #8 "Stream aggregation").
type aggregatedToolCall struct {
	id        string
	name      string
	arguments string
}

// CollapseStream reassembles a full chat.completion from the sequence of
// raw Upstream streamGenerateContent chunk bodies. Used when the client
// asked for a non-streaming response but the request had to be issued to
// Upstream as a stream.
func CollapseStream(chunks [][]byte, requestedModel string) (*wire.ChatCompletion, error) {
	var textBuf string
	toolCalls := map[int]*aggregatedToolCall{}
	var toolOrder []int
	hasToolCall := false
	finishReason := ""
	var latestUsage *wire.UsageMetadata

	nextIdx := 0
	for _, raw := range chunks {
		var parsed wire.UpstreamResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		candidates, usage := parsed.Unwrap()
		if usage != nil {
			latestUsage = usage
		}
		if len(candidates) == 0 {
			continue
		}
		cand := candidates[0]
		if cand.FinishReason != "" {
			finishReason = cand.FinishReason
		}

		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				hasToolCall = true
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.New().String()
				}
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				idx := nextIdx
				nextIdx++
				toolCalls[idx] = &aggregatedToolCall{id: id, name: part.FunctionCall.Name, arguments: string(argsJSON)}
				toolOrder = append(toolOrder, idx)
			case part.Thought:
				// reasoning content has no field on the non-streaming message shape.
			case part.InlineData != nil:
				textBuf += "![image](data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data + ")"
			default:
				textBuf += part.Text
			}
		}
	}

	msg := &wire.OpenAIMessage{Role: "assistant"}
	contentJSON, _ := json.Marshal(textBuf)
	msg.Content = contentJSON
	for _, idx := range toolOrder {
		tc := toolCalls[idx]
		msg.ToolCalls = append(msg.ToolCalls, wire.OpenAIToolCall{
			ID:       tc.id,
			Type:     "function",
			Function: wire.OpenAIFunctionCall{Name: tc.name, Arguments: tc.arguments},
		})
	}

	reason := finishReasonMap(finishReason, hasToolCall)
	resp := &wire.ChatCompletion{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   requestedModel,
		Choices: []wire.OpenAIChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: &reason,
		}},
	}

	if latestUsage != nil {
		resp.Usage = &wire.OpenAIUsage{
			PromptTokens:     latestUsage.PromptTokenCount,
			CompletionTokens: latestUsage.CandidatesTokenCount,
			TotalTokens:      latestUsage.PromptTokenCount + latestUsage.CandidatesTokenCount,
		}
	}

	return resp, nil
}

package openai

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// finishReasonMap translates Upstream finishReason into the OpenAI set
// (spec §4.9).
func finishReasonMap(upstream string, hasToolCall bool) string {
	if hasToolCall {
		return "tool_calls"
	}
	switch upstream {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// TranslateResponse builds a non-streaming chat.completion from one complete
// Upstream response body.
func TranslateResponse(upstreamBody []byte, requestedModel string) (*wire.ChatCompletion, error) {
	var parsed wire.UpstreamResponse
	if err := json.Unmarshal(upstreamBody, &parsed); err != nil {
		return nil, err
	}
	candidates, usage := parsed.Unwrap()

	msg := &wire.OpenAIMessage{Role: "assistant"}
	var textBuf string
	hasToolCall := false
	finishReason := ""

	if len(candidates) > 0 {
		cand := candidates[0]
		finishReason = cand.FinishReason

		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.New().String()
				}
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, wire.OpenAIToolCall{
					ID:   id,
					Type: "function",
					Function: wire.OpenAIFunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(argsJSON),
					},
				})
				hasToolCall = true
			case part.Thought:
				// reasoning content is surfaced only in streaming deltas per
				// spec §4.9; non-streaming responses fold it away.
			case part.InlineData != nil:
				textBuf += "![image](data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data + ")"
			default:
				textBuf += part.Text
			}
		}
	}

	contentJSON, _ := json.Marshal(textBuf)
	msg.Content = contentJSON

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

	if usage != nil {
		resp.Usage = &wire.OpenAIUsage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.PromptTokenCount + usage.CandidatesTokenCount,
		}
	}

	return resp, nil
}

package claude

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// TranslateResponse implements spec §4.8's non-streaming response
// translation: a state machine over candidate parts that flushes pending
// text/thinking builders around tool_use and image parts. sigCache and
// sessionID may be zero-valued to disable the C2 cache writes entirely.
func TranslateResponse(upstreamBody []byte, requestedModel string, mappedModel string, sigCache *sigcache.Cache, sessionID string, messageCount int) (*wire.MessagesResponse, error) {
	var parsed wire.UpstreamResponse
	if err := json.Unmarshal(upstreamBody, &parsed); err != nil {
		return nil, err
	}
	candidates, usage := parsed.Unwrap()

	resp := &wire.MessagesResponse{
		ID:    "msg_" + uuid.New().String(),
		Type:  "message",
		Role:  "assistant",
		Model: requestedModel,
	}

	var finishReason string
	hasToolCall := false

	if len(candidates) > 0 {
		cand := candidates[0]
		finishReason = cand.FinishReason

		var textBuf, thinkingBuf, thinkingSig string

		flushThinking := func() {
			if thinkingBuf == "" {
				return
			}
			block := wire.ContentBlock{Type: "thinking", Thinking: thinkingBuf}
			if thinkingSig != "" {
				block.Signature = thinkingSig
				if sigCache != nil {
					sigCache.CacheFamily(thinkingSig, sigcache.NormalizeFamily(mappedModel))
					if sessionID != "" {
						sigCache.UpdateSession(sessionID, thinkingSig, messageCount)
					}
				}
			}
			resp.Content = append(resp.Content, block)
			thinkingBuf, thinkingSig = "", ""
		}
		flushText := func() {
			if textBuf == "" {
				return
			}
			resp.Content = append(resp.Content, wire.ContentBlock{Type: "text", Text: textBuf})
			textBuf = ""
		}

		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				flushText()
				pendingSig := thinkingSig
				flushThinking()
				id := part.FunctionCall.ID
				if id == "" {
					id = "toolu_" + uuid.New().String()
				}
				if sigCache != nil && pendingSig != "" {
					sigCache.CacheToolSignature(id, pendingSig)
				}
				inputJSON, _ := json.Marshal(part.FunctionCall.Args)
				resp.Content = append(resp.Content, wire.ContentBlock{
					Type:  "tool_use",
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: inputJSON,
				})
				hasToolCall = true

			case part.Thought:
				flushText()
				thinkingBuf += part.Text
				if part.ThoughtSignature != "" {
					thinkingSig = part.ThoughtSignature
				}

			case part.InlineData != nil:
				flushThinking()
				textBuf += "![image](data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data + ")"

			default:
				flushThinking()
				textBuf += part.Text
			}
		}

		flushThinking()
		flushText()
	}

	switch {
	case hasToolCall:
		resp.StopReason = "tool_use"
	case finishReason == "MAX_TOKENS":
		resp.StopReason = "max_tokens"
	default:
		resp.StopReason = "end_turn"
	}

	if usage != nil {
		u := &wire.AnthropicUsage{OutputTokens: usage.CandidatesTokenCount}
		cached := usage.CachedContentTokenCount
		prompt := usage.PromptTokenCount
		if cached > 0 && prompt > 0 {
			u.InputTokens = prompt - cached
			u.CacheReadInputTokens = cached
		} else {
			u.InputTokens = prompt
		}
		resp.Usage = u
	}

	return resp, nil
}

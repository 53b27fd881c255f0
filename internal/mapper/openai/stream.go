package openai

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/safety"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// StreamTranslator builds chat.completion.chunk SSE frames from a sequence
// of Upstream streaming chunks (spec §4.9).
type StreamTranslator struct {
	w              io.Writer
	requestedModel string
	id             string
	created        int64

	startedRole  bool
	nextToolIdx  int
	hasToolCall  bool
	done         bool
}

func NewStreamTranslator(w io.Writer, requestedModel string) *StreamTranslator {
	return &StreamTranslator{
		w:              w,
		requestedModel: requestedModel,
		id:             "chatcmpl-" + uuid.New().String(),
		created:        time.Now().Unix(),
	}
}

func (s *StreamTranslator) emitChunk(delta wire.OpenAIDelta, finishReason *string, usage *wire.OpenAIUsage) error {
	chunk := wire.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.requestedModel,
		Choices: []wire.OpenAIChoice{{
			Index:        0,
			Delta:        &delta,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
	return safety.WriteData(s.w, chunk)
}

// HandleChunk parses one raw Upstream SSE data line's JSON payload and
// emits the corresponding chat.completion.chunk frame(s).
func (s *StreamTranslator) HandleChunk(raw []byte) error {
	var parsed wire.UpstreamResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return err
	}
	candidates, usage := parsed.Unwrap()

	if !s.startedRole {
		s.startedRole = true
		if err := s.emitChunk(wire.OpenAIDelta{Role: "assistant"}, nil, nil); err != nil {
			return err
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	cand := candidates[0]

	for _, part := range cand.Content.Parts {
		if err := s.handlePart(part); err != nil {
			return err
		}
	}

	if cand.FinishReason != "" {
		return s.Finish(cand.FinishReason, usage)
	}
	return nil
}

func (s *StreamTranslator) handlePart(part wire.Part) error {
	switch {
	case part.FunctionCall != nil:
		s.hasToolCall = true
		id := part.FunctionCall.ID
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		argsJSON, _ := json.Marshal(part.FunctionCall.Args)
		idx := s.nextToolIdx
		s.nextToolIdx++
		return s.emitChunk(wire.OpenAIDelta{
			ToolCalls: []wire.OpenAIToolCallDelta{{
				Index: idx,
				ID:    id,
				Type:  "function",
				Function: wire.OpenAIFunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			}},
		}, nil, nil)

	case part.Thought:
		if part.Text == "" {
			return nil
		}
		return s.emitChunk(wire.OpenAIDelta{ReasoningContent: part.Text}, nil, nil)

	case part.InlineData != nil:
		md := "![image](data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data + ")"
		return s.emitChunk(wire.OpenAIDelta{Content: md}, nil, nil)

	default:
		if part.Text == "" {
			return nil
		}
		return s.emitChunk(wire.OpenAIDelta{Content: part.Text}, nil, nil)
	}
}

// Finish emits the terminal finish_reason chunk followed by the
// "data: [DONE]\n\n" terminator. Idempotent: a second call is a no-op.
func (s *StreamTranslator) Finish(finishReason string, usage *wire.UsageMetadata) error {
	if s.done {
		return nil
	}
	reason := finishReasonMap(finishReason, s.hasToolCall)

	var u *wire.OpenAIUsage
	if usage != nil {
		u = &wire.OpenAIUsage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.PromptTokenCount + usage.CandidatesTokenCount,
		}
	}
	if err := s.emitChunk(wire.OpenAIDelta{}, &reason, u); err != nil {
		return err
	}

	s.done = true
	return safety.WriteDone(s.w)
}

// Ping writes the 15s inactivity heartbeat comment.
func (s *StreamTranslator) Ping() error {
	return safety.WritePingComment(s.w)
}

package claude

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/safety"
	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

const (
	blockText      = "text"
	blockThinking  = "thinking"
	blockToolUse   = "tool_use"
)

// StreamTranslator holds the running state of one Anthropic SSE response as
// it is built up from a sequence of Upstream streaming chunks (spec §4.8
// "Streaming response translation").
type StreamTranslator struct {
	w             io.Writer
	requestedModel string
	mappedModel    string
	sigCache       *sigcache.Cache
	sessionID      string
	messageCount   int

	started        bool
	nextBlockIndex int
	currentType    string
	currentFnCall  *wire.FunctionCall
	thinkingSig    string

	messageStopSent bool
	hasToolCall     bool
}

// NewStreamTranslator builds a translator for one streamed response.
// sigCache may be nil to disable the C2 cache writes entirely.
func NewStreamTranslator(w io.Writer, requestedModel, mappedModel string, sigCache *sigcache.Cache, sessionID string, messageCount int) *StreamTranslator {
	return &StreamTranslator{
		w:              w,
		requestedModel: requestedModel,
		mappedModel:    mappedModel,
		sigCache:       sigCache,
		sessionID:      sessionID,
		messageCount:   messageCount,
	}
}

// HandleChunk parses one raw Upstream SSE data line's JSON payload and
// advances the state machine, writing Anthropic SSE events as needed.
func (s *StreamTranslator) HandleChunk(raw []byte) error {
	var parsed wire.UpstreamResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return err
	}
	candidates, usage := parsed.Unwrap()

	if !s.started {
		s.started = true
		if err := s.emitMessageStart(usage); err != nil {
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

func (s *StreamTranslator) emitMessageStart(usage *wire.UsageMetadata) error {
	msg := map[string]interface{}{
		"id":    "msg_" + uuid.New().String(),
		"type":  "message",
		"role":  "assistant",
		"model": s.requestedModel,
		"content": []interface{}{},
		"usage":   usageForStart(usage),
	}
	return safety.WriteEvent(s.w, "message_start", map[string]interface{}{"type": "message_start", "message": msg})
}

func usageForStart(usage *wire.UsageMetadata) map[string]interface{} {
	if usage == nil {
		return map[string]interface{}{"input_tokens": 0, "output_tokens": 0}
	}
	return map[string]interface{}{"input_tokens": usage.PromptTokenCount, "output_tokens": 0}
}

func (s *StreamTranslator) handlePart(part wire.Part) error {
	switch {
	case part.FunctionCall != nil:
		s.hasToolCall = true
		pendingSig := s.thinkingSig
		if err := s.closeCurrentBlock(); err != nil {
			return err
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = "toolu_" + uuid.New().String()
		}
		if s.sigCache != nil && pendingSig != "" {
			s.sigCache.CacheToolSignature(id, pendingSig)
		}
		if err := s.openBlock(blockToolUse, map[string]interface{}{
			"type": "tool_use", "id": id, "name": part.FunctionCall.Name, "input": map[string]interface{}{},
		}); err != nil {
			return err
		}
		argsJSON, _ := json.Marshal(part.FunctionCall.Args)
		if err := safety.WriteEvent(s.w, "content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.nextBlockIndex - 1,
			"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": string(argsJSON)},
		}); err != nil {
			return err
		}
		return s.closeCurrentBlock()

	case part.Thought:
		if s.currentType != blockThinking {
			if err := s.closeCurrentBlock(); err != nil {
				return err
			}
			if err := s.openBlock(blockThinking, map[string]interface{}{"type": "thinking", "thinking": ""}); err != nil {
				return err
			}
		}
		if part.ThoughtSignature != "" {
			s.thinkingSig = part.ThoughtSignature
		}
		if part.Text == "" {
			return nil
		}
		return safety.WriteEvent(s.w, "content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.nextBlockIndex - 1,
			"delta": map[string]interface{}{"type": "thinking_delta", "thinking": part.Text},
		})

	case part.InlineData != nil:
		if s.currentType != blockText {
			if err := s.closeCurrentBlock(); err != nil {
				return err
			}
			if err := s.openBlock(blockText, map[string]interface{}{"type": "text", "text": ""}); err != nil {
				return err
			}
		}
		md := "![image](data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data + ")"
		return safety.WriteEvent(s.w, "content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.nextBlockIndex - 1,
			"delta": map[string]interface{}{"type": "text_delta", "text": md},
		})

	default:
		if part.Text == "" {
			return nil
		}
		if s.currentType != blockText {
			if err := s.closeCurrentBlock(); err != nil {
				return err
			}
			if err := s.openBlock(blockText, map[string]interface{}{"type": "text", "text": ""}); err != nil {
				return err
			}
		}
		return safety.WriteEvent(s.w, "content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.nextBlockIndex - 1,
			"delta": map[string]interface{}{"type": "text_delta", "text": part.Text},
		})
	}
}

func (s *StreamTranslator) openBlock(blockType string, contentBlock map[string]interface{}) error {
	s.currentType = blockType
	index := s.nextBlockIndex
	s.nextBlockIndex++
	return safety.WriteEvent(s.w, "content_block_start", map[string]interface{}{
		"type": "content_block_start", "index": index, "content_block": contentBlock,
	})
}

func (s *StreamTranslator) closeCurrentBlock() error {
	if s.currentType == "" {
		return nil
	}
	index := s.nextBlockIndex - 1
	if s.currentType == blockThinking && s.thinkingSig != "" {
		if err := safety.WriteEvent(s.w, "content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": index,
			"delta": map[string]interface{}{"type": "signature_delta", "signature": s.thinkingSig},
		}); err != nil {
			return err
		}
		if s.sigCache != nil {
			s.sigCache.CacheFamily(s.thinkingSig, sigcache.NormalizeFamily(s.mappedModel))
			if s.sessionID != "" {
				s.sigCache.UpdateSession(s.sessionID, s.thinkingSig, s.messageCount)
			}
		}
		s.thinkingSig = ""
	}
	err := safety.WriteEvent(s.w, "content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": index})
	s.currentType = ""
	return err
}

// Finish closes any open block and emits message_delta + message_stop.
// Idempotent via the message_stop_sent flag (spec §4.8).
func (s *StreamTranslator) Finish(finishReason string, usage *wire.UsageMetadata) error {
	if s.messageStopSent {
		return nil
	}
	if err := s.closeCurrentBlock(); err != nil {
		return err
	}

	stopReason := "end_turn"
	switch {
	case s.hasToolCall:
		stopReason = "tool_use"
	case finishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	delta := map[string]interface{}{"stop_reason": stopReason, "stop_sequence": nil}
	usagePayload := map[string]interface{}{}
	if usage != nil {
		usagePayload["output_tokens"] = usage.CandidatesTokenCount
	}
	if err := safety.WriteEvent(s.w, "message_delta", map[string]interface{}{
		"type": "message_delta", "delta": delta, "usage": usagePayload,
	}); err != nil {
		return err
	}

	s.messageStopSent = true
	return safety.WriteEvent(s.w, "message_stop", map[string]interface{}{"type": "message_stop"})
}

// Ping writes the 60s inactivity heartbeat comment.
func (s *StreamTranslator) Ping() error {
	return safety.WritePingComment(s.w)
}

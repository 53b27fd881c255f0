package gateway

import (
	"encoding/json"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

func TestClassifyFailureDetectsValidationRequired(t *testing.T) {
	action, _ := classifyFailure(400, []byte(`{"error":"VALIDATION_REQUIRED"}`))
	if action != outcomeValidationRequired {
		t.Fatalf("expected outcomeValidationRequired, got %v", action)
	}
}

func TestClassifyFailureRetriesOnRateLimitAndServerError(t *testing.T) {
	for _, status := range []int{429, 500, 503, 404} {
		action, _ := classifyFailure(status, []byte("{}"))
		if action != outcomeRetryNextAccount {
			t.Fatalf("status %d: expected retry, got %v", status, action)
		}
	}
}

func TestClassifyFailureUnauthorizedTriggersRefresh(t *testing.T) {
	action, _ := classifyFailure(401, []byte("{}"))
	if action != outcomeAuthRefresh {
		t.Fatalf("expected outcomeAuthRefresh, got %v", action)
	}
}

func TestClassifyFailureForbiddenIsFatal(t *testing.T) {
	action, err := classifyFailure(403, []byte("nope"))
	if action != outcomeFatal || err == nil {
		t.Fatalf("expected fatal outcome for 403, got %v", action)
	}
}

func TestSplitUpstreamChunksHandlesJSONArray(t *testing.T) {
	body := []byte(`[{"a":1},{"a":2}]`)
	chunks := splitUpstreamChunks(body)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestSplitUpstreamChunksHandlesSSELines(t *testing.T) {
	body := []byte("data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n")
	chunks := splitUpstreamChunks(body)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks ignoring [DONE], got %d", len(chunks))
	}
}

func TestShapeClaudeHistoryTrimsOldRounds(t *testing.T) {
	var messages []wire.AnthropicMessage
	for i := 0; i < keepLastNRounds+5; i++ {
		toolUse, _ := json.Marshal([]wire.ContentBlock{{Type: "tool_use", ID: "t", Name: "f", Input: json.RawMessage(`{}`)}})
		toolResult, _ := json.Marshal([]wire.ContentBlock{{Type: "tool_result", ToolUseID: "t", Content: json.RawMessage(`"ok"`)}})
		messages = append(messages,
			wire.AnthropicMessage{Role: "assistant", Content: toolUse},
			wire.AnthropicMessage{Role: "user", Content: toolResult},
		)
	}
	req := &wire.MessagesRequest{Model: "claude-sonnet", MaxTokens: 100, Messages: messages}
	shapeClaudeHistory(req, "gemini-2.5-pro")
	if len(req.Messages) >= len(messages) {
		t.Fatalf("expected oldest rounds trimmed, got %d messages from %d", len(req.Messages), len(messages))
	}
}

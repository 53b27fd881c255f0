package claude

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

func strContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestBuildRequestMergesConsecutiveSameRoleText(t *testing.T) {
	req := &wire.MessagesRequest{
		Model:     "claude-sonnet",
		MaxTokens: 1024,
		Messages: []wire.AnthropicMessage{
			{Role: "user", Content: strContent("hello")},
			{Role: "user", Content: strContent("world")},
		},
	}
	outer, _, err := BuildRequest(req, BuildOptions{Project: "p", MappedModel: "gemini-2.5-pro", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outer.Request.Contents) != 1 {
		t.Fatalf("expected merged into a single content turn, got %d", len(outer.Request.Contents))
	}
	if outer.Request.Contents[0].Parts[0].Text != "hello\n\nworld" {
		t.Fatalf("expected joined text, got %q", outer.Request.Contents[0].Parts[0].Text)
	}
}

func TestBuildRequestThinkingDegradesOnNonThinkingModel(t *testing.T) {
	blocks := []wire.ContentBlock{{Type: "thinking", Thinking: "reasoning", Signature: "sig"}}
	raw, _ := json.Marshal(blocks)
	req := &wire.MessagesRequest{
		Model:     "claude-sonnet",
		MaxTokens: 1024,
		Thinking:  &wire.AnthropicThinkingConfig{Type: "enabled"},
		Messages: []wire.AnthropicMessage{
			{Role: "assistant", Content: raw},
		},
	}
	outer, thinkingEnabled, err := BuildRequest(req, BuildOptions{MappedModel: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thinkingEnabled {
		t.Fatalf("expected thinking disabled for a non-capable model")
	}
	part := outer.Request.Contents[0].Parts[0]
	if part.Thought {
		t.Fatalf("expected degraded plain text, not a thought part")
	}
	if part.Text != "reasoning" {
		t.Fatalf("expected degraded text to carry the thinking content, got %q", part.Text)
	}
}

func TestBuildRequestThinkingEnabledOnCapableModel(t *testing.T) {
	blocks := []wire.ContentBlock{{Type: "thinking", Thinking: "reasoning", Signature: "sig"}}
	raw, _ := json.Marshal(blocks)
	req := &wire.MessagesRequest{
		Model:     "claude-sonnet",
		MaxTokens: 1024,
		Thinking:  &wire.AnthropicThinkingConfig{Type: "enabled", BudgetTokens: 4096},
		Messages: []wire.AnthropicMessage{
			{Role: "assistant", Content: raw},
		},
	}
	outer, thinkingEnabled, err := BuildRequest(req, BuildOptions{MappedModel: "gemini-3-pro-high"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !thinkingEnabled {
		t.Fatalf("expected thinking enabled for gemini-3-pro-high")
	}
	part := outer.Request.Contents[0].Parts[0]
	if !part.Thought || part.ThoughtSignature != "sig" {
		t.Fatalf("expected a signed thought part, got %+v", part)
	}
	if outer.Request.GenerationConfig.ThinkingConfig == nil || outer.Request.GenerationConfig.ThinkingConfig.ThinkingBudget != 4096 {
		t.Fatalf("expected thinking budget propagated")
	}
}

func TestBuildRequestToolUseThenToolResultResolvesName(t *testing.T) {
	toolUse, _ := json.Marshal([]wire.ContentBlock{{Type: "tool_use", ID: "t1", Name: "search", Input: json.RawMessage(`{"q":"x"}`)}})
	toolResultContent, _ := json.Marshal("found it")
	toolResult, _ := json.Marshal([]wire.ContentBlock{{Type: "tool_result", ToolUseID: "t1", Content: toolResultContent}})

	req := &wire.MessagesRequest{
		Model:     "claude-sonnet",
		MaxTokens: 1024,
		Messages: []wire.AnthropicMessage{
			{Role: "assistant", Content: toolUse},
			{Role: "user", Content: toolResult},
		},
	}
	outer, _, err := BuildRequest(req, BuildOptions{MappedModel: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fr *wire.FunctionResponse
	for _, c := range outer.Request.Contents {
		for _, p := range c.Parts {
			if p.FunctionResponse != nil {
				fr = p.FunctionResponse
			}
		}
	}
	if fr == nil || fr.Name != "search" {
		t.Fatalf("expected function response name resolved to 'search', got %+v", fr)
	}
	if fr.Response["result"] != "found it" {
		t.Fatalf("unexpected result text: %v", fr.Response["result"])
	}
}

func TestTranslateResponseNonStreamingToolUse(t *testing.T) {
	body := `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"search","args":{"q":"x"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":100,"candidatesTokenCount":20,"cachedContentTokenCount":30}}`
	resp, err := TranslateResponse([]byte(body), "claude-sonnet", "gemini-2.5-pro", nil, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("expected stop_reason tool_use, got %s", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "tool_use" {
		t.Fatalf("expected one tool_use block, got %+v", resp.Content)
	}
	if resp.Usage.InputTokens != 70 || resp.Usage.CacheReadInputTokens != 30 {
		t.Fatalf("unexpected usage translation: %+v", resp.Usage)
	}
}

func TestStreamTranslatorEmitsEventsAndIsIdempotentOnFinish(t *testing.T) {
	var buf bytes.Buffer
	st := NewStreamTranslator(&buf, "claude-sonnet", "gemini-2.5-pro", nil, "", 0)

	chunk := `{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2}}`
	if err := st.HandleChunk([]byte(chunk)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.Finish("STOP", nil); err != nil {
		t.Fatalf("unexpected error on second finish: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Count(out, "event: message_stop") != 1 {
		t.Fatalf("expected exactly one message_stop event despite calling Finish twice")
	}
}

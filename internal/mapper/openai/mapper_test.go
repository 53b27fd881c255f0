package openai

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

func TestBuildRequestCollapsesSystemMessageIntoSystemInstruction(t *testing.T) {
	req := &wire.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []wire.OpenAIMessage{
			{Role: "system", Content: strContent("be terse")},
			{Role: "user", Content: strContent("hi")},
		},
	}
	outer, err := BuildRequest(req, BuildOptions{MappedModel: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outer.Request.SystemInstruction == nil || outer.Request.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("expected system instruction collapsed, got %+v", outer.Request.SystemInstruction)
	}
	if len(outer.Request.Contents) != 1 || outer.Request.Contents[0].Role != "user" {
		t.Fatalf("expected one user content turn, got %+v", outer.Request.Contents)
	}
}

func TestBuildRequestToolCallThenToolMessageResolvesName(t *testing.T) {
	req := &wire.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []wire.OpenAIMessage{
			{Role: "user", Content: strContent("weather?")},
			{Role: "assistant", ToolCalls: []wire.OpenAIToolCall{
				{ID: "call_1", Type: "function", Function: wire.OpenAIFunctionCall{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: strContent("sunny")},
		},
	}
	outer, err := BuildRequest(req, BuildOptions{MappedModel: "gemini-2.5-pro"})
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
	if fr == nil || fr.Name != "get_weather" {
		t.Fatalf("expected function response name resolved to get_weather, got %+v", fr)
	}
	if fr.Response["result"] != "sunny" {
		t.Fatalf("unexpected result: %v", fr.Response["result"])
	}
}

func TestTranslateResponseToolCall(t *testing.T) {
	body := `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"search","args":{"q":"x"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`
	resp, err := TranslateResponse([]byte(body), "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected finish_reason tool_calls, got %s", *resp.Choices[0].FinishReason)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 || resp.Choices[0].Message.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("unexpected tool calls: %+v", resp.Choices[0].Message.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected total_tokens 15, got %d", resp.Usage.TotalTokens)
	}
}

func TestFinishReasonMapping(t *testing.T) {
	cases := map[string]string{"MAX_TOKENS": "length", "SAFETY": "content_filter", "RECITATION": "content_filter", "STOP": "stop", "": "stop"}
	for upstream, want := range cases {
		if got := finishReasonMap(upstream, false); got != want {
			t.Fatalf("finishReasonMap(%q) = %q, want %q", upstream, got, want)
		}
	}
	if got := finishReasonMap("STOP", true); got != "tool_calls" {
		t.Fatalf("expected tool_calls to take precedence, got %q", got)
	}
}

func TestStreamTranslatorEmitsRoleThenContentThenDone(t *testing.T) {
	var buf bytes.Buffer
	st := NewStreamTranslator(&buf, "gpt-4o")

	chunks := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`,
	}
	for _, c := range chunks {
		if err := st.HandleChunk([]byte(c)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	out := buf.String()
	if !strings.Contains(out, `"role":"assistant"`) {
		t.Fatalf("expected a role-only first delta, got:\n%s", out)
	}
	if !strings.Contains(out, `"content":"hel"`) || !strings.Contains(out, `"content":"lo"`) {
		t.Fatalf("expected both content deltas present, got:\n%s", out)
	}
	if !strings.Contains(out, `"finish_reason":"stop"`) {
		t.Fatalf("expected stop finish_reason, got:\n%s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "[DONE]") {
		t.Fatalf("expected output to end with the [DONE] terminator, got:\n%s", out)
	}
	if strings.Count(out, "[DONE]") != 1 {
		t.Fatalf("expected exactly one [DONE] despite Finish running once implicitly")
	}
}

// TestStreamAggregationMatchesCollapse verifies invariant #8: collapsing a
// stream produces the same concatenated content a client would see by
// joining each chunk's delta.content, with tool_calls aggregated by index
// and the last finish_reason preserved.
func TestStreamAggregationMatchesCollapse(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"part1 "}]}}]}`),
		[]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"part2"}]}}]}`),
		[]byte(`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"k":"v"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6}}`),
	}
	resp, err := CollapseStream(chunks, "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var content string
	_ = json.Unmarshal(resp.Choices[0].Message.Content, &content)
	if content != "part1 part2" {
		t.Fatalf("expected concatenated content, got %q", content)
	}
	if *resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason once a function call is present, got %s", *resp.Choices[0].FinishReason)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 || resp.Choices[0].Message.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("unexpected aggregated tool calls: %+v", resp.Choices[0].Message.ToolCalls)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("expected usage taken from latest chunk, got %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o" {
		t.Fatalf("expected model preserved, got %s", resp.Model)
	}
}

func TestPrepareAudioEnforcesSizeCapAndExtensionMime(t *testing.T) {
	mime, data := prepareAudio("https://example.com/clip.mp3")
	if mime != "audio/mpeg" || data != "" {
		t.Fatalf("expected mime resolved from extension with no inline data for remote URLs, got %q %q", mime, data)
	}
	mime, data = prepareAudio("data:audio/wav;base64,AAAA")
	if mime != "audio/wav" || data != "AAAA" {
		t.Fatalf("expected decoded data URL passthrough, got %q %q", mime, data)
	}
}

package compress

import (
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

func textMsg(role, text string) Message {
	return Message{Role: role, Content: []wire.ContentBlock{{Type: "text", Text: text}}}
}

func toolUseMsg() Message {
	return Message{Role: "assistant", Content: []wire.ContentBlock{{Type: "tool_use", Name: "foo"}}}
}

func toolResultMsg() Message {
	return Message{Role: "user", Content: []wire.ContentBlock{{Type: "tool_result", Text: "ok"}}}
}

func TestTrimRoundsKeepsOnlyLastN(t *testing.T) {
	messages := []Message{
		textMsg("user", "hi"),
		toolUseMsg(), toolResultMsg(),
		toolUseMsg(), toolResultMsg(),
		toolUseMsg(), toolResultMsg(),
	}
	out := TrimRounds(messages, 1)
	// Only the leading plain user message plus the last round's two messages survive.
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(out), out)
	}
	if out[0].Role != "user" || out[0].Content[0].Text != "hi" {
		t.Fatalf("expected the leading plain message to survive")
	}
}

func TestCompressSignedThinkingPreservesSignature(t *testing.T) {
	sig := "12345678901234567890123456789012345678901234567890"
	messages := []Message{
		{Role: "assistant", Content: []wire.ContentBlock{{Type: "thinking", Thinking: "long reasoning here", Signature: sig}}},
		textMsg("user", "next"),
	}
	out := CompressSignedThinking(messages, 0)
	if out[0].Content[0].Thinking != "..." {
		t.Fatalf("expected thinking text replaced with ..., got %q", out[0].Content[0].Thinking)
	}
	if out[0].Content[0].Signature != sig {
		t.Fatalf("signature must be retained")
	}
}

func TestPurifyStripsOutsideProtectedRange(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []wire.ContentBlock{{Type: "thinking", Thinking: "old"}, {Type: "text", Text: "hi"}}},
	}
	out := Purify(messages, PurifyAggressive)
	if len(out[0].Content) != 1 || out[0].Content[0].Type != "text" {
		t.Fatalf("expected thinking block stripped, got %+v", out[0].Content)
	}
}

func TestExtractLastValidSignatureScansInReverse(t *testing.T) {
	shortSig := "short"
	longSig := "12345678901234567890123456789012345678901234567890"
	messages := []Message{
		{Role: "assistant", Content: []wire.ContentBlock{{Type: "thinking", Signature: longSig}}},
		{Role: "assistant", Content: []wire.ContentBlock{{Type: "thinking", Signature: shortSig}}},
	}
	got, ok := ExtractLastValidSignature(messages)
	if !ok || got != longSig {
		t.Fatalf("expected to skip the short trailing signature and find %q, got %q (ok=%v)", longSig, got, ok)
	}
}

func TestEstimateTextTokens(t *testing.T) {
	n := EstimateTextTokens("hello world")
	if n <= 0 {
		t.Fatalf("expected positive token estimate, got %d", n)
	}
}

func TestShrinkToolResultsDropsOnceOverCeiling(t *testing.T) {
	big := make([]byte, 150_000)
	for i := range big {
		big[i] = 'a'
	}
	blocks := []ResultBlock{{Text: string(big)}, {Text: string(big)}}
	out, total := ShrinkToolResults(blocks, 0)
	if total > toolResultCeiling {
		t.Fatalf("running total %d exceeded ceiling %d", total, toolResultCeiling)
	}
	if len(out) != 2 {
		t.Fatalf("expected both blocks present (second truncated), got %d", len(out))
	}
}

func TestEmptyToolResultText(t *testing.T) {
	if EmptyToolResultText(true) != "Tool execution failed with no output." {
		t.Fatalf("unexpected error text")
	}
	if EmptyToolResultText(false) != "Command executed successfully." {
		t.Fatalf("unexpected success text")
	}
}

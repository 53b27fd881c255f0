// Package claude implements the Claude Messages <-> Upstream generateContent
// mapper (C8), including streaming and non-streaming response translation.
package claude

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/safety"
	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// BuildOptions carries the request-time context the pure translation
// doesn't have on its own: which account/model/user-agent to stamp on the
// outer wrapper.
type BuildOptions struct {
	Project     string
	MappedModel string
	UserAgent   string

	// SigCache, when non-nil, gates replayed thinking signatures against
	// the target model's family before they're re-attached (spec C2's
	// tool-chain continuity). A nil cache disables the check entirely.
	SigCache *sigcache.Cache
}

// normMessage is a Claude message normalized to block form regardless of
// whether the client sent a plain string or a content-block array.
type normMessage struct {
	Role   string
	Blocks []wire.ContentBlock
}

// BuildRequest implements spec §4.8's full request translation pipeline.
func BuildRequest(req *wire.MessagesRequest, opts BuildOptions) (*wire.UpstreamRequest, bool, error) {
	normalized, err := normalizeMessages(req.Messages)
	if err != nil {
		return nil, false, err
	}
	merged := mergeConsecutive(normalized)
	stripCacheControl(merged)

	thinkingEnabled := isThinkingRequested(req.Thinking) && isThinkingCapableModel(opts.MappedModel)
	hasWebSearch := detectWebSearch(req.Tools)

	sysInstruction := buildSystemInstruction(req.System)

	contents, err := buildContents(merged, thinkingEnabled, opts.SigCache, opts.MappedModel)
	if err != nil {
		return nil, false, err
	}

	tools := buildTools(req.Tools, hasWebSearch)

	genConfig := buildGenerationConfig(req, thinkingEnabled)

	var toolConfig *wire.ToolConfig
	if hasWebSearch && len(tools) > 0 {
		toolConfig = &wire.ToolConfig{FunctionCallingConfig: &wire.FunctionCallingConfig{Mode: "VALIDATED"}}
	}

	inner := wire.InnerRequest{
		SystemInstruction: sysInstruction,
		Contents:          contents,
		Tools:             tools,
		ToolConfig:        toolConfig,
		GenerationConfig:  genConfig,
		SafetySettings:    wire.FixedSafetySettings(),
	}

	outer := &wire.UpstreamRequest{
		Project:     opts.Project,
		RequestID:   uuid.New().String(),
		Request:     inner,
		Model:       opts.MappedModel,
		UserAgent:   opts.UserAgent,
		RequestType: "chat",
	}
	return outer, thinkingEnabled, nil
}

func normalizeMessages(messages []wire.AnthropicMessage) ([]normMessage, error) {
	out := make([]normMessage, 0, len(messages))
	for _, m := range messages {
		blocks, err := decodeContent(m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, normMessage{Role: m.Role, Blocks: blocks})
	}
	return out, nil
}

// decodeContent accepts either a plain JSON string (one text block) or an
// array of content blocks, mirroring Claude's dual content representation.
func decodeContent(raw json.RawMessage) ([]wire.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []wire.ContentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// mergeConsecutive implements spec §4.8 step 1: consecutive same-role
// messages merge, joining two plain-text turns with "\n\n" and otherwise
// concatenating their content blocks.
func mergeConsecutive(messages []normMessage) []normMessage {
	if len(messages) == 0 {
		return messages
	}
	out := make([]normMessage, 0, len(messages))
	out = append(out, messages[0])

	for _, m := range messages[1:] {
		last := &out[len(out)-1]
		if last.Role != m.Role {
			out = append(out, m)
			continue
		}
		if isSinglePlainText(last.Blocks) && isSinglePlainText(m.Blocks) {
			last.Blocks[0].Text = last.Blocks[0].Text + "\n\n" + m.Blocks[0].Text
			continue
		}
		last.Blocks = append(last.Blocks, m.Blocks...)
	}
	return out
}

func isSinglePlainText(blocks []wire.ContentBlock) bool {
	return len(blocks) == 1 && blocks[0].Type == "text"
}

func stripCacheControl(messages []normMessage) {
	for i := range messages {
		for j := range messages[i].Blocks {
			messages[i].Blocks[j].CacheControl = nil
		}
	}
}

func isThinkingRequested(cfg *wire.AnthropicThinkingConfig) bool {
	if cfg == nil {
		return false
	}
	return cfg.Type == "enabled" || cfg.Type == "adaptive"
}

// isThinkingCapableModel matches spec §4.8 step 4's model-family allowlist.
func isThinkingCapableModel(model string) bool {
	if strings.Contains(model, "-thinking") {
		return true
	}
	if strings.HasPrefix(model, "gemini-2.0-pro") {
		return true
	}
	if strings.HasPrefix(model, "gemini-3-pro") {
		return true
	}
	return false
}

func detectWebSearch(tools []wire.AnthropicTool) bool {
	for _, t := range tools {
		if t.Name == "web_search" || strings.Contains(t.Name, "web_search") {
			return true
		}
	}
	return false
}

func buildSystemInstruction(raw json.RawMessage) *wire.SystemInstruction {
	blocks, err := decodeContent(raw)
	if err != nil || len(blocks) == 0 {
		return nil
	}
	var parts []wire.Part
	for _, b := range blocks {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		parts = append(parts, wire.Part{Text: b.Text})
	}
	if len(parts) == 0 {
		return nil
	}
	return &wire.SystemInstruction{Role: "user", Parts: parts}
}

func buildTools(tools []wire.AnthropicTool, hasWebSearch bool) []wire.Tool {
	var decls []wire.FunctionDeclaration
	for _, t := range tools {
		if t.Name == "web_search" || strings.Contains(t.Name, "web_search") {
			continue
		}
		var params map[string]interface{}
		upper := safety.UppercaseSchemaTypes(t.InputSchema)
		if len(upper) > 0 {
			_ = json.Unmarshal(upper, &params)
		}
		decls = append(decls, wire.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}

	var out []wire.Tool
	if len(decls) > 0 {
		out = append(out, wire.Tool{FunctionDeclarations: decls})
	}
	if hasWebSearch {
		out = append(out, wire.Tool{GoogleSearch: map[string]interface{}{}})
	}
	return out
}

const defaultThinkingBudget = 8192
const maxGeminiThinkingBudget = 24576

func buildGenerationConfig(req *wire.MessagesRequest, thinkingEnabled bool) *wire.GenerationConfig {
	cfg := &wire.GenerationConfig{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}

	budget := defaultThinkingBudget
	if thinkingEnabled {
		if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
			budget = req.Thinking.BudgetTokens
		}
		if budget > maxGeminiThinkingBudget {
			budget = maxGeminiThinkingBudget
		}
		cfg.ThinkingConfig = &wire.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
	}

	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = budget + 32768
	} else if maxOut <= budget {
		maxOut = budget + 8192
	}
	cfg.MaxOutputTokens = &maxOut

	return cfg
}

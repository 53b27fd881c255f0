package handlers

import (
	"encoding/json"
	"fmt"
)

// legacyCompletionRequest is the old POST /v1/completions body shape.
type legacyCompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// legacyChatMessage mirrors wire.OpenAIMessage's wire shape without
// importing the mapper's internal types, to keep this a pure string-body
// reshape ahead of the real wire.ChatCompletionRequest unmarshal downstream.
type legacyChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type legacyChatRequest struct {
	Model       string              `json:"model"`
	Messages    []legacyChatMessage `json:"messages"`
	Stream      bool                `json:"stream,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

// legacyCompletionToChat reshapes a legacy /v1/completions prompt into a
// single-turn /v1/chat/completions body so it can ride the same dispatch
// path as every other OpenAI-dialect request (spec §6).
func legacyCompletionToChat(body []byte) ([]byte, error) {
	var req legacyCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid completion request: %w", err)
	}

	chat := legacyChatRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Messages: []legacyChatMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	return json.Marshal(chat)
}

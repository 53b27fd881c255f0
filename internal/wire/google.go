// Package wire defines the internal Upstream wire format (spec §6) and the
// public-dialect request/response shapes the mappers translate to/from.
package wire

import "encoding/json"

// Part is one piece of a Google-style content turn.
type Part struct {
	Text             string                 `json:"text,omitempty"`
	Thought          bool                   `json:"thought,omitempty"`
	ThoughtSignature string                 `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData            `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall          `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse      `json:"functionResponse,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FunctionCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Content is one turn in a Google-style contents array.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// SystemInstruction wraps the system prompt, always role "user" per spec §6.
type SystemInstruction struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ThinkingConfig controls Gemini's extended-thinking behavior.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// GenerationConfig mirrors the Upstream generationConfig object.
type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ImageConfig     map[string]interface{} `json:"imageConfig,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	CandidateCount  int             `json:"candidateCount,omitempty"`
}

// FunctionDeclaration is one Upstream tool function signature.
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Tool wraps a set of function declarations, or a bare google-search marker.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         map[string]interface{} `json:"googleSearch,omitempty"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// FixedSafetySettings is the spec §4.8 step 10 fixed block of 5 categories, all OFF.
func FixedSafetySettings() []SafetySetting {
	return []SafetySetting{
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "OFF"},
		{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "OFF"},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "OFF"},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "OFF"},
		{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "OFF"},
	}
}

// InnerRequest is the Upstream "request" object (spec §6).
type InnerRequest struct {
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Contents          []Content          `json:"contents"`
	Tools             []Tool             `json:"tools,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting    `json:"safetySettings"`
}

// UpstreamRequest is the full outer wrapper body posted to v1internal (spec §6).
type UpstreamRequest struct {
	Project     string       `json:"project"`
	RequestID   string       `json:"requestId"`
	Request     InnerRequest `json:"request"`
	Model       string       `json:"model"`
	UserAgent   string       `json:"userAgent"`
	RequestType string       `json:"requestType"`
}

// Candidate is one candidate in an Upstream response.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata is the Upstream token-usage block.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// UpstreamResponse is the non-streaming Upstream generateContent response,
// optionally wrapped in an outer "response" envelope (both shapes occur on
// the wire; ParseUpstreamResponse handles either).
type UpstreamResponse struct {
	Response *struct {
		Candidates    []Candidate    `json:"candidates"`
		UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	} `json:"response,omitempty"`
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Unwrap returns the candidates/usage regardless of whether the payload was
// wrapped in an outer "response" envelope.
func (r *UpstreamResponse) Unwrap() ([]Candidate, *UsageMetadata) {
	if r.Response != nil {
		return r.Response.Candidates, r.Response.UsageMetadata
	}
	return r.Candidates, r.UsageMetadata
}

// ParseUpstreamResponse decodes one JSON payload into an UpstreamResponse.
func ParseUpstreamResponse(data []byte) (*UpstreamResponse, error) {
	var r UpstreamResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

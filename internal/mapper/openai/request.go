// Package openai implements the OpenAI Chat Completions <-> Upstream
// generateContent mapper (C9), mirroring the Claude mapper's structure with
// OpenAI-specific content/tool-call/streaming conventions.
package openai

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/safety"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// BuildOptions mirrors claude.BuildOptions.
type BuildOptions struct {
	Project     string
	MappedModel string
	UserAgent   string
}

// contentPart is one normalized OpenAI message-content element, covering
// both the plain-string and content-array representations.
type contentPart struct {
	Type string // text, image_url, audio_url
	Text string
	URL  string
}

// BuildRequest translates an OpenAI Chat Completions request into the
// Upstream wrapper (spec §4.9).
func BuildRequest(req *wire.ChatCompletionRequest, opts BuildOptions) (*wire.UpstreamRequest, error) {
	var sysParts []wire.Part
	var contents []wire.Content
	toolCallNames := map[string]string{} // tool_call id -> function name

	for _, m := range req.Messages {
		parts, err := decodeMessageContent(m.Content)
		if err != nil {
			return nil, err
		}

		switch m.Role {
		case "system":
			for _, p := range parts {
				if p.Type == "text" && p.Text != "" {
					sysParts = append(sysParts, wire.Part{Text: p.Text})
				}
			}
			continue

		case "tool":
			name, ok := toolCallNames[m.ToolCallID]
			if !ok {
				name = m.ToolCallID
			}
			text := joinText(parts)
			if text == "" {
				text = "Command executed successfully."
			}
			contents = appendMerged(contents, "user", wire.Part{
				FunctionResponse: &wire.FunctionResponse{ID: m.ToolCallID, Name: name, Response: map[string]interface{}{"result": text}},
			})
			continue
		}

		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}

		var msgParts []wire.Part
		for _, p := range parts {
			switch p.Type {
			case "text":
				if p.Text != "" {
					msgParts = append(msgParts, wire.Part{Text: p.Text})
				}
			case "image_url":
				mime, data := decodeDataURLOrFetch(p.URL)
				if data != "" {
					msgParts = append(msgParts, wire.Part{InlineData: &wire.InlineData{MimeType: mime, Data: data}})
				}
			case "audio_url":
				mime, data := prepareAudio(p.URL)
				if data != "" {
					msgParts = append(msgParts, wire.Part{InlineData: &wire.InlineData{MimeType: mime, Data: data}})
				}
			}
		}

		for _, tc := range m.ToolCalls {
			toolCallNames[tc.ID] = tc.Function.Name
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			msgParts = append(msgParts, wire.Part{FunctionCall: &wire.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args}})
		}

		for _, p := range msgParts {
			contents = appendMerged(contents, role, p)
		}
	}

	var sysInstruction *wire.SystemInstruction
	if len(sysParts) > 0 {
		sysInstruction = &wire.SystemInstruction{Role: "user", Parts: sysParts}
	}

	tools := buildTools(req.Tools)

	genConfig := &wire.GenerationConfig{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		genConfig.MaxOutputTokens = req.MaxTokens
	}

	inner := wire.InnerRequest{
		SystemInstruction: sysInstruction,
		Contents:          contents,
		Tools:             tools,
		GenerationConfig:  genConfig,
		SafetySettings:    wire.FixedSafetySettings(),
	}

	return &wire.UpstreamRequest{
		Project:     opts.Project,
		RequestID:   uuid.New().String(),
		Request:     inner,
		Model:       opts.MappedModel,
		UserAgent:   opts.UserAgent,
		RequestType: "chat",
	}, nil
}

func appendMerged(contents []wire.Content, role string, part wire.Part) []wire.Content {
	if len(contents) > 0 && contents[len(contents)-1].Role == role {
		contents[len(contents)-1].Parts = append(contents[len(contents)-1].Parts, part)
		return contents
	}
	return append(contents, wire.Content{Role: role, Parts: []wire.Part{part}})
}

func joinText(parts []contentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func decodeMessageContent(raw json.RawMessage) ([]contentPart, error) {
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
		return []contentPart{{Type: "text", Text: s}}, nil
	}

	var arr []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL *struct {
			URL string `json:"url"`
		} `json:"image_url"`
		AudioURL *struct {
			URL string `json:"url"`
		} `json:"audio_url"`
	}
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	out := make([]contentPart, 0, len(arr))
	for _, a := range arr {
		switch a.Type {
		case "text":
			out = append(out, contentPart{Type: "text", Text: a.Text})
		case "image_url":
			if a.ImageURL != nil {
				out = append(out, contentPart{Type: "image_url", URL: a.ImageURL.URL})
			}
		case "audio_url":
			if a.AudioURL != nil {
				out = append(out, contentPart{Type: "audio_url", URL: a.AudioURL.URL})
			}
		}
	}
	return out, nil
}

// decodeDataURLOrFetch extracts mime/base64 data from a "data:" URL. Remote
// http(s) URLs are left for the caller's own fetch step; this mapper only
// inlines what the client already base64-encoded.
func decodeDataURLOrFetch(url string) (mime, data string) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", ""
	}
	rest := url[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", ""
	}
	header := rest[:comma]
	payload := rest[comma+1:]
	mime = strings.TrimSuffix(header, ";base64")
	return mime, payload
}

var audioMimeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
}

const maxAudioBytes = 15 * 1024 * 1024

// AudioMimeFromFilename resolves the MIME type for an uploaded audio file by
// its extension, for callers (e.g. the transcription multipart handler) that
// only have a filename and a byte slice, not a URL.
func AudioMimeFromFilename(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return "application/octet-stream"
	}
	if mime, ok := audioMimeByExt[strings.ToLower(name[idx:])]; ok {
		return mime
	}
	return "application/octet-stream"
}

// prepareAudio mirrors spec §4.9's audio preparation: MIME from extension,
// a 15 MiB cap, base64 encoding. Only already-inlined data URLs carry actual
// bytes here; remote fetch is the caller's responsibility.
func prepareAudio(url string) (mime, data string) {
	if strings.HasPrefix(url, "data:") {
		mime, data = decodeDataURLOrFetch(url)
		if base64.StdEncoding.DecodedLen(len(data)) > maxAudioBytes {
			return mime, ""
		}
		return mime, data
	}
	mime = AudioMimeFromFilename(url)
	return mime, ""
}

func buildTools(tools []wire.OpenAITool) []wire.Tool {
	var decls []wire.FunctionDeclaration
	for _, t := range tools {
		params := t.Function.Parameters
		if params != nil {
			raw, _ := json.Marshal(params)
			upper := safety.UppercaseSchemaTypes(raw)
			var upperParams map[string]interface{}
			_ = json.Unmarshal(upper, &upperParams)
			params = upperParams
		}
		decls = append(decls, wire.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []wire.Tool{{FunctionDeclarations: decls}}
}

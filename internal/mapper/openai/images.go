package openai

import (
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/imageconfig"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// ImageRequest is the decoded POST /v1/images/generations or /v1/images/edits
// body (spec §6). InputImages is only populated for edits.
type ImageRequest struct {
	Model       string
	Prompt      string
	Size        string
	Quality     string
	ImageSize   string
	N           int
	InputImages []InputImage
	BodyConfig  map[string]interface{} // generationConfig.imageConfig override, if the client sent one
}

type InputImage struct {
	MimeType string
	Data     string // base64
}

// BuildImageRequest translates an OpenAI image generation/edit request into
// the Upstream wire request for gemini-3-pro-image (spec §6 "Image config
// priority").
func BuildImageRequest(req ImageRequest) *wire.InnerRequest {
	inferred := imageconfig.Resolve(req.Model, req.Size, req.Quality, req.ImageSize)
	resolved := imageconfig.MergeBodyOverride(inferred, req.BodyConfig)

	parts := []wire.Part{{Text: req.Prompt}}
	for _, img := range req.InputImages {
		parts = append(parts, wire.Part{InlineData: &wire.InlineData{MimeType: img.MimeType, Data: img.Data}})
	}

	n := req.N
	if n < 1 {
		n = 1
	}

	return &wire.InnerRequest{
		Contents: []wire.Content{{Role: "user", Parts: parts}},
		GenerationConfig: &wire.GenerationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        resolved.ToMap(),
			CandidateCount:     n,
		},
		SafetySettings: wire.FixedSafetySettings(),
	}
}

// ImageGenerationResponse mirrors the OpenAI /v1/images/generations response shape.
type ImageGenerationResponse struct {
	Created int64            `json:"created"`
	Data    []ImageDataEntry `json:"data"`
}

type ImageDataEntry struct {
	B64JSON string `json:"b64_json,omitempty"`
}

// TranslateImageResponse collects every inlineData part across all
// candidates into OpenAI's {created, data:[{b64_json}]} shape.
func TranslateImageResponse(upstreamBody []byte) (*ImageGenerationResponse, error) {
	resp, err := wire.ParseUpstreamResponse(upstreamBody)
	if err != nil {
		return nil, err
	}
	candidates, _ := resp.Unwrap()

	out := &ImageGenerationResponse{Created: time.Now().Unix()}
	for _, cand := range candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				out.Data = append(out.Data, ImageDataEntry{B64JSON: part.InlineData.Data})
			}
		}
	}
	return out, nil
}

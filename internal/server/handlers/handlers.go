// Package handlers implements the gin route handlers for every endpoint in
// spec §6, delegating request/response work to internal/gateway.
package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/gateway"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	openaimapper "github.com/poemonsense/antigravity-proxy-go/internal/mapper/openai"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
	"github.com/poemonsense/antigravity-proxy-go/internal/warmup"
)

// Handlers bundles the dependencies every route needs.
type Handlers struct {
	Dispatcher *gateway.Dispatcher
	Cfg        *config.Config
	Pool       *pool.Manager
	Warmup     *warmup.Scheduler
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
		return nil, false
	}
	return body, true
}

// Healthz implements the supplemented liveness probe.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Messages implements POST /v1/messages.
func (h *Handlers) Messages(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := h.Dispatcher.HandleMessages(c.Request.Context(), c.Writer, body); err != nil {
		logging.Error("[handlers] messages failed: %v", err)
	}
}

// CountTokens implements POST /v1/messages/count_tokens.
func (h *Handlers) CountTokens(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := h.Dispatcher.HandleCountTokens(c.Writer, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
	}
}

// ChatCompletions implements POST /v1/chat/completions.
func (h *Handlers) ChatCompletions(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := h.Dispatcher.HandleChatCompletions(c.Request.Context(), c.Writer, body); err != nil {
		logging.Error("[handlers] chat completions failed: %v", err)
	}
}

// Completions implements the legacy POST /v1/completions by reshaping the
// prompt into a single-turn chat request before delegating (spec §6).
func (h *Handlers) Completions(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	chatBody, err := legacyCompletionToChat(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if err := h.Dispatcher.HandleChatCompletions(c.Request.Context(), c.Writer, chatBody); err != nil {
		logging.Error("[handlers] completions failed: %v", err)
	}
}

type imageGenerationRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Size      string `json:"size"`
	Quality   string `json:"quality"`
	ImageSize string `json:"imageSize"`
	N         int    `json:"n"`
	GenerationConfig *struct {
		ImageConfig map[string]interface{} `json:"imageConfig"`
	} `json:"generationConfig"`
}

func (r imageGenerationRequest) toMapperRequest(inputs []openaimapper.InputImage) openaimapper.ImageRequest {
	var bodyConfig map[string]interface{}
	if r.GenerationConfig != nil {
		bodyConfig = r.GenerationConfig.ImageConfig
	}
	return openaimapper.ImageRequest{
		Model:       r.Model,
		Prompt:      r.Prompt,
		Size:        r.Size,
		Quality:     r.Quality,
		ImageSize:   r.ImageSize,
		N:           r.N,
		InputImages: inputs,
		BodyConfig:  bodyConfig,
	}
}

// ImagesGenerations implements POST /v1/images/generations (spec §6).
func (h *Handlers) ImagesGenerations(c *gin.Context) {
	var req imageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if err := h.Dispatcher.HandleImageGeneration(c.Request.Context(), c.Writer, req.toMapperRequest(nil)); err != nil {
		logging.Error("[handlers] images.generations failed: %v", err)
	}
}

// ImagesEdits implements POST /v1/images/edits: a multipart form carrying
// one or more "image" files plus the same prompt/size/quality fields as
// generations (spec §6).
func (h *Handlers) ImagesEdits(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid multipart form"}})
		return
	}

	req := imageGenerationRequest{
		Model:     firstValue(form.Value["model"]),
		Prompt:    firstValue(form.Value["prompt"]),
		Size:      firstValue(form.Value["size"]),
		Quality:   firstValue(form.Value["quality"]),
		ImageSize: firstValue(form.Value["imageSize"]),
	}

	var inputs []openaimapper.InputImage
	for _, fh := range form.File["image"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read image"}})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read image"}})
			return
		}
		inputs = append(inputs, openaimapper.InputImage{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}

	if err := h.Dispatcher.HandleImageGeneration(c.Request.Context(), c.Writer, req.toMapperRequest(inputs)); err != nil {
		logging.Error("[handlers] images.edits failed: %v", err)
	}
}

const maxAudioUploadBytes = 15 * 1024 * 1024

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// AudioTranscriptions implements POST /v1/audio/transcriptions: a multipart
// form carrying "file", "model", "prompt" (spec §6).
func (h *Handlers) AudioTranscriptions(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "missing audio file"}})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to open audio file"}})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read audio file"}})
		return
	}
	if len(data) > maxAudioUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": gin.H{"message": "audio file exceeds 15 MiB limit"}})
		return
	}

	prompt := c.PostForm("prompt")
	if prompt == "" {
		prompt = "Generate a transcript of the speech."
	}
	mimeType := openaimapper.AudioMimeFromFilename(fileHeader.Filename)
	b64 := base64.StdEncoding.EncodeToString(data)

	if err := h.Dispatcher.HandleAudioTranscription(c.Request.Context(), c.Writer, mimeType, b64, prompt); err != nil {
		logging.Error("[handlers] audio.transcriptions failed: %v", err)
	}
}

// GenerateContent implements the native-format POST
// /v1beta/models/{model}:generateContent pass-through.
func (h *Handlers) GenerateContent(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	model := c.Param("model")
	if err := h.Dispatcher.HandleNative(c.Request.Context(), c.Writer, model, body, false); err != nil {
		logging.Error("[handlers] generateContent failed: %v", err)
	}
}

// StreamGenerateContent implements the streaming native-format variant.
func (h *Handlers) StreamGenerateContent(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	model := c.Param("model")
	if err := h.Dispatcher.HandleNative(c.Request.Context(), c.Writer, model, body, true); err != nil {
		logging.Error("[handlers] streamGenerateContent failed: %v", err)
	}
}

// Models implements GET /v1/models.
func (h *Handlers) Models(c *gin.Context) {
	now := time.Now().Unix()
	var data []gin.H
	for _, id := range catalogModelIDs {
		data = append(data, gin.H{"id": id, "object": "model", "created": now, "owned_by": "antigravity"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

type warmupRequest struct {
	AccountID string `json:"account_id"`
	Model     string `json:"model"`
}

// Warmup implements the loopback POST /internal/warmup endpoint that each
// scheduled warmup task calls on itself (spec §4.11): it pins a trivial
// request to one account, bypassing normal pool selection, to prod that
// account's 100%-quota model into decrementing. The model field is only
// used by the scheduler for warmup-history bookkeeping; the wire request
// itself always targets the fixed flash model.
func (h *Handlers) Warmup(c *gin.Context) {
	var req warmupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "account_id is required"}})
		return
	}
	if err := h.Dispatcher.WarmupPing(c.Request.Context(), req.AccountID); err != nil {
		logging.Error("[handlers] warmup ping failed for %s: %v", req.AccountID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var catalogModelIDs = []string{
	"claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking",
	"gemini-3-pro-high",
	"gemini-3-flash",
	"gemini-2.5-pro",
	"gemini-2.5-flash",
}

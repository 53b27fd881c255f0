// Package gateway implements the per-request dispatch/retry orchestration
// (C10, spec §4.10): parse, shape history, map the model, translate to the
// Upstream wire format, and drive the account-pool retry loop.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-proxy-go/internal/compress"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/gwerrors"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	claudemapper "github.com/poemonsense/antigravity-proxy-go/internal/mapper/claude"
	openaimapper "github.com/poemonsense/antigravity-proxy-go/internal/mapper/openai"
	"github.com/poemonsense/antigravity-proxy-go/internal/modelmap"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
	"github.com/poemonsense/antigravity-proxy-go/internal/ratelimit"
	"github.com/poemonsense/antigravity-proxy-go/internal/safety"
	"github.com/poemonsense/antigravity-proxy-go/internal/session"
	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/upstream"
	"github.com/poemonsense/antigravity-proxy-go/internal/warmup"
	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// History-shaping tuning (spec §4.4/§4.10). No single constant is named by
// the spec, so these follow the teacher's own context-window defaults.
const (
	keepLastNRounds    = 20
	protectedLastN     = 2
	modelTokenBudget   = 128_000
	aggressiveBudgetMu = 1.5
)

// Dispatcher wires the account pool, rate-limit tracker, and upstream HTTP
// clients together to serve one request end to end.
type Dispatcher struct {
	Pool    *pool.Manager
	Tracker *ratelimit.Tracker
	Clients *upstream.ClientCache
	Cfg     *config.Config
	SigCache *sigcache.Cache

	// OAuth refreshes an account's access token on a 401 (spec §4.10 step d).
	// Nil disables the refresh-and-retry step; the 401 is then treated as a
	// plain retry-next-account failure.
	OAuth *warmup.OAuthRefresher
}

func (d *Dispatcher) client() (*http.Client, error) {
	return d.Clients.Get("__default__", d.Cfg.UpstreamProxyURL)
}

func (d *Dispatcher) attempts() int {
	n := d.Pool.Count()
	if n < 1 {
		return 1
	}
	return n
}

// HandleMessages serves POST /v1/messages (spec §4.8/§6).
func (d *Dispatcher) HandleMessages(ctx context.Context, w http.ResponseWriter, body []byte) error {
	var req wire.MessagesRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "invalid request body: %v", err)
	}

	sessionID := session.DeriveSessionID(body)
	mappedModel := modelmap.MapModel(req.Model, d.Cfg.GetCustomModelMapping(), false)

	shapeClaudeHistory(&req, mappedModel)

	outer, thinkingEnabled, err := claudemapper.BuildRequest(&req, claudemapper.BuildOptions{
		MappedModel: mappedModel,
		UserAgent:   d.Cfg.UserAgent,
		SigCache:    d.SigCache,
	})
	_ = thinkingEnabled
	if err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "request translation failed: %v", err)
	}
	messageCount := len(req.Messages)
	return d.run(ctx, mappedModel, sessionID, req.Stream, outer.Request, func(result *upstream.Result) error {
		if req.Stream {
			return writeClaudeStream(w, result.Body, req.Model, mappedModel, d.SigCache, sessionID, messageCount)
		}
		resp, err := claudemapper.TranslateResponse(result.Body, req.Model, mappedModel, d.SigCache, sessionID, messageCount)
		if err != nil {
			return gwerrors.New(gwerrors.CodeDecode, false, "response translation failed: %v", err)
		}
		return writeJSON(w, resp)
	}, func(err *gwerrors.GatewayError) error {
		if req.Stream {
			return safety.WriteSSEError(w, err)
		}
		safety.WriteHTTPError(w, err)
		return nil
	})
}

// HandleCountTokens serves POST /v1/messages/count_tokens.
func (d *Dispatcher) HandleCountTokens(w http.ResponseWriter, body []byte) error {
	var req wire.MessagesRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "invalid request body: %v", err)
	}
	count, err := claudemapper.CountTokens(&req)
	if err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "count failed: %v", err)
	}
	return writeJSON(w, map[string]int{"input_tokens": count})
}

// HandleChatCompletions serves POST /v1/chat/completions (spec §4.9/§6).
func (d *Dispatcher) HandleChatCompletions(ctx context.Context, w http.ResponseWriter, body []byte) error {
	var req wire.ChatCompletionRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "invalid request body: %v", err)
	}

	sessionID := session.DeriveSessionID(body)
	mappedModel := modelmap.MapModel(req.Model, d.Cfg.GetCustomModelMapping(), false)

	outer, err := openaimapper.BuildRequest(&req, openaimapper.BuildOptions{
		MappedModel: mappedModel,
		UserAgent:   d.Cfg.UserAgent,
	})
	if err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "request translation failed: %v", err)
	}
	return d.run(ctx, mappedModel, sessionID, req.Stream, outer.Request, func(result *upstream.Result) error {
		if req.Stream {
			return writeOpenAIStream(w, result.Body, req.Model)
		}
		resp, err := openaimapper.TranslateResponse(result.Body, req.Model)
		if err != nil {
			return gwerrors.New(gwerrors.CodeDecode, false, "response translation failed: %v", err)
		}
		return writeJSON(w, resp)
	}, func(err *gwerrors.GatewayError) error {
		safety.WriteHTTPError(w, err)
		return nil
	})
}

// HandleNative serves the native-format /v1beta/models/{model}:generateContent
// and :streamGenerateContent endpoints: the client already sends an
// Upstream-shaped InnerRequest body, so this is pass-through aside from
// model mapping and per-attempt project injection.
func (d *Dispatcher) HandleNative(ctx context.Context, w http.ResponseWriter, requestedModel string, body []byte, stream bool) error {
	var inner wire.InnerRequest
	if err := sonic.Unmarshal(body, &inner); err != nil {
		return gwerrors.New(gwerrors.CodeDecode, false, "invalid request body: %v", err)
	}
	sessionID := session.DeriveSessionID(body)
	mappedModel := modelmap.MapModel(requestedModel, d.Cfg.GetCustomModelMapping(), false)

	return d.run(ctx, mappedModel, sessionID, stream, inner, func(result *upstream.Result) error {
		if stream {
			_, err := w.Write(result.Body)
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write(result.Body)
		return err
	}, func(err *gwerrors.GatewayError) error {
		safety.WriteHTTPError(w, err)
		return nil
	})
}

// HandleImageGeneration serves POST /v1/images/generations and
// POST /v1/images/edits (spec §6): both map to gemini-3-pro-image, differing
// only in whether input images are attached.
func (d *Dispatcher) HandleImageGeneration(ctx context.Context, w http.ResponseWriter, req openaimapper.ImageRequest) error {
	mappedModel := "gemini-3-pro-image"
	inner := openaimapper.BuildImageRequest(req)
	sessionID := session.DeriveSessionID([]byte(req.Prompt))

	return d.run(ctx, mappedModel, sessionID, false, *inner, func(result *upstream.Result) error {
		resp, err := openaimapper.TranslateImageResponse(result.Body)
		if err != nil {
			return gwerrors.New(gwerrors.CodeDecode, false, "image response translation failed: %v", err)
		}
		return writeJSON(w, resp)
	}, func(err *gwerrors.GatewayError) error {
		safety.WriteHTTPError(w, err)
		return nil
	})
}

// HandleAudioTranscription serves POST /v1/audio/transcriptions (spec §6):
// the uploaded file is inlined as audio data alongside the prompt text and
// issued as a plain generateContent call; only the reply text is returned.
func (d *Dispatcher) HandleAudioTranscription(ctx context.Context, w http.ResponseWriter, mimeType, base64Data, prompt string) error {
	mappedModel := modelmap.MapModel("gemini-2.5-flash", d.Cfg.GetCustomModelMapping(), false)
	sessionID := session.DeriveSessionID([]byte(prompt))

	inner := wire.InnerRequest{
		Contents: []wire.Content{{
			Role: "user",
			Parts: []wire.Part{
				{Text: prompt},
				{InlineData: &wire.InlineData{MimeType: mimeType, Data: base64Data}},
			},
		}},
		SafetySettings: wire.FixedSafetySettings(),
	}

	return d.run(ctx, mappedModel, sessionID, false, inner, func(result *upstream.Result) error {
		resp, err := wire.ParseUpstreamResponse(result.Body)
		if err != nil {
			return gwerrors.New(gwerrors.CodeDecode, false, "transcription response parse failed: %v", err)
		}
		candidates, _ := resp.Unwrap()
		text := ""
		if len(candidates) > 0 && len(candidates[0].Content.Parts) > 0 {
			text = candidates[0].Content.Parts[0].Text
		}
		return writeJSON(w, map[string]string{"text": text})
	}, func(err *gwerrors.GatewayError) error {
		safety.WriteHTTPError(w, err)
		return nil
	})
}

// WarmupPing issues the fixed-model trivial request spec §4.11 uses to prod
// one specific account's quota into decrementing. Unlike run, it pins the
// request to accountID instead of going through pool selection, and it does
// not retry against other accounts on failure.
func (d *Dispatcher) WarmupPing(ctx context.Context, accountID string) error {
	token, ok := d.Pool.TokenForAccount(accountID)
	if !ok {
		return gwerrors.New(gwerrors.CodeConnection, false, "warmup: unknown account %s", accountID)
	}

	client, err := d.client()
	if err != nil {
		return gwerrors.New(gwerrors.CodeConnection, false, "upstream client init failed: %v", err)
	}

	inner := wire.InnerRequest{
		Contents: []wire.Content{{
			Role:  "user",
			Parts: []wire.Part{{Text: "hi"}},
		}},
		SafetySettings: wire.FixedSafetySettings(),
	}
	outer := wire.UpstreamRequest{
		Project:     token.ProjectID,
		RequestID:   uuid.New().String(),
		Request:     inner,
		Model:       "gemini-2.5-flash",
		UserAgent:   d.Cfg.UserAgent,
		RequestType: "chat",
	}
	payload, _ := sonic.Marshal(outer)

	result, err := upstream.Invoke(ctx, client, "generateContent", "", token.AccessToken, d.Cfg.UserAgent, payload, nil)
	if err != nil {
		d.Pool.RecordFailure(token.AccountID)
		return gwerrors.New(gwerrors.CodeConnection, false, "warmup invoke failed: %v", err)
	}
	if result.StatusCode >= 200 && result.StatusCode < 300 {
		d.Pool.MarkSuccess(token.AccountID)
		return nil
	}

	action, gwErr := classifyFailure(result.StatusCode, result.Body)
	if action == outcomeValidationRequired {
		d.Pool.MarkValidationBlocked(token.AccountID, timeNowUnixPlus24h())
	} else {
		d.Pool.RecordFailure(token.AccountID)
	}
	return gwErr
}

// run drives the spec §4.10 retry loop: get_token -> invoke -> classify,
// retrying on retriable failures up to one attempt per pool account.
func (d *Dispatcher) run(
	ctx context.Context,
	mappedModel, sessionID string,
	stream bool,
	inner wire.InnerRequest,
	onSuccess func(*upstream.Result) error,
	onFatal func(*gwerrors.GatewayError) error,
) error {
	client, err := d.client()
	if err != nil {
		return gwerrors.New(gwerrors.CodeConnection, false, "upstream client init failed: %v", err)
	}

	method := "generateContent"
	query := ""
	if stream {
		method = "streamGenerateContent"
		query = "alt=sse"
	}

	maxAttempts := d.attempts()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err := d.Pool.GetToken(ctx, mappedModel, sessionID)
		if err != nil {
			wait := d.Cfg.GetMaxWaitSeconds()
			return onFatal(gwerrors.NewAllAccountsLimitedError(wait).GatewayError)
		}

		result, err := d.invoke(ctx, client, method, query, token, mappedModel, inner)
		if err != nil {
			logging.Warn("[gateway] upstream invoke failed for %s: %v", token.AccountID, err)
			d.Pool.RecordFailure(token.AccountID)
			continue
		}

		if result.StatusCode >= 200 && result.StatusCode < 300 {
			d.Pool.MarkSuccess(token.AccountID)
			if err := onSuccess(result); err != nil {
				if ge, ok := err.(*gwerrors.GatewayError); ok {
					return onFatal(ge)
				}
				return err
			}
			return nil
		}

		action, gwErr := classifyFailure(result.StatusCode, result.Body)

		if action == outcomeAuthRefresh {
			if retryResult, ok := d.retryAfterRefresh(ctx, client, method, query, token, mappedModel, inner); ok {
				d.Pool.MarkSuccess(token.AccountID)
				if err := onSuccess(retryResult); err != nil {
					if ge, ok := err.(*gwerrors.GatewayError); ok {
						return onFatal(ge)
					}
					return err
				}
				return nil
			}
			action = outcomeRetryNextAccount
		}

		switch action {
		case outcomeValidationRequired:
			d.Pool.MarkValidationBlocked(token.AccountID, timeNowUnixPlus24h())
			continue
		case outcomeFatal:
			d.Pool.RecordFailure(token.AccountID)
			return onFatal(gwErr)
		default: // outcomeRetryNextAccount
			retryAfter := result.Header.Get("Retry-After")
			d.Tracker.ParseFromError(token.AccountID, result.StatusCode, retryAfter, string(result.Body), mappedModel, d.Cfg.GetBackoffSteps())
			d.Pool.RecordFailure(token.AccountID)
			continue
		}
	}

	return onFatal(gwerrors.NewAllAccountsLimitedError(d.Cfg.GetMaxWaitSeconds()).GatewayError)
}

// invoke builds the outer request envelope and issues it against Upstream.
func (d *Dispatcher) invoke(ctx context.Context, client *http.Client, method, query string, token *pool.Token, mappedModel string, inner wire.InnerRequest) (*upstream.Result, error) {
	outer := wire.UpstreamRequest{
		Project:     token.ProjectID,
		RequestID:   uuid.New().String(),
		Request:     inner,
		Model:       mappedModel,
		UserAgent:   d.Cfg.UserAgent,
		RequestType: "chat",
	}
	payload, _ := sonic.Marshal(outer)
	return upstream.Invoke(ctx, client, method, query, token.AccessToken, d.Cfg.UserAgent, payload, nil)
}

// retryAfterRefresh implements spec §4.10 step d / §7's auth_error handling:
// refresh the account's OAuth token, pull the refreshed token back out of
// the pool, and retry the same account exactly once. Returns ok=false (and
// leaves the caller to rotate to the next account) on any refresh failure,
// refreshed-token lookup failure, invoke error, or non-2xx retry response.
func (d *Dispatcher) retryAfterRefresh(ctx context.Context, client *http.Client, method, query string, token *pool.Token, mappedModel string, inner wire.InnerRequest) (*upstream.Result, bool) {
	if d.OAuth == nil {
		return nil, false
	}
	if err := d.OAuth.Refresh(ctx, token.AccountID); err != nil {
		logging.Warn("[gateway] oauth refresh failed for %s: %v", token.AccountID, err)
		return nil, false
	}
	refreshed, ok := d.Pool.TokenForAccount(token.AccountID)
	if !ok {
		return nil, false
	}
	result, err := d.invoke(ctx, client, method, query, refreshed, mappedModel, inner)
	if err != nil {
		logging.Warn("[gateway] retry after oauth refresh failed for %s: %v", token.AccountID, err)
		return nil, false
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, false
	}
	return result, true
}

func timeNowUnixPlus24h() int64 {
	return time.Now().Add(24 * time.Hour).Unix()
}

func shapeClaudeHistory(req *wire.MessagesRequest, mappedModel string) {
	messages := make([]compress.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		var blocks []wire.ContentBlock
		var s string
		if json.Unmarshal(m.Content, &s) == nil {
			if s != "" {
				blocks = []wire.ContentBlock{{Type: "text", Text: s}}
			}
		} else {
			_ = json.Unmarshal(m.Content, &blocks)
		}
		messages = append(messages, compress.Message{Role: m.Role, Content: blocks})
	}

	messages = compress.TrimRounds(messages, keepLastNRounds)
	messages = compress.CompressSignedThinking(messages, protectedLastN)

	estimate := 0
	for _, m := range messages {
		estimate += compress.EstimateMessageTokens(toBlocks(m.Content))
	}
	if estimate > modelTokenBudget {
		level := compress.PurifySoft
		if float64(estimate) > modelTokenBudget*aggressiveBudgetMu {
			level = compress.PurifyAggressive
		}
		messages = compress.Purify(messages, level)
	}

	out := make([]wire.AnthropicMessage, 0, len(messages))
	for _, m := range messages {
		raw, _ := json.Marshal(m.Content)
		out = append(out, wire.AnthropicMessage{Role: m.Role, Content: raw})
	}
	req.Messages = out
}

func toBlocks(blocks []wire.ContentBlock) []compress.Block {
	out := make([]compress.Block, 0, len(blocks))
	for _, b := range blocks {
		text := b.Text
		if b.Type == "thinking" {
			text = b.Thinking
		}
		out = append(out, compress.Block{Type: b.Type, Text: text, Signature: b.Signature, Name: b.Name, InputJSON: string(b.Input)})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	return err
}

func writeClaudeStream(w io.Writer, upstreamBody []byte, requestedModel, mappedModel string, sigCache *sigcache.Cache, sessionID string, messageCount int) error {
	translator := claudemapper.NewStreamTranslator(w, requestedModel, mappedModel, sigCache, sessionID, messageCount)
	for _, chunk := range splitUpstreamChunks(upstreamBody) {
		if err := translator.HandleChunk(chunk); err != nil {
			return fmt.Errorf("stream translation failed: %w", err)
		}
	}
	return translator.Finish("STOP", nil)
}

func writeOpenAIStream(w io.Writer, upstreamBody []byte, requestedModel string) error {
	translator := openaimapper.NewStreamTranslator(w, requestedModel)
	for _, chunk := range splitUpstreamChunks(upstreamBody) {
		if err := translator.HandleChunk(chunk); err != nil {
			return fmt.Errorf("stream translation failed: %w", err)
		}
	}
	return translator.Finish("STOP", nil)
}

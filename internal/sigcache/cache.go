// Package sigcache implements the three-layer thinking-signature cache
// (C2, spec §4.2): per tool_use_id, per model-family, and per session.
package sigcache

import (
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
)

const (
	minSignatureLength = 50
	ttl                = 2 * time.Hour

	l1Capacity = 500
	l2Capacity = 200
	l3Capacity = 1000
)

type toolEntry struct {
	signature string
	ts        time.Time
}

type familyEntry struct {
	family string
	ts     time.Time
}

type sessionEntry struct {
	signature    string
	messageCount int
	ts           time.Time
}

// Cache is the process-wide (spec §9 "global mutable state... inherently
// process-wide") signature cache. One mutex per layer, matching the
// concurrency model in spec §5.
type Cache struct {
	toolMu    sync.Mutex
	tools     map[string]toolEntry

	familyMu  sync.Mutex
	families  map[string]familyEntry

	sessionMu sync.Mutex
	sessions  map[string]sessionEntry

	// redis, when non-nil (set via NewWithRedis), replaces the L1/L2
	// in-memory maps above with a distributed store. L3 stays in-memory
	// regardless, matching the teacher's own Redis-backed cache scope.
	redis *redis.Client
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		tools:    make(map[string]toolEntry),
		families: make(map[string]familyEntry),
		sessions: make(map[string]sessionEntry),
	}
}

func expired(ts time.Time) bool { return time.Since(ts) > ttl }

// CacheToolSignature stores the L1 tool_use_id -> signature mapping.
// Writes shorter than minSignatureLength are silently dropped (spec §4.2).
func (c *Cache) CacheToolSignature(toolUseID, signature string) {
	if len(signature) < minSignatureLength {
		return
	}
	if c.redis != nil {
		c.redisSetTool(toolUseID, signature)
		return
	}
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	if len(c.tools) >= l1Capacity {
		sweepTool(c.tools)
	}
	c.tools[toolUseID] = toolEntry{signature: signature, ts: time.Now()}
}

// GetToolSignature returns the cached signature for toolUseID, or "" on
// miss/expiry.
func (c *Cache) GetToolSignature(toolUseID string) (string, bool) {
	if c.redis != nil {
		return c.redisGetTool(toolUseID)
	}
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	e, ok := c.tools[toolUseID]
	if !ok || expired(e.ts) {
		return "", false
	}
	return e.signature, true
}

func sweepTool(m map[string]toolEntry) {
	for k, v := range m {
		if expired(v.ts) {
			delete(m, k)
		}
	}
}

// CacheFamily records the L2 signature -> model_family mapping.
func (c *Cache) CacheFamily(signature, family string) {
	if len(signature) < minSignatureLength {
		return
	}
	if c.redis != nil {
		c.redisSetFamily(signature, family)
		return
	}
	c.familyMu.Lock()
	defer c.familyMu.Unlock()
	if len(c.families) >= l2Capacity {
		sweepFamily(c.families)
	}
	c.families[signature] = familyEntry{family: family, ts: time.Now()}
}

// GetFamily returns the recorded family for signature, or "" if unrecorded.
func (c *Cache) GetFamily(signature string) (string, bool) {
	if c.redis != nil {
		return c.redisGetFamily(signature)
	}
	c.familyMu.Lock()
	defer c.familyMu.Unlock()
	e, ok := c.families[signature]
	if !ok || expired(e.ts) {
		return "", false
	}
	return e.family, true
}

func sweepFamily(m map[string]familyEntry) {
	for k, v := range m {
		if expired(v.ts) {
			delete(m, k)
		}
	}
}

// UpdateSession applies the L3 session-layer update semantics of spec §4.2.
func (c *Cache) UpdateSession(sessionID, signature string, messageCount int) {
	if len(signature) < minSignatureLength {
		return
	}
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	existing, ok := c.sessions[sessionID]
	switch {
	case !ok || expired(existing.ts):
		// no entry, or expired: store/replace unconditionally.
	case messageCount < existing.messageCount:
		logging.Info("[sigcache] session %s rewind detected (msg %d < %d), replacing signature", sessionID, messageCount, existing.messageCount)
	case messageCount == existing.messageCount:
		if len(signature) <= len(existing.signature) {
			return
		}
	default: // messageCount > existing.messageCount: forward progression
	}

	if len(c.sessions) >= l3Capacity {
		sweepSession(c.sessions)
	}
	c.sessions[sessionID] = sessionEntry{signature: signature, messageCount: messageCount, ts: time.Now()}
}

// GetSession returns the session's current signature, or "" on miss/expiry.
func (c *Cache) GetSession(sessionID string) (string, bool) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	e, ok := c.sessions[sessionID]
	if !ok || expired(e.ts) {
		return "", false
	}
	return e.signature, true
}

func sweepSession(m map[string]sessionEntry) {
	for k, v := range m {
		if expired(v.ts) {
			delete(m, k)
		}
	}
}

// NormalizeFamily canonicalizes a model id's family for cross-model
// compatibility checks (spec §4.2).
func NormalizeFamily(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return "claude"
	case strings.HasPrefix(lower, "gemini"):
		return "gemini"
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"):
		return "openai"
	default:
		return lower
	}
}

// IsSignatureCompatible reports whether a cached signature may be injected
// into a request targeting targetModel. Optimistic when no family was
// recorded for the signature (spec §4.2).
func (c *Cache) IsSignatureCompatible(signature, targetModel string) bool {
	family, ok := c.GetFamily(signature)
	if !ok {
		return true
	}
	target := NormalizeFamily(targetModel)
	if family == target {
		return true
	}
	logging.Warn("[sigcache] refusing to inject %s-family signature into %s request", family, target)
	return false
}

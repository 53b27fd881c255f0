// Package compress implements the context compressor (C4, spec §4.4):
// token estimation, tool-result shrinking, and multi-layer thinking
// purification over a normalized Claude-style history.
package compress

import "github.com/poemonsense/antigravity-proxy-go/internal/wire"

// Message is one normalized history turn. Content blocks use the same
// shape the Claude mapper already works with (wire.ContentBlock), so the
// compressor can run directly on a parsed MessagesRequest.Messages slice
// after content has been decoded into blocks.
type Message struct {
	Role    string
	Content []wire.ContentBlock
}

// ToolDef is a minimal tool definition, just enough to estimate tokens.
type ToolDef struct {
	Name        string
	Description string
	SchemaJSON  string
}

package gateway

import (
	"bytes"
	"encoding/json"
)

// splitUpstreamChunks normalizes a buffered streamGenerateContent body into
// its individual JSON response objects. Upstream may return either a JSON
// array (the whole stream flushed as one array once the connection closes)
// or newline/SSE-framed objects; both shapes occur in practice depending on
// the alt=sse query flag, so both are handled here.
func splitUpstreamChunks(body []byte) [][]byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			out := make([][]byte, 0, len(raw))
			for _, r := range raw {
				out = append(out, []byte(r))
			}
			return out
		}
	}

	var out [][]byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			line = bytes.TrimSpace(line[len("data:"):])
		}
		if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
			continue
		}
		out = append(out, line)
	}
	if len(out) > 0 {
		return out
	}
	return [][]byte{trimmed}
}

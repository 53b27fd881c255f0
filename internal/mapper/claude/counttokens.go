package claude

import (
	"encoding/json"
	"math"

	"github.com/poemonsense/antigravity-proxy-go/internal/wire"
)

// CountTokens implements spec §4.8's count_tokens heuristic: sum character
// counts across system, messages (incl. stringified tool inputs/results),
// and tool definitions; return ceil(total/4).
func CountTokens(req *wire.MessagesRequest) (int, error) {
	total := 0

	if sysBlocks, err := decodeContent(req.System); err == nil {
		for _, b := range sysBlocks {
			total += len(b.Text)
		}
	}

	for _, m := range req.Messages {
		blocks, err := decodeContent(m.Content)
		if err != nil {
			continue
		}
		for _, b := range blocks {
			total += len(b.Text) + len(b.Thinking)
			if len(b.Input) > 0 {
				total += len(b.Input)
			}
			if len(b.Content) > 0 {
				var s string
				if json.Unmarshal(b.Content, &s) == nil {
					total += len(s)
				} else {
					total += len(b.Content)
				}
			}
		}
	}

	for _, t := range req.Tools {
		total += len(t.Name) + len(t.Description) + len(t.InputSchema)
	}

	return int(math.Ceil(float64(total) / 4)), nil
}

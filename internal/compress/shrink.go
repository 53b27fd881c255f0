package compress

import (
	"regexp"
	"strings"
)

const toolResultCeiling = 200_000

// ShrinkToolResults applies spec §4.4's per-block shrinking rules across a
// tool-result's list of text blocks, given the running character total
// already consumed by earlier blocks in the same tool-result list. It
// returns the (possibly truncated/dropped) blocks and the updated total.
func ShrinkToolResults(blocks []ResultBlock, runningTotal int) ([]ResultBlock, int) {
	out := make([]ResultBlock, 0, len(blocks))
	for _, b := range blocks {
		if runningTotal >= toolResultCeiling {
			break
		}
		if b.IsImage {
			out = append(out, ResultBlock{Text: "[image omitted]"})
			runningTotal += len("[image omitted]")
			continue
		}

		text := shrinkOneText(b.Text)
		if runningTotal+len(text) > toolResultCeiling {
			remaining := toolResultCeiling - runningTotal
			if remaining <= 0 {
				break
			}
			text = text[:remaining]
		}
		runningTotal += len(text)
		out = append(out, ResultBlock{Text: text})
	}
	return out, runningTotal
}

// ResultBlock is a single tool-result content block as seen by the shrinker.
type ResultBlock struct {
	Text    string
	IsImage bool
}

var savedToFileRe = regexp.MustCompile(`(?is)result \((\d+) characters\) exceeds.*?saved to ([^\s,.]+)`)
var formatLineRe = regexp.MustCompile(`(?im)^Format:.*$`)

func shrinkOneText(text string) string {
	if m := savedToFileRe.FindStringSubmatch(text); m != nil {
		lines := []string{"Result (" + m[1] + " characters) exceeds the inline limit and was saved to disk."}
		if fm := formatLineRe.FindString(text); fm != "" {
			lines = append(lines, fm)
		}
		lines = append(lines, "See: "+m[2])
		return strings.Join(lines, "\n")
	}

	if isBrowserSnapshot(text) {
		return collapseSnapshot(text, 10_000)
	}

	if looksLikeHTML(text) {
		text = stripHTMLNoise(text)
	}

	const maxChars = 50_000
	if len(text) > maxChars {
		return truncateAtSafePosition(text, maxChars)
	}
	return text
}

func isBrowserSnapshot(text string) bool {
	if strings.Contains(text, "page snapshot") {
		return true
	}
	return strings.Count(text, "ref=") > 30
}

// collapseSnapshot implements spec §4.4's "head (70% of budget, min 500, max
// 10000) + omission marker + tail (up to 3000 chars)".
func collapseSnapshot(text string, budget int) string {
	headLen := int(float64(budget) * 0.7)
	if headLen < 500 {
		headLen = 500
	}
	if headLen > 10_000 {
		headLen = 10_000
	}
	tailLen := 3000

	if len(text) <= headLen+tailLen {
		return text
	}

	head := text[:headLen]
	tail := text[len(text)-tailLen:]
	omitted := len(text) - headLen - tailLen
	return head + "\n...[" + itoa(omitted) + " chars omitted]...\n" + tail
}

var htmlMarkerRe = regexp.MustCompile(`(?i)<html|<body|<!DOCTYPE`)
var styleRe = regexp.MustCompile(`(?is)<style.*?>.*?</style>`)
var scriptRe = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
var dataURIRe = regexp.MustCompile(`data:[^;]+;base64,[A-Za-z0-9+/=]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func looksLikeHTML(text string) bool { return htmlMarkerRe.MatchString(text) }

func stripHTMLNoise(text string) string {
	text = styleRe.ReplaceAllString(text, "")
	text = scriptRe.ReplaceAllString(text, "")
	text = dataURIRe.ReplaceAllString(text, "[data-uri omitted]")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return text
}

// truncateAtSafePosition finds a cut point at the latest of: maxChars, the
// last '<' before a stray '>', or the last unmatched '{' within 100 chars
// of the tail (spec §4.4).
func truncateAtSafePosition(text string, maxChars int) string {
	cut := maxChars
	if cut > len(text) {
		cut = len(text)
	}

	window := text[:cut]
	if lastLT := strings.LastIndexByte(window, '<'); lastLT >= 0 {
		if strings.LastIndexByte(window[lastLT:], '>') < 0 {
			cut = lastLT
		}
	}

	if lastOpen := strings.LastIndexByte(text[:cut], '{'); lastOpen >= 0 && cut-lastOpen <= 100 {
		if !strings.Contains(text[lastOpen:cut], "}") {
			cut = lastOpen
		}
	}

	omitted := len(text) - cut
	return text[:cut] + "…[truncated " + itoa(omitted) + " chars]"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EmptyToolResultText implements spec §4.4's literal fallback text for
// empty tool results.
func EmptyToolResultText(isError bool) string {
	if isError {
		return "Tool execution failed with no output."
	}
	return "Command executed successfully."
}

// TruncateLongToolResultText applies the 200000-char-cap-with-suffix rule
// used by the mappers (spec §4.8 step 7) independent of the shrinker above.
func TruncateLongToolResultText(text string) string {
	const limit = 200_000
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "\n...[truncated output]"
}

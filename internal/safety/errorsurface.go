package safety

import (
	"io"
	"net/http"

	"github.com/poemonsense/antigravity-proxy-go/internal/gwerrors"
)

// WriteHTTPError writes a GatewayError as a JSON body with the mapped HTTP
// status, for non-streaming callers (spec §7).
func WriteHTTPError(w http.ResponseWriter, err *gwerrors.GatewayError) {
	status := gwerrors.HTTPStatus(err.Code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"type":"` + string(err.Code) + `","message":"` + jsonEscape(err.Message) + `"}}`))
}

// WriteSSEError emits an Anthropic-style `error` SSE event carrying the
// i18n-translatable key, for callers already mid-stream when the failure
// occurs (spec §7).
func WriteSSEError(w io.Writer, err *gwerrors.GatewayError) error {
	return WriteEvent(w, "error", map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":     string(err.Code),
			"message":  err.Message,
			"i18n_key": err.I18nKey(),
		},
	})
}

func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for _, c := range []byte(s) {
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

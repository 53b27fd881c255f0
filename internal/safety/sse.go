package safety

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteEvent frames one Anthropic-style named SSE event: "event: <name>\n
// data: <json>\n\n".
func WriteEvent(w io.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// WriteData frames an unnamed "data: <json>\n\n" event, used by the OpenAI
// mapper's chat.completion.chunk frames.
func WriteData(w io.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteDone writes the OpenAI SSE terminator frame.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	return err
}

// WritePingComment writes the ": ping\n\n" heartbeat comment used by both
// mappers' inactivity timers.
func WritePingComment(w io.Writer) error {
	_, err := fmt.Fprint(w, ": ping\n\n")
	return err
}

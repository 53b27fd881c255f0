// Package session derives stable session identifiers from request
// metadata (C12, spec §4.12).
package session

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DeriveSessionID returns metadata.user_id when present and non-empty,
// else a process-unique id of the form "sid-<uuid>". rawBody is the raw
// client request JSON so this works uniformly across dialects.
func DeriveSessionID(rawBody []byte) string {
	var parsed struct {
		Metadata struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err == nil && parsed.Metadata.UserID != "" {
		return parsed.Metadata.UserID
	}
	return "sid-" + uuid.New().String()
}

// Package safety holds the cross-cutting utilities shared by both mappers
// (C13): JSON schema type uppercasing, SSE framing, heartbeat timers, and
// translation of the gwerrors taxonomy into HTTP/SSE surfaces.
package safety

import "encoding/json"

// UppercaseSchemaTypes recursively uppercases every "type" field in a JSON
// schema document, matching Upstream's expectation of OpenAPI-style
// uppercase primitive names (spec §4.8 step 8).
func UppercaseSchemaTypes(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return schema
	}
	var v interface{}
	if err := json.Unmarshal(schema, &v); err != nil {
		return schema
	}
	walked := walkUppercase(v)
	out, err := json.Marshal(walked)
	if err != nil {
		return schema
	}
	return out
}

func walkUppercase(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if k == "type" {
				if s, ok := sub.(string); ok {
					out[k] = uppercaseASCII(s)
					continue
				}
			}
			out[k] = walkUppercase(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = walkUppercase(sub)
		}
		return out
	default:
		return v
	}
}

func uppercaseASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

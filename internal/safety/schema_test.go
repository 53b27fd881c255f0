package safety

import (
	"encoding/json"
	"testing"
)

func TestUppercaseSchemaTypesRecursive(t *testing.T) {
	in := json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"},"y":{"type":"array","items":{"type":"integer"}}}}`)
	out := UppercaseSchemaTypes(in)

	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("invalid JSON produced: %v", err)
	}
	if parsed["type"] != "OBJECT" {
		t.Fatalf("expected top-level type uppercased, got %v", parsed["type"])
	}
	props := parsed["properties"].(map[string]interface{})
	x := props["x"].(map[string]interface{})
	if x["type"] != "STRING" {
		t.Fatalf("expected nested type uppercased, got %v", x["type"])
	}
	y := props["y"].(map[string]interface{})
	items := y["items"].(map[string]interface{})
	if items["type"] != "INTEGER" {
		t.Fatalf("expected doubly-nested type uppercased, got %v", items["type"])
	}
}

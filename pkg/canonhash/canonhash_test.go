package canonhash

import (
	"strings"
	"testing"
)

func TestSumObjectStableAcrossMapOrder(t *testing.T) {
	a := map[string]any{
		"subject_name": "Josh Groban",
		"record":       map[string]any{"quantity": 3, "item": "Widget-Pro"},
	}
	b := map[string]any{
		"record":       map[string]any{"item": "Widget-Pro", "quantity": 3},
		"subject_name": "Josh Groban",
	}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
	if !strings.HasPrefix(ha, "sha256:") {
		t.Fatalf("expected sha256 prefix, got %s", ha)
	}
}

func TestSumObjectChangesWithQuantity(t *testing.T) {
	ha, _, _ := SumObject(map[string]any{"quantity": 3})
	hb, _, _ := SumObject(map[string]any{"quantity": 4})
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestSumJSONIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := SumJSON([]byte(`{"item":"Widget-Pro","quantity":3}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, err := SumJSON([]byte("{\n  \"quantity\": 3,\n  \"item\": \"Widget-Pro\"\n}"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a != b {
		t.Fatalf("expected same hash, got %s vs %s", a, b)
	}
}

func TestSumJSONRejectsInvalidInput(t *testing.T) {
	if _, err := SumJSON([]byte(`{`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}

package store

import (
	"testing"
)

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty string -> nil expected, got %v", v)
	}
	if v := nullIfEmpty("x"); v != "x" {
		t.Fatalf("want x, got %v", v)
	}
}

func TestToJSON(t *testing.T) {
	if got := string(toJSON(map[string]int{"a": 1})); got != `{"a":1}` {
		t.Fatalf("want {\"a\":1}, got %s", got)
	}
	if got := string(toJSON(nil)); got != "null" {
		t.Fatalf("nil -> null expected, got %s", got)
	}
	// unmarshalable values degrade to null rather than corrupt a row
	if got := string(toJSON(make(chan int))); got != "null" {
		t.Fatalf("chan -> null expected, got %s", got)
	}
}

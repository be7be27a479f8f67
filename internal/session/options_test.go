package session

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDecodeOptions(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		want     []string
		fallback bool
	}{
		{name: "native list", input: []string{"A", "B"}, want: []string{"A", "B"}},
		{name: "decoded json list", input: []any{"A", "B"}, want: []string{"A", "B"}},
		{name: "json string", input: `["A","B"]`, want: []string{"A", "B"}},
		{name: "raw json array", input: json.RawMessage(`["A","B"]`), want: []string{"A", "B"}},
		{name: "raw json encoded string", input: json.RawMessage(`"[\"A\",\"B\"]"`), want: []string{"A", "B"}},
		{name: "map by index", input: map[int]string{1: "B", 0: "A"}, want: []string{"A", "B"}},
		{name: "json object by index", input: json.RawMessage(`{"1":"B","0":"A","2":"C"}`), want: []string{"A", "B", "C"}},
		{name: "numeric keys sort numerically", input: map[string]any{"10": "K", "2": "C", "0": "A"}, want: []string{"A", "C", "K"}},
		{name: "malformed string", input: "{not json", want: PlaceholderOptions, fallback: true},
		{name: "non-index key", input: map[string]any{"a": "A", "b": "B"}, want: PlaceholderOptions, fallback: true},
		{name: "single option", input: []string{"only"}, want: PlaceholderOptions, fallback: true},
		{name: "nil", input: nil, want: PlaceholderOptions, fallback: true},
		{name: "unsupported type", input: 42, want: PlaceholderOptions, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeOptions(tt.input)
			if !reflect.DeepEqual(got.Options, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got.Options)
			}
			if got.Fallback != tt.fallback {
				t.Fatalf("expected fallback %v, got %v", tt.fallback, got.Fallback)
			}
			if tt.fallback && got.Err == nil {
				t.Fatal("expected decoding error with fallback")
			}
		})
	}
}

func TestDecodeOptionsPlaceholderIsACopy(t *testing.T) {
	got := DecodeOptions("nope")
	got.Options[0] = "mutated"
	if PlaceholderOptions[0] != "Option 1" {
		t.Fatal("placeholder slice must not be shared")
	}
}

func TestParseAnswer(t *testing.T) {
	options := []string{"Red", "Blue"}

	if idx, err := ParseAnswer("1", options); err != nil || idx != 1 {
		t.Fatalf("expected index 1, got %d, %v", idx, err)
	}
	if idx, err := ParseAnswer("Red", options); err != nil || idx != 0 {
		t.Fatalf("expected label to map to 0, got %d, %v", idx, err)
	}
	if _, err := ParseAnswer("2", options); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if idx, err := ParseAnswer("3", nil); err != nil || idx != 3 {
		t.Fatalf("expected numeric answer to pass without options, got %d, %v", idx, err)
	}
	if _, err := ParseAnswer("Green", options); err == nil {
		t.Fatal("expected unknown label error")
	}
}

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PlaceholderOptions stand in for poll options that could not be decoded.
var PlaceholderOptions = []string{"Option 1", "Option 2"}

// maxEncodingDepth bounds how many times a JSON string may wrap another JSON
// document.
const maxEncodingDepth = 3

// DecodedOptions is the outcome of DecodeOptions. When Fallback is set,
// Options holds the placeholders and Err says why decoding failed.
type DecodedOptions struct {
	Options  []string
	Fallback bool
	Err      error
}

// DecodeOptions turns any of the stored shapes of a poll's options into an
// ordered list: a native list, a JSON document (array, JSON-encoded string or
// object), or an object keyed by option index. Anything else, or fewer than
// two options, yields PlaceholderOptions.
func DecodeOptions(v any) DecodedOptions {
	options, err := decodeOptions(v, 0)
	if err == nil && len(options) < 2 {
		err = fmt.Errorf("need at least 2 options, got %d", len(options))
	}
	if err != nil {
		return DecodedOptions{
			Options:  append([]string(nil), PlaceholderOptions...),
			Fallback: true,
			Err:      err,
		}
	}
	return DecodedOptions{Options: options}
}

func decodeOptions(v any, depth int) ([]string, error) {
	if depth > maxEncodingDepth {
		return nil, errors.New("options nested too deeply")
	}

	switch t := v.(type) {
	case nil:
		return nil, errors.New("options missing")
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			label, err := optionLabel(item)
			if err != nil {
				return nil, fmt.Errorf("option %d: %w", i, err)
			}
			out = append(out, label)
		}
		return out, nil
	case map[string]any:
		return decodeIndexed(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = v
		}
		return decodeIndexed(m)
	case map[int]string:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[strconv.Itoa(k)] = v
		}
		return decodeIndexed(m)
	case json.RawMessage:
		return decodeJSON([]byte(t), depth)
	case []byte:
		return decodeJSON(t, depth)
	case string:
		return decodeJSON([]byte(t), depth)
	default:
		return nil, fmt.Errorf("unsupported options type %T", v)
	}
}

func decodeJSON(raw []byte, depth int) ([]string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode options json: %w", err)
	}
	if s, ok := doc.(string); ok {
		return decodeOptions(s, depth+1)
	}
	return decodeOptions(doc, depth+1)
}

func decodeIndexed(m map[string]any) ([]string, error) {
	type indexed struct {
		idx   int
		label string
	}
	items := make([]indexed, 0, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("option key %q is not an index", k)
		}
		label, err := optionLabel(v)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", k, err)
		}
		items = append(items, indexed{idx: idx, label: label})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.label
	}
	return out, nil
}

func optionLabel(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64, int, bool:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("unsupported option value %T", v)
	}
}

// ParseAnswer maps a stored answer to an option index. Answers are normally
// the decimal index; an exact option label is accepted as well.
func ParseAnswer(answer string, options []string) (int, error) {
	trimmed := strings.TrimSpace(answer)
	if idx, err := strconv.Atoi(trimmed); err == nil {
		if options != nil && (idx < 0 || idx >= len(options)) {
			return 0, fmt.Errorf("answer %d out of range for %d options", idx, len(options))
		}
		if idx < 0 {
			return 0, fmt.Errorf("negative answer %d", idx)
		}
		return idx, nil
	}
	for i, label := range options {
		if label == trimmed {
			return i, nil
		}
	}
	return 0, fmt.Errorf("answer %q matches no option", answer)
}

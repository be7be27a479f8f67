package pollgen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sjawhar/pollcast/internal/polling"
)

var (
	questionField = regexp.MustCompile(`question"?\s*:\s*"([^"]+)"`)
	optionsField  = regexp.MustCompile(`(?s)options"?\s*:\s*\[(.*?)\]`)
	questionLine  = regexp.MustCompile(`(?i)^(question:|q:)?\s*`)
	optionLine    = regexp.MustCompile(`^\s*[A-Da-d][.)]\s*`)
)

// ParseDraft reads a model reply as strict JSON, then by field extraction,
// then as a "Question:" line followed by "A." to "D." option lines.
func ParseDraft(reply string) (polling.Draft, error) {
	reply = stripFences(reply)
	for _, parse := range []func(string) (polling.Draft, bool){parseJSON, parseFields, parseLines} {
		if draft, ok := parse(reply); ok {
			return draft, nil
		}
	}
	return polling.Draft{}, fmt.Errorf("%w: reply has no question with at least two options", ErrGenerator)
}

func stripFences(reply string) string {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, "```") {
		return reply
	}
	reply = strings.TrimPrefix(reply, "```")
	if nl := strings.IndexByte(reply, '\n'); nl >= 0 {
		reply = reply[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(reply), "```"))
}

func parseJSON(reply string) (polling.Draft, bool) {
	start, end := strings.IndexByte(reply, '{'), strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return polling.Draft{}, false
	}

	var out struct {
		Question      string   `json:"question"`
		Options       []string `json:"options"`
		CorrectOption *int     `json:"correct_option"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return polling.Draft{}, false
	}
	draft, ok := build(out.Question, out.Options)
	if ok && out.CorrectOption != nil && *out.CorrectOption >= 0 && *out.CorrectOption < len(draft.Options) {
		draft.CorrectOption = out.CorrectOption
	}
	return draft, ok
}

func parseFields(reply string) (polling.Draft, bool) {
	q := questionField.FindStringSubmatch(reply)
	o := optionsField.FindStringSubmatch(reply)
	if q == nil || o == nil {
		return polling.Draft{}, false
	}
	var options []string
	for _, opt := range strings.Split(o[1], ",") {
		options = append(options, strings.Trim(strings.TrimSpace(opt), `"`))
	}
	return build(q[1], options)
}

func parseLines(reply string) (polling.Draft, bool) {
	var lines []string
	for _, line := range strings.Split(reply, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return polling.Draft{}, false
	}

	question := questionLine.ReplaceAllString(lines[0], "")
	var options []string
	for _, line := range lines[1:] {
		if optionLine.MatchString(line) {
			options = append(options, optionLine.ReplaceAllString(line, ""))
		}
	}
	return build(question, options)
}

func build(question string, options []string) (polling.Draft, bool) {
	question = strings.TrimSpace(question)
	kept := make([]string, 0, len(options))
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			kept = append(kept, opt)
		}
	}
	if question == "" || len(kept) < 2 {
		return polling.Draft{}, false
	}
	return polling.Draft{Question: question, Options: kept}, true
}

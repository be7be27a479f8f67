package session

import (
	"fmt"
	"strings"
)

// AnswerPolicy decides which answers count when a participant answered the
// same poll more than once. Storage keeps every answer either way.
type AnswerPolicy string

const (
	AnswerAll   AnswerPolicy = "all"
	AnswerFirst AnswerPolicy = "first"
	AnswerLast  AnswerPolicy = "last"
)

func ParseAnswerPolicy(raw string) (AnswerPolicy, error) {
	switch p := AnswerPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return AnswerAll, nil
	case AnswerAll, AnswerFirst, AnswerLast:
		return p, nil
	default:
		return "", fmt.Errorf("unknown answer policy %q: expected all, first or last", raw)
	}
}

// Tally counts the responses to poll. responses must be in timestamp order;
// responses to other polls and out-of-range selections are ignored.
func Tally(poll PollQuestion, responses []PollResponse, policy AnswerPolicy) PollResult {
	result := PollResult{
		QuestionID: poll.ID,
		Question:   poll.Question,
		Options:    append([]string(nil), poll.Options...),
		Responses:  make([]int, len(poll.Options)),
	}

	counted := make([]PollResponse, 0, len(responses))
	byParticipant := make(map[string]int)
	for _, r := range responses {
		if r.QuestionID != poll.ID || r.SelectedOption < 0 || r.SelectedOption >= len(poll.Options) {
			continue
		}
		switch policy {
		case AnswerFirst:
			if _, seen := byParticipant[r.ParticipantID]; seen {
				continue
			}
			byParticipant[r.ParticipantID] = len(counted)
			counted = append(counted, r)
		case AnswerLast:
			if i, seen := byParticipant[r.ParticipantID]; seen {
				counted[i] = r
				continue
			}
			byParticipant[r.ParticipantID] = len(counted)
			counted = append(counted, r)
		default:
			counted = append(counted, r)
		}
	}

	for _, r := range counted {
		result.Responses[r.SelectedOption]++
	}
	result.TotalResponses = len(counted)
	return result
}

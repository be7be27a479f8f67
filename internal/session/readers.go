package session

import (
	"time"
)

func (s *Store) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *Store) User() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Transcript returns the transcript in timestamp order.
func (s *Store) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.items()
}

// RecentTranscript returns the entries stamped at or after since.
func (s *Store) RecentTranscript(since time.Time) []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TranscriptEntry
	for _, e := range s.transcript.items() {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Polls() []PollQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls.items()
}

func (s *Store) Poll(id string) (PollQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls.get(id)
}

func (s *Store) Responses() []PollResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses.items()
}

func (s *Store) Roster() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.items()
}

// Result returns the published result for a poll, if any.
func (s *Store) Result(pollID string) (PollResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.published[pollID]
	return r, ok
}

// PublishedResults returns published results in poll order.
func (s *Store) PublishedResults() []PollResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PollResult, 0, len(s.published))
	for _, p := range s.polls.items() {
		if r, ok := s.published[p.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// AnswerPolicy reports how duplicate answers are counted.
func (s *Store) AnswerPolicy() AnswerPolicy {
	return s.policy
}

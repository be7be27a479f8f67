// Package pollgen drafts multiple-choice polls from transcript excerpts.
package pollgen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/pollcast/internal/llm"
	"github.com/sjawhar/pollcast/internal/polling"
)

var (
	// ErrGenerator marks a failed or unusable generation.
	ErrGenerator = errors.New("poll generator")
	// ErrAlreadyGenerated is returned when the same excerpt was already
	// claimed for the session.
	ErrAlreadyGenerated = errors.New("poll already generated for this excerpt")
)

const (
	DefaultModel       = "openrouter/qwen/qwen3-8b"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 300

	// minExcerptChars rejects excerpts no model can write a fair question for.
	minExcerptChars = 20
)

const systemPrompt = `You create multiple choice quiz questions from live lecture transcripts.
Write one clear question with exactly 4 options about the excerpt you are given.
Return only JSON in this format: {"question": "What is X?", "options": ["Option 1", "Option 2", "Option 3", "Option 4"], "correct_option": 0}`

// ClaimStore grants each (session, excerpt hash) pair at most once. A claim
// whose generation failed is released so the excerpt can be retried.
type ClaimStore interface {
	ClaimPollRequest(ctx context.Context, sessionID, excerptHash string) (bool, error)
	ReleasePollRequest(ctx context.Context, sessionID, excerptHash string) error
}

type LLM struct {
	client llm.Client
	claims ClaimStore
	logger *slog.Logger
	after  func(time.Duration) <-chan time.Time
}

type Option func(*LLM)

func WithClaimStore(claims ClaimStore) Option {
	return func(g *LLM) {
		g.claims = claims
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *LLM) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewLLM(client llm.Client, opts ...Option) *LLM {
	g := &LLM{
		client: client,
		logger: slog.Default(),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewModelClient builds the LLM client used for poll generation from a
// provider/model string and the caller's API key.
func NewModelClient(model, apiKey string) (llm.Client, error) {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	provider, name, err := llm.ParseModel(model)
	if err != nil {
		return nil, err
	}
	opts := []llm.Option{
		llm.WithTemperature(DefaultTemperature),
		llm.WithMaxTokens(DefaultMaxTokens),
	}
	if provider == "openrouter" {
		opts = append(opts,
			llm.WithHeader("HTTP-Referer", "https://github.com/sjawhar/pollcast"),
			llm.WithHeader("X-Title", "pollcast"),
		)
	}
	return llm.NewClient(provider, apiKey, name, opts...)
}

func (g *LLM) Generate(ctx context.Context, req polling.Request) (polling.Draft, error) {
	excerpt := strings.TrimSpace(req.Excerpt)
	if len(excerpt) < minExcerptChars {
		return polling.Draft{}, fmt.Errorf("%w: excerpt too short (%d chars)", ErrGenerator, len(excerpt))
	}
	logger := g.logger.With("session_id", req.SessionID)

	if g.claims == nil {
		return g.draft(ctx, excerpt, logger)
	}

	sum := sha256.Sum256([]byte(excerpt))
	hash := hex.EncodeToString(sum[:])
	claimed, err := g.claims.ClaimPollRequest(ctx, req.SessionID, hash)
	if err != nil {
		return polling.Draft{}, fmt.Errorf("%w: claim poll request: %w", ErrGenerator, err)
	}
	if !claimed {
		logger.Info("poll request already claimed")
		return polling.Draft{}, fmt.Errorf("%w: %w", ErrGenerator, ErrAlreadyGenerated)
	}

	draft, err := g.draft(ctx, excerpt, logger)
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := g.claims.ReleasePollRequest(releaseCtx, req.SessionID, hash); relErr != nil {
			logger.Warn("release poll request", "error", relErr)
		}
		return polling.Draft{}, err
	}
	return draft, nil
}

func (g *LLM) draft(ctx context.Context, excerpt string, logger *slog.Logger) (polling.Draft, error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: SampleExcerpt(excerpt, 300, 200, 200)},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var reply string
	var lastErr error
	for attempt := range backoff {
		reply, lastErr = g.client.Complete(ctx, messages)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return polling.Draft{}, ctx.Err()
		}
		logger.Warn("poll completion failed", "attempt", attempt+1, "error", lastErr)
		if attempt < len(backoff)-1 {
			select {
			case <-ctx.Done():
				return polling.Draft{}, ctx.Err()
			case <-g.after(backoff[attempt]):
			}
		}
	}
	if lastErr != nil {
		return polling.Draft{}, fmt.Errorf("%w: completion failed after retries: %w", ErrGenerator, lastErr)
	}

	draft, err := ParseDraft(reply)
	if err != nil {
		logger.Error("unparseable poll reply", "error", err, "reply", reply)
		return polling.Draft{}, err
	}
	return draft, nil
}

// SampleExcerpt keeps the first, middle and last words of a long excerpt.
func SampleExcerpt(excerpt string, firstN, midN, lastN int) string {
	words := strings.Fields(excerpt)
	total := len(words)

	if total <= firstN+midN+lastN {
		return excerpt
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

// Package polling runs the host's automatic poll cadence: every poll
// interval it drafts a poll from the recent transcript and publishes it.
package polling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sjawhar/pollcast/internal/session"
)

const DefaultMinExcerptChars = 50

var (
	ErrNotHost = errors.New("poll generation needs an active hosted session")
	ErrBusy    = errors.New("a poll is already being generated")
	// ErrSkipped is returned by GenerateNow when the recent transcript is too
	// short to draft a poll from.
	ErrSkipped = errors.New("not enough recent transcript for a poll")
)

type State string

const (
	StateIdle       State = "idle"
	StateScheduled  State = "scheduled"
	StateGenerating State = "generating"
	StatePublished  State = "published"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

// ManualPolicy decides how GenerateNow interacts with the schedule.
type ManualPolicy string

const (
	// ManualIndependent leaves the pending scheduled cycle untouched.
	ManualIndependent ManualPolicy = "independent"
	// ManualReset cancels the pending cycle and schedules the next one a full
	// interval after the manual cycle.
	ManualReset ManualPolicy = "reset"
)

func ParseManualPolicy(raw string) (ManualPolicy, error) {
	switch p := ManualPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ManualIndependent, nil
	case ManualIndependent, ManualReset:
		return p, nil
	default:
		return "", fmt.Errorf("unknown manual trigger policy %q: expected independent or reset", raw)
	}
}

type Request struct {
	SessionID string
	Excerpt   string
}

type Draft struct {
	Question      string
	Options       []string
	CorrectOption *int
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Draft, error)
}

// Source is the slice of session.Store the controller needs.
type Source interface {
	Session() (session.Session, bool)
	User() (session.User, bool)
	RecentTranscript(since time.Time) []session.TranscriptEntry
	PublishPoll(poll session.PollQuestion) (session.PollQuestion, error)
	Watch(fn func(session.Event)) func()
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// RealAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Config struct {
	MinExcerptChars int
	Manual          ManualPolicy
	AfterFunc       AfterFunc
	Now             func() time.Time
	Logger          *slog.Logger
	Notifier        session.Notifier
}

type Controller struct {
	source    Source
	generator Generator
	minChars  int
	manual    ManualPolicy
	afterFunc AfterFunc
	now       func() time.Time
	logger    *slog.Logger
	notifier  session.Notifier

	mu         sync.Mutex
	state      State
	running    bool
	generating bool
	// epoch changes on Start and Stop; timer callbacks and cycles from an
	// older epoch do nothing.
	epoch   uint64
	timer   Timer
	cancel  context.CancelFunc
	unwatch func()
	outcome State
	lastErr error

	cycles sync.WaitGroup
}

func NewController(source Source, generator Generator, cfg Config) *Controller {
	c := &Controller{
		source:    source,
		generator: generator,
		minChars:  cfg.MinExcerptChars,
		manual:    cfg.Manual,
		afterFunc: cfg.AfterFunc,
		now:       cfg.Now,
		logger:    cfg.Logger,
		notifier:  cfg.Notifier,
		state:     StateIdle,
	}
	if c.minChars <= 0 {
		c.minChars = DefaultMinExcerptChars
	}
	if c.manual == "" {
		c.manual = ManualIndependent
	}
	if c.afterFunc == nil {
		c.afterFunc = RealAfterFunc
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.notifier == nil {
		c.notifier = session.NotifierFunc(func(session.Level, string) {})
	}
	return c
}

// Start schedules the first cycle one poll interval from now. The controller
// stops itself when the session ends or the host leaves.
func (c *Controller) Start() error {
	interval, err := c.interval()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.epoch++
	c.armLocked(interval)
	c.mu.Unlock()

	unwatch := c.source.Watch(func(ev session.Event) {
		if ev.Kind == session.EventSessionEnded || ev.Kind == session.EventLeft {
			c.Stop()
		}
	})

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		unwatch()
		return nil
	}
	c.unwatch = unwatch
	c.mu.Unlock()

	c.logger.Info("poll schedule started", "interval", interval)
	return nil
}

// Stop cancels the pending timer and any generation in flight. It does not
// wait for the cancelled cycle to return; Wait does.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running && c.timer == nil && c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.state = StateIdle
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	c.logger.Info("poll schedule stopped")
}

// Wait blocks until no cycle is running.
func (c *Controller) Wait() {
	c.cycles.Wait()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome returns the final state of the most recent cycle: Published,
// Skipped or Failed. It is empty before the first cycle completes.
func (c *Controller) LastOutcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// LastError returns the error of the most recent failed cycle.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GenerateNow runs one cycle immediately. Under ManualReset the pending
// scheduled cycle is replaced by one a full interval after this cycle.
func (c *Controller) GenerateNow(ctx context.Context) (session.PollQuestion, error) {
	interval, err := c.interval()
	if err != nil {
		return session.PollQuestion{}, err
	}

	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return session.PollQuestion{}, ErrBusy
	}
	if c.manual == ManualReset && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	epoch := c.epoch
	cycleCtx, cancel := c.beginLocked(ctx)
	c.mu.Unlock()

	rearm := c.manual == ManualReset
	return c.cycle(cycleCtx, cancel, epoch, interval, rearm)
}

func (c *Controller) interval() (time.Duration, error) {
	sess, ok := c.source.Session()
	user, hasUser := c.source.User()
	if !ok || !hasUser || user.Role != session.RoleHost || sess.Status != session.StatusActive {
		return 0, ErrNotHost
	}
	interval := sess.Settings.Interval()
	if interval <= 0 {
		return 0, fmt.Errorf("poll frequency must be positive, got %d minutes", sess.Settings.PollFrequency)
	}
	return interval, nil
}

func (c *Controller) armLocked(interval time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	epoch := c.epoch
	c.timer = c.afterFunc(interval, func() { c.fire(epoch, interval) })
	c.state = StateScheduled
}

func (c *Controller) fire(epoch uint64, interval time.Duration) {
	c.mu.Lock()
	if epoch != c.epoch || !c.running {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.generating {
		// A manual cycle is in flight; try again next interval.
		c.armLocked(interval)
		c.mu.Unlock()
		return
	}
	ctx, cancel := c.beginLocked(context.Background())
	c.mu.Unlock()

	_, _ = c.cycle(ctx, cancel, epoch, interval, true)
}

// beginLocked marks a cycle as generating under the same lock that checked
// generating. The caller must pass the returned context to cycle.
func (c *Controller) beginLocked(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c.generating = true
	c.cancel = cancel
	c.state = StateGenerating
	c.cycles.Add(1)
	return ctx, cancel
}

// cycle runs Generating and its outcome, then re-arms the timer when rearm is
// set and the controller is still running in the same epoch.
func (c *Controller) cycle(ctx context.Context, cancel context.CancelFunc, epoch uint64, interval time.Duration, rearm bool) (session.PollQuestion, error) {
	defer c.cycles.Done()
	defer cancel()

	poll, state, err := c.generate(ctx, interval)

	c.mu.Lock()
	c.generating = false
	c.cancel = nil
	if epoch == c.epoch {
		c.state = state
		c.outcome = state
		if state == StateFailed {
			c.lastErr = err
		}
		if c.running && (rearm || c.timer != nil) {
			if rearm {
				c.armLocked(interval)
			} else {
				c.state = StateScheduled
			}
		}
	}
	c.mu.Unlock()
	return poll, err
}

func (c *Controller) generate(ctx context.Context, interval time.Duration) (session.PollQuestion, State, error) {
	sess, ok := c.source.Session()
	if !ok {
		return session.PollQuestion{}, StateIdle, ErrNotHost
	}
	logger := c.logger.With("session_id", sess.ID)

	entries := c.source.RecentTranscript(c.now().Add(-interval))
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Text)
	}
	excerpt := strings.TrimSpace(strings.Join(parts, " "))

	if n := utf8.RuneCountInString(excerpt); n < c.minChars {
		logger.Info("skipping poll, transcript too short", "chars", n, "min_chars", c.minChars)
		c.notifier.Notify(session.LevelInfo, "Not enough new transcript for a poll yet")
		return session.PollQuestion{}, StateSkipped, ErrSkipped
	}

	draft, err := c.generator.Generate(ctx, Request{SessionID: sess.ID, Excerpt: excerpt})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("poll generation cancelled")
			return session.PollQuestion{}, StateIdle, ctx.Err()
		}
		logger.Error("poll generation failed", "error", err)
		c.notifier.Notify(session.LevelError, "Poll generation failed: "+err.Error())
		return session.PollQuestion{}, StateFailed, err
	}

	poll, err := c.source.PublishPoll(session.PollQuestion{
		Question:      draft.Question,
		Options:       draft.Options,
		CorrectOption: draft.CorrectOption,
		GeneratedFrom: excerpt,
	})
	if err != nil {
		logger.Error("publish generated poll", "error", err)
		c.notifier.Notify(session.LevelError, "Could not publish the generated poll: "+err.Error())
		return session.PollQuestion{}, StateFailed, err
	}

	logger.Info("poll published", "poll_id", poll.ID, "options", len(poll.Options))
	return poll, StatePublished, nil
}

// Package capture turns microphone speech into transcript fragments for the
// host. Final fragments are appended to the session transcript; interim
// fragments are only shown locally.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/pollcast/internal/session"
)

// RestartDelay is how long the adapter waits before restarting an engine run
// that ended or failed with a transient error.
const RestartDelay = time.Second

var (
	ErrCapture = errors.New("speech capture failed")
	// ErrPermissionDenied marks engine errors that no restart can fix, such
	// as a refused microphone or a rejected API key.
	ErrPermissionDenied = errors.New("permission denied")
)

// Sink receives fragments from a running engine.
type Sink interface {
	Final(text string)
	Interim(text string)
}

// Engine is one speech-to-text backend. Run blocks until ctx is cancelled or
// the recognition stream ends; a nil return means the stream ended cleanly.
type Engine interface {
	Supported() bool
	Run(ctx context.Context, sink Sink) error
}

type AdapterOption func(*Adapter)

func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithNotifier(n session.Notifier) AdapterOption {
	return func(a *Adapter) {
		if n != nil {
			a.notifier = n
		}
	}
}

// withAfter replaces time.After for the restart delay.
func withAfter(after func(time.Duration) <-chan time.Time) AdapterOption {
	return func(a *Adapter) {
		a.after = after
	}
}

type Adapter struct {
	engine   Engine
	logger   *slog.Logger
	notifier session.Notifier
	after    func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	active    bool
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	onFinal   func(string)
	onInterim func(string)
	lastErr   error
}

func NewAdapter(engine Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		engine:   engine,
		logger:   slog.Default(),
		notifier: session.NotifierFunc(func(session.Level, string) {}),
		after:    time.After,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) IsSupported() bool {
	return a.engine != nil && a.engine.Supported()
}

func (a *Adapter) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Err returns the error that ended the last recording attempt, wrapped in
// ErrCapture.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Adapter) OnFinalFragment(fn func(text string)) {
	a.mu.Lock()
	a.onFinal = fn
	a.mu.Unlock()
}

func (a *Adapter) OnInterimFragment(fn func(text string)) {
	a.mu.Lock()
	a.onInterim = fn
	a.mu.Unlock()
}

// Start begins recording and reports whether capture is running. It returns
// false when no engine is available.
func (a *Adapter) Start() bool {
	if !a.IsSupported() {
		a.notifier.Notify(session.LevelWarn, "Speech capture is not available")
		return false
	}

	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return true
	}
	prevDone := a.done
	a.mu.Unlock()

	// A run that ended on a permission error may still be unwinding.
	if prevDone != nil {
		<-prevDone
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return true
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.gen++
	a.active = true
	a.lastErr = nil
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.supervise(ctx, a.gen, a.done)

	a.logger.Info("speech capture started")
	return true
}

// Stop ends recording. When it returns no fragment callback will run again
// for this attempt.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	wasActive := a.active
	a.active = false
	a.gen++
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasActive {
		a.logger.Info("speech capture stopped")
	}
}

func (a *Adapter) supervise(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	sink := &adapterSink{adapter: a, gen: gen}
	for {
		err := a.engine.Run(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if IsPermissionError(err) {
			a.fail(gen, err)
			return
		}
		if err != nil {
			a.logger.Warn("speech capture interrupted, restarting", "error", err, "delay", RestartDelay)
		} else {
			a.logger.Info("speech capture stream ended, restarting", "delay", RestartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-a.after(RestartDelay):
		}
	}
}

func (a *Adapter) fail(gen uint64, err error) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.active = false
	a.lastErr = fmt.Errorf("%w: %w", ErrCapture, err)
	a.mu.Unlock()

	a.logger.Error("speech capture stopped", "error", err)
	a.notifier.Notify(session.LevelError, "Microphone access denied, recording stopped")
}

func (a *Adapter) emit(gen uint64, final bool, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	if gen != a.gen || !a.active {
		a.mu.Unlock()
		return
	}
	fn := a.onInterim
	if final {
		fn = a.onFinal
	}
	a.mu.Unlock()

	if fn != nil {
		fn(text)
	}
}

type adapterSink struct {
	adapter *Adapter
	gen     uint64
}

func (s *adapterSink) Final(text string)   { s.adapter.emit(s.gen, true, text) }
func (s *adapterSink) Interim(text string) { s.adapter.emit(s.gen, false, text) }

// IsPermissionError reports whether err means capture cannot succeed by
// retrying.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "not allowed", "unauthorized", "forbidden", "401", "403"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

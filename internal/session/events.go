package session

type EventKind string

const (
	EventTranscript    EventKind = "transcript"
	EventPoll          EventKind = "poll"
	EventResponse      EventKind = "response"
	EventRoster        EventKind = "roster"
	EventResult        EventKind = "result"
	EventSessionEnded  EventKind = "session_ended"
	EventLeft          EventKind = "left"
	EventPersistFailed EventKind = "persist_failed"
)

// Event tells watchers what changed. ID names the affected entity when there
// is one.
type Event struct {
	Kind      EventKind
	SessionID string
	ID        string
	Err       error
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notifier surfaces short, non-blocking messages to the user.
type Notifier interface {
	Notify(level Level, message string)
}

type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) {
	f(level, message)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Level, string) {}

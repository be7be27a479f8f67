package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/pollcast/internal/schema"
)

var defaultReconnectBackoff = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second, 10 * time.Second}

// Remote is the HTTP/JSON and websocket client of a pollcast server.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
	backoff []time.Duration
}

type RemoteOption func(*Remote)

func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		if client != nil {
			r.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconnectBackoff sets the delays between websocket reconnect attempts.
// The last delay repeats until a reconnect succeeds.
func WithReconnectBackoff(delays ...time.Duration) RemoteOption {
	return func(r *Remote) {
		if len(delays) > 0 {
			r.backoff = delays
		}
	}
}

func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must use http or https", baseURL)
	}

	r := &Remote{
		baseURL: parsed,
		client:  &http.Client{Timeout: 30 * time.Second},
		dialer:  websocket.DefaultDialer,
		logger:  slog.Default(),
		backoff: defaultReconnectBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Remote) CreateSession(ctx context.Context, row schema.SessionRow) error {
	return r.do(ctx, http.MethodPost, "/api/sessions", nil, row, nil, nil)
}

func (r *Remote) FindActiveSession(ctx context.Context, code string) (schema.SessionRow, error) {
	var row schema.SessionRow
	err := r.do(ctx, http.MethodGet, "/api/sessions", url.Values{"code": {code}}, nil, &row, nil)
	return row, err
}

func (r *Remote) GetSession(ctx context.Context, id string) (schema.SessionRow, error) {
	var row schema.SessionRow
	err := r.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, nil, &row, nil)
	return row, err
}

func (r *Remote) EndSession(ctx context.Context, id string) (schema.SessionRow, error) {
	var row schema.SessionRow
	err := r.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/end", nil, nil, &row, nil)
	return row, err
}

func (r *Remote) InsertTranscript(ctx context.Context, row schema.TranscriptRow) error {
	return r.do(ctx, http.MethodPost, sessionPath(row.SessionID, "transcriptions"), nil, row, nil, nil)
}

func (r *Remote) ListTranscripts(ctx context.Context, sessionID string) ([]schema.TranscriptRow, error) {
	var rows []schema.TranscriptRow
	err := r.do(ctx, http.MethodGet, sessionPath(sessionID, "transcriptions"), nil, nil, &rows, nil)
	return rows, err
}

func (r *Remote) InsertPoll(ctx context.Context, row schema.PollRow) error {
	return r.do(ctx, http.MethodPost, sessionPath(row.SessionID, "polls"), nil, row, nil, nil)
}

func (r *Remote) ListPolls(ctx context.Context, sessionID string) ([]schema.PollRow, error) {
	var rows []schema.PollRow
	err := r.do(ctx, http.MethodGet, sessionPath(sessionID, "polls"), nil, nil, &rows, nil)
	return rows, err
}

func (r *Remote) SetPollPublished(ctx context.Context, pollID string, published bool) (schema.PollRow, error) {
	var row schema.PollRow
	body := map[string]bool{"published": published}
	err := r.do(ctx, http.MethodPut, "/api/polls/"+url.PathEscape(pollID)+"/published", nil, body, &row, nil)
	return row, err
}

func (r *Remote) InsertParticipant(ctx context.Context, row schema.ParticipantRow) error {
	return r.do(ctx, http.MethodPost, sessionPath(row.SessionID, "participants"), nil, row, nil, nil)
}

func (r *Remote) ListParticipants(ctx context.Context, sessionID string) ([]schema.ParticipantRow, error) {
	var rows []schema.ParticipantRow
	err := r.do(ctx, http.MethodGet, sessionPath(sessionID, "participants"), nil, nil, &rows, nil)
	return rows, err
}

func (r *Remote) DeleteParticipant(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/api/participants/"+url.PathEscape(id), nil, nil, nil, nil)
}

func (r *Remote) InsertAnswer(ctx context.Context, row schema.AnswerRow) error {
	return r.do(ctx, http.MethodPost, sessionPath(row.SessionID, "answers"), nil, row, nil, nil)
}

func (r *Remote) ListAnswers(ctx context.Context, sessionID string) ([]schema.AnswerRow, error) {
	var rows []schema.AnswerRow
	err := r.do(ctx, http.MethodGet, sessionPath(sessionID, "answers"), nil, nil, &rows, nil)
	return rows, err
}

// GeneratePoll asks the server to draft a poll from excerpt using the
// caller's credential.
func (r *Remote) GeneratePoll(ctx context.Context, sessionID, excerpt, credential string) (schema.GeneratePollResponse, error) {
	var resp schema.GeneratePollResponse
	headers := map[string]string{}
	if credential != "" {
		headers[schema.CredentialHeader] = credential
	}
	err := r.do(ctx, http.MethodPost, sessionPath(sessionID, "generate-poll"), nil,
		schema.GeneratePollRequest{Excerpt: excerpt}, &resp, headers)
	return resp, err
}

func sessionPath(sessionID, collection string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/" + collection
}

func (r *Remote) do(ctx context.Context, method, path string, query url.Values, body, out any, headers map[string]string) error {
	endpoint := *r.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var body schema.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, schema.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, schema.ErrCodeTaken)
	default:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
}

// Subscribe opens the websocket change channel for (table, sessionID) before
// returning, so no committed change after Subscribe returns is missed. A
// dropped connection is re-dialed with backoff and fn receives a resync event
// once it is back. Close is synchronous and must not be called from fn.
func (r *Remote) Subscribe(ctx context.Context, table schema.Table, sessionID string, fn func(schema.Change)) (io.Closer, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("subscribe: unknown table %q", table)
	}

	conn, err := r.dial(ctx, table, sessionID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &remoteSubscription{
		remote:    r,
		table:     table,
		sessionID: sessionID,
		conn:      conn,
		ctx:       runCtx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	go sub.run(fn)
	return sub, nil
}

func (r *Remote) wsURL(table schema.Table, sessionID string) string {
	u := *r.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"table": {string(table)}, "session_id": {sessionID}}.Encode()
	return u.String()
}

func (r *Remote) dial(ctx context.Context, table schema.Table, sessionID string) (*websocket.Conn, error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.wsURL(table, sessionID), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s channel: %w", table, err)
	}
	return conn, nil
}

type remoteSubscription struct {
	remote    *Remote
	table     schema.Table
	sessionID string

	mu   sync.Mutex
	conn *websocket.Conn

	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	stopped chan struct{}
}

func (s *remoteSubscription) run(fn func(schema.Change)) {
	defer close(s.stopped)
	logger := s.remote.logger.With("table", s.table, "session_id", s.sessionID)

	for {
		s.read(fn, logger)
		if s.ctx.Err() != nil {
			return
		}
		if !s.reconnect(logger) {
			return
		}
		fn(schema.Resync(s.table, s.sessionID))
	}
}

func (s *remoteSubscription) read(fn func(schema.Change), logger *slog.Logger) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Warn("realtime channel dropped", "error", err)
			}
			return
		}

		var change schema.Change
		if err := json.Unmarshal(data, &change); err != nil {
			logger.Warn("discarding malformed change event", "error", err)
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		fn(change)
	}
}

func (s *remoteSubscription) reconnect(logger *slog.Logger) bool {
	backoff := s.remote.backoff
	for attempt := 0; ; attempt++ {
		delay := backoff[min(attempt, len(backoff)-1)]
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		conn, err := s.remote.dial(s.ctx, s.table, s.sessionID)
		if err != nil {
			if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
				return false
			}
			logger.Warn("realtime reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()
		logger.Info("realtime channel reconnected", "attempt", attempt+1)
		return true
	}
}

func (s *remoteSubscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancel()
		conn := s.conn
		s.mu.Unlock()
		_ = conn.Close()
	})
	<-s.stopped
	return nil
}

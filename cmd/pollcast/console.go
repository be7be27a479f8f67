package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sjawhar/pollcast/internal/export"
	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/session"
)

const hostHelp = `commands:
  /poll          draft and publish a poll from the recent transcript now
  /polls         list polls
  /publish N     publish the results of poll N
  /results       show published results
  /roster        list participants
  /export [N]    write the transcript and results (or poll N) to files
  /end           end the session for everyone
  /leave         leave without ending the session
  anything else  is added to the transcript
`

const participantHelp = `commands:
  /polls         list polls
  /answer N M    answer poll N with option M (number, letter or label)
  /results       show published results
  /leave         leave the session
`

// errSessionEnded stops the console loop after /end.
var errSessionEnded = errors.New("session ended")

// console is the interactive terminal for host and join. It also serves as
// the Notifier for every component of the session.
type console struct {
	out io.Writer
	mu  sync.Mutex

	store *session.Store
	ctrl  *polling.Controller
	exp   *exporter

	ended   chan struct{}
	endOnce sync.Once
}

func newConsole(out io.Writer) *console {
	return &console{out: out, ended: make(chan struct{})}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *console) Notify(level session.Level, message string) {
	c.printf("[%s] %s\n", level, message)
}

// Interim shows a transcript fragment still being recognised.
func (c *console) Interim(text string) {
	c.printf("… %s\n", text)
}

func (c *console) isHost() bool {
	user, ok := c.store.User()
	return ok && user.Role == session.RoleHost
}

func (c *console) markEnded() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *console) onEvent(ev session.Event) {
	host := c.isHost()
	switch ev.Kind {
	case session.EventPoll:
		if n, poll, ok := c.pollByID(ev.ID); ok {
			c.printPoll(n, poll)
		}
	case session.EventTranscript:
		if host {
			return
		}
		for _, e := range c.store.Transcript() {
			if e.ID == ev.ID {
				c.printf("> %s\n", e.Text)
				return
			}
		}
	case session.EventResponse:
		if !host {
			return
		}
		for _, r := range c.store.Responses() {
			if r.ID == ev.ID {
				if n, _, ok := c.pollByID(r.QuestionID); ok {
					c.printf("new answer to poll %d\n", n)
				}
				return
			}
		}
	case session.EventResult:
		if host {
			return
		}
		if r, ok := c.store.Result(ev.ID); ok {
			c.printf("%s\n", export.PollResult(r))
		}
	case session.EventRoster:
		if host {
			c.printf("participants: %d\n", len(c.store.Roster()))
		}
	case session.EventSessionEnded:
		c.printf("the session has ended\n")
		c.markEnded()
	}
}

// run reads commands from in until EOF, /leave, /end or the end of the
// session. It returns errSessionEnded when the host ended the session.
func (c *console) run(ctx context.Context, in io.Reader) error {
	unwatch := c.store.Watch(c.onEvent)
	defer unwatch()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if c.isHost() {
		c.printf("%s", hostHelp)
	} else {
		c.printf("%s", participantHelp)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ended:
			if c.isHost() {
				return errSessionEnded
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := c.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handle runs one console line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if !c.isHost() {
			c.printf("unknown input, type /help\n")
			return false, nil
		}
		if _, err := c.store.AppendTranscript(line); err != nil {
			c.printf("could not add transcript: %v\n", err)
		}
		return false, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	host := c.isHost()

	switch {
	case cmd == "/help":
		if host {
			c.printf("%s", hostHelp)
		} else {
			c.printf("%s", participantHelp)
		}
	case cmd == "/polls":
		polls := c.store.Polls()
		if len(polls) == 0 {
			c.printf("no polls yet\n")
		}
		for i, p := range polls {
			c.printPoll(i+1, p)
		}
	case cmd == "/results":
		results := c.store.PublishedResults()
		if len(results) == 0 {
			c.printf("no published results yet\n")
			return false, nil
		}
		c.printf("%s", export.Results(results))
	case cmd == "/leave":
		return true, nil
	case cmd == "/answer" && !host:
		c.answer(args)
	case cmd == "/poll" && host:
		c.generate(ctx)
	case cmd == "/publish" && host:
		c.publish(args)
	case cmd == "/roster" && host:
		roster := c.store.Roster()
		c.printf("%d participants\n", len(roster))
		for _, p := range roster {
			c.printf("  %s (joined %s)\n", p.Name, p.JoinedAt.Local().Format("15:04:05"))
		}
	case cmd == "/export" && host:
		c.export(args)
	case cmd == "/end" && host:
		if err := c.store.End(ctx); err != nil {
			c.printf("could not end the session on the server: %v\n", err)
		}
		c.markEnded()
		return false, errSessionEnded
	default:
		c.printf("unknown command %s, type /help\n", cmd)
	}
	return false, nil
}

func (c *console) generate(ctx context.Context) {
	if c.ctrl == nil {
		c.printf("poll generation is not available\n")
		return
	}
	c.printf("generating a poll...\n")
	_, err := c.ctrl.GenerateNow(ctx)
	switch {
	case err == nil:
		// The new poll is printed by the poll event.
	case errors.Is(err, polling.ErrSkipped):
		c.printf("not enough recent transcript for a poll yet\n")
	case errors.Is(err, polling.ErrBusy):
		c.printf("a poll is already being generated\n")
	default:
		c.printf("poll generation failed: %v\n", err)
	}
}

func (c *console) publish(args []string) {
	n, poll, ok := c.pollArg(args)
	if !ok {
		return
	}
	result, err := c.store.ComputeResult(poll.ID)
	if err != nil {
		c.printf("could not publish poll %d: %v\n", n, err)
		return
	}
	c.printf("%s\n", export.PollResult(result))
}

func (c *console) answer(args []string) {
	if len(args) != 2 {
		c.printf("usage: /answer N M\n")
		return
	}
	n, poll, ok := c.pollArg(args[:1])
	if !ok {
		return
	}
	option, err := optionIndex(args[1], poll.Options)
	if err != nil {
		c.printf("%v\n", err)
		return
	}
	if _, err := c.store.RecordResponse(session.PollResponse{QuestionID: poll.ID, SelectedOption: option}); err != nil {
		c.printf("could not answer poll %d: %v\n", n, err)
		return
	}
	c.printf("answered poll %d: %s\n", n, poll.Options[option])
}

func (c *console) export(args []string) {
	if c.exp == nil {
		c.printf("exports are not configured\n")
		return
	}
	if len(args) > 0 {
		_, poll, ok := c.pollArg(args)
		if !ok {
			return
		}
		result, ok := c.store.Result(poll.ID)
		if !ok {
			c.printf("publish the poll before exporting its results\n")
			return
		}
		path, err := c.exp.writer.Write(export.PollResultName(poll.ID), export.PollResult(result))
		c.reportExport(path, err)
		return
	}
	c.reportExport(c.exp.transcript(c.store))
	c.reportExport(c.exp.results(c.store))
}

func (c *console) reportExport(path string, err error) {
	if err != nil {
		c.printf("export failed: %v\n", err)
		return
	}
	c.printf("wrote %s\n", path)
}

func (c *console) printPoll(n int, p session.PollQuestion) {
	var b strings.Builder
	fmt.Fprintf(&b, "poll %d: %s\n", n, p.Question)
	for i, opt := range p.Options {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
	}
	c.printf("%s", b.String())
}

func (c *console) pollByID(id string) (int, session.PollQuestion, bool) {
	for i, p := range c.store.Polls() {
		if p.ID == id {
			return i + 1, p, true
		}
	}
	return 0, session.PollQuestion{}, false
}

func (c *console) pollArg(args []string) (int, session.PollQuestion, bool) {
	if len(args) == 0 {
		c.printf("which poll? use /polls to list them\n")
		return 0, session.PollQuestion{}, false
	}
	n, err := strconv.Atoi(args[0])
	polls := c.store.Polls()
	if err != nil || n < 1 || n > len(polls) {
		c.printf("no poll %s, there are %d\n", args[0], len(polls))
		return 0, session.PollQuestion{}, false
	}
	return n, polls[n-1], true
}

// optionIndex accepts a 1-based option number, a letter (A, B, ...) or an
// exact option label.
func optionIndex(raw string, options []string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 || n > len(options) {
			return 0, fmt.Errorf("option %d out of range, choose 1-%d", n, len(options))
		}
		return n - 1, nil
	}
	if len(raw) == 1 {
		letter := strings.ToUpper(raw)[0]
		if letter >= 'A' && int(letter-'A') < len(options) {
			return int(letter - 'A'), nil
		}
	}
	idx, err := session.ParseAnswer(raw, options)
	if err != nil {
		return 0, fmt.Errorf("unknown option %q", raw)
	}
	return idx, nil
}

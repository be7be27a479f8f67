package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var initDeepgram sync.Once

type DeepgramConfig struct {
	APIKey      string
	Model       string
	Language    string
	SampleRates []int
	Logger      *slog.Logger
}

// Deepgram streams the default microphone to Deepgram live transcription.
type Deepgram struct {
	cfg    DeepgramConfig
	logger *slog.Logger
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initDeepgram.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	return &Deepgram{cfg: cfg, logger: logger}
}

// Supported reports whether an API key is set and PortAudio sees an input
// device. InitAudio must have been called.
func (d *Deepgram) Supported() bool {
	return strings.TrimSpace(d.cfg.APIKey) != "" && hasInputDevice()
}

func (d *Deepgram) Run(ctx context.Context, sink Sink) error {
	if strings.TrimSpace(d.cfg.APIKey) == "" {
		return fmt.Errorf("deepgram api key is not set: %w", ErrPermissionDenied)
	}

	m, err := openFirstMic(d.cfg.SampleRates)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cb := newTranscriptCallback(sink, d.logger)
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		Encoding:       "linear16",
		SampleRate:     m.rate,
		Channels:       1,
	}
	dg, err := client.NewWSUsingCallback(ctx, d.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, tOptions, cb)
	if err != nil {
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return errors.New("connect to deepgram")
	}
	defer dg.Stop()

	if err := m.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	d.logger.Info("microphone streaming", "sample_rate", m.rate, "model", d.cfg.Model)

	streamDone := make(chan error, 1)
	go func() {
		streamDone <- streamWithOverflowRetry(ctx, m, dg, time.Sleep)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-cb.failed:
	case <-cb.closed:
	case runErr = <-streamDone:
		streamDone = nil
	}

	_ = m.Stop()
	if streamDone != nil {
		<-streamDone
	}
	cb.flush()
	return runErr
}

// transcriptCallback implements the Deepgram live callback. Interim messages
// go straight to the sink; final messages are buffered until speech_final or
// an utterance end.
type transcriptCallback struct {
	sink   Sink
	logger *slog.Logger
	buffer utteranceBuffer
	failed chan error
	closed chan struct{}
	once   sync.Once
}

func newTranscriptCallback(sink Sink, logger *slog.Logger) *transcriptCallback {
	return &transcriptCallback{
		sink:   sink,
		logger: logger,
		failed: make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *transcriptCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	if !mr.IsFinal {
		if text != "" {
			c.sink.Interim(text)
		}
		return nil
	}

	c.buffer.Add(text)
	if mr.SpeechFinal {
		c.flush()
	}
	return nil
}

func (c *transcriptCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.flush()
	return nil
}

func (c *transcriptCallback) flush() {
	if text := c.buffer.Flush(); text != "" {
		c.sink.Final(text)
	}
}

func (c *transcriptCallback) Open(*api.OpenResponse) error {
	c.logger.Info("connected to deepgram")
	return nil
}

func (c *transcriptCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *transcriptCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *transcriptCallback) Close(*api.CloseResponse) error {
	c.logger.Info("disconnected from deepgram")
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *transcriptCallback) Error(er *api.ErrorResponse) error {
	c.logger.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	err := fmt.Errorf("deepgram %s: %s", er.ErrCode, er.Description)
	select {
	case c.failed <- err:
	default:
	}
	return nil
}

func (c *transcriptCallback) UnhandledEvent([]byte) error { return nil }

package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultSampleRates are tried in order when opening the microphone.
var DefaultSampleRates = []int{16000, 48000, 44100, 32000, 24000}

const framesPerBuffer = 1024

// InitAudio loads PortAudio. Call TerminateAudio when done.
func InitAudio() error {
	return portaudio.Initialize()
}

func TerminateAudio() error {
	return portaudio.Terminate()
}

func hasInputDevice() bool {
	dev, err := portaudio.DefaultInputDevice()
	return err == nil && dev != nil && dev.MaxInputChannels > 0
}

// mic is a mono PortAudio capture stream.
type mic struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int
}

func openMic(sampleRate int) (*mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	return &mic{stream: stream, buf: buf, rate: sampleRate}, nil
}

// openFirstMic opens the microphone at the first sample rate it accepts.
func openFirstMic(rates []int) (*mic, error) {
	if len(rates) == 0 {
		rates = DefaultSampleRates
	}
	var lastErr error
	for _, rate := range rates {
		m, err := openMic(rate)
		if err == nil {
			return m, nil
		}
		if IsPermissionError(err) {
			return nil, fmt.Errorf("open microphone: %w: %w", ErrPermissionDenied, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("open microphone at %v Hz: %w", rates, lastErr)
}

func (m *mic) Start() error { return m.stream.Start() }
func (m *mic) Stop() error  { return m.stream.Stop() }
func (m *mic) Close() error { return m.stream.Close() }

// Stream reads from the mic and writes PCM16-LE to w until a read or write
// fails.
func (m *mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2)
	for {
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

type streamer interface {
	Stream(w io.Writer) error
}

// streamWithOverflowRetry keeps streaming through input overflows, which
// happen when the reader falls briefly behind the device.
func streamWithOverflowRetry(ctx context.Context, s streamer, w io.Writer, wait func(time.Duration)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.Stream(w)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			wait(250 * time.Millisecond)
			continue
		}
		return err
	}
}

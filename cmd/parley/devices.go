package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/malgo"
	"github.com/MrWong99/parley/pkg/audio/stream"
)

// devices holds the opened capture and playback pair and whatever must be
// released with them.
type devices struct {
	capture    audio.CaptureSource
	playback   audio.PlaybackSink
	playFormat audio.Format

	// usesStdin is set when capture reads from stdin, leaving none for the
	// operator console.
	usesStdin bool

	closers []io.Closer
}

func (d *devices) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
}

// openDevices builds the configured backend. Devices are not started here;
// the app starts capture when a turn begins and playback on first audio.
func openDevices(a config.AudioConfig, p config.PlaybackConfig) (*devices, error) {
	capFormat := audio.Format{SampleRate: a.CaptureSampleRate, Channels: a.Channels}
	d := &devices{playFormat: audio.Format{SampleRate: a.PlaybackSampleRate, Channels: a.Channels}}
	backlog := time.Duration(p.SinkCapacityMs) * time.Millisecond

	switch a.Backend {
	case config.BackendMalgo:
		host, err := malgo.NewHost()
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, host)
		d.capture = malgo.NewCapture(host, capFormat, a.FrameDuration())
		d.playback = malgo.NewPlayback(host, d.playFormat, backlog)
		return d, nil

	case config.BackendStream:
		in, err := openInput(a.Stream.Input)
		if err != nil {
			return nil, err
		}
		out, err := openOutput(a.Stream.Output)
		if err != nil {
			_ = in.Close()
			return nil, err
		}
		d.closers = append(d.closers, out)
		d.usesStdin = a.Stream.Input == "-"
		d.capture = stream.NewCapture(in, capFormat,
			stream.WithInputFormat(audio.Format{SampleRate: a.Stream.InputSampleRate, Channels: a.Channels}),
			stream.WithFrameDuration(a.FrameDuration()),
		)
		d.playback = stream.NewPlayback(out, d.playFormat, stream.WithBacklog(backlog))
		return d, nil

	default:
		return nil, fmt.Errorf("unknown audio backend %q", a.Backend)
	}
}

// openInput opens path for reading. "-" is stdin; empty yields no audio.
func openInput(path string) (io.ReadCloser, error) {
	switch path {
	case "":
		return io.NopCloser(strings.NewReader("")), nil
	case "-":
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}
	return f, nil
}

// openOutput creates path for writing. "-" is stdout; empty discards.
func openOutput(path string) (io.WriteCloser, error) {
	switch path {
	case "":
		return nopWriteCloser{io.Discard}, nil
	case "-":
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create audio output: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

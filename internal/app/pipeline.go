package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Capture → encode → send ─────────────────────────────────────────────────

// captureLoop consumes the single capture subscription for the lifetime of
// the app. Frames are sent only while the session is listening and the
// link is up; everything else is dropped, never queued.
func (a *App) captureLoop(ctx context.Context) error {
	frames := a.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if err := a.capture.Err(); err != nil {
					a.metrics.RecordDeviceError(ctx, "capture")
					slog.Error("app: capture device failed", "err", err)
				}
				return nil
			}
			a.sendFrame(ctx, f)
		}
	}
}

func (a *App) sendFrame(ctx context.Context, f audio.AudioFrame) {
	a.metrics.RecordFrame(ctx, observe.DirectionUp, observe.OutcomeCaptured)
	if !a.machine.Listening() {
		a.metrics.RecordFrame(ctx, observe.DirectionUp, observe.OutcomeNotListening)
		return
	}
	conn := a.currentConn()
	if conn == nil || !conn.Connected() {
		a.metrics.RecordFrame(ctx, observe.DirectionUp, observe.OutcomeNotConnected)
		return
	}
	pkt, err := a.encoder.Encode(f.Data)
	if err != nil {
		a.metrics.RecordCodecError(ctx, "encode")
		slog.Debug("app: encode failed", "bytes", len(f.Data), "err", err)
		return
	}
	if err := conn.SendBinary(ctx, pkt); err != nil {
		a.metrics.RecordFrame(ctx, observe.DirectionUp, observe.OutcomeSendFailed)
		slog.Debug("app: send audio", "err", err)
		return
	}
	a.metrics.RecordFrame(ctx, observe.DirectionUp, observe.OutcomeSent)
}

// ─── Receive → dispatch ──────────────────────────────────────────────────────

// receiveLoop drains one connection at a time, taking each new connection
// from Connect.
func (a *App) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case conn := <-a.conns:
			a.drain(ctx, conn)
		}
	}
}

func (a *App) drain(ctx context.Context, conn transport.Conn) {
	msgs := conn.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				a.connEnded(conn)
				return
			}
			switch m.Kind {
			case transport.KindText:
				// Rejected messages are logged and counted by the machine.
				_ = a.machine.HandleText(ctx, m.Data)
			case transport.KindBinary:
				a.onAudio(ctx, m.Data)
			}
		}
	}
}

// connEnded handles the end of conn's inbound stream. Connections that were
// already replaced or dropped locally are ignored.
func (a *App) connEnded(conn transport.Conn) {
	a.connMu.Lock()
	current := a.conn == conn
	if current {
		a.conn = nil
	}
	a.connMu.Unlock()
	if !current {
		return
	}

	// A goodbye already ended the session; the server closing the socket
	// afterwards is not a drop.
	st := a.machine.Status()
	saidGoodbye := st.State == session.StateDisconnected && st.Session.ID == ""

	err := conn.Err()
	a.machine.OnDisconnected(err)
	a.jitter.Reset()
	if err == nil || saidGoodbye || transport.NormalClosure(err) {
		return
	}
	if a.recon != nil {
		a.recon.NotifyDisconnect()
	}
}

func (a *App) onAudio(ctx context.Context, pkt []byte) {
	pcm, err := a.decoder.Decode(pkt)
	if err != nil {
		a.metrics.RecordCodecError(ctx, "decode")
		slog.Debug("app: decode failed", "bytes", len(pkt), "err", err)
		return
	}
	a.metrics.RecordFrame(ctx, observe.DirectionDown, observe.OutcomeReceived)
	if a.jitter.Push(audio.AudioFrame{
		Data:       pcm,
		SampleRate: a.play.Format.SampleRate,
		Channels:   a.play.Format.Channels,
	}) {
		a.metrics.JitterEvictions.Add(ctx, 1)
	}
	a.playOnce.Do(func() {
		a.group.Go(func() error { return a.playbackLoop(ctx) })
	})
}

// ─── Playback ────────────────────────────────────────────────────────────────

// playbackLoop moves decoded frames from the jitter buffer to the sink. It
// (re)initialises the sink whenever it is inactive, waits the pre-roll after
// each start, and clears the sink backlog above the high-water mark.
func (a *App) playbackLoop(ctx context.Context) error {
	batch := make([]audio.AudioFrame, 0, a.play.Batch)
	for ctx.Err() == nil {
		if !a.sink.Active() {
			if err := a.sink.Start(); err != nil {
				a.metrics.RecordDeviceError(ctx, "playback")
				slog.Warn("app: start playback device", "err", err)
				sleep(ctx, deviceRetry)
				continue
			}
			slog.Debug("app: playback device started", "preroll", a.play.Preroll)
			sleep(ctx, a.play.Preroll)
		}

		batch = a.jitter.PopBatch(batch[:0], a.play.Batch)
		if len(batch) == 0 {
			sleep(ctx, a.play.Idle)
			continue
		}
		for _, f := range batch {
			if !a.writeFrame(ctx, f) {
				break
			}
		}
	}
	return nil
}

// writeFrame plays one frame and reports whether the sink is still usable.
func (a *App) writeFrame(ctx context.Context, f audio.AudioFrame) bool {
	if limit := float64(a.sink.Capacity()) * a.play.HighWater; limit > 0 && float64(a.sink.Buffered()) > limit {
		a.sink.Clear()
		a.metrics.SinkClears.Add(ctx, 1)
		slog.Debug("app: playback backlog above high water, cleared", "limit", int(limit))
	}

	err := a.sink.Write(audio.Gain(f.Data, a.volume()))
	switch {
	case err == nil:
		a.metrics.RecordFrame(ctx, observe.DirectionDown, observe.OutcomePlayed)
		return true
	case errors.Is(err, audio.ErrBacklogFull):
		a.sink.Clear()
		a.metrics.SinkClears.Add(ctx, 1)
		return true
	default:
		a.metrics.RecordDeviceError(ctx, "playback")
		slog.Warn("app: playback write failed, reinitialising", "err", err)
		return false
	}
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

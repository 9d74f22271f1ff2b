// Package protocol defines the JSON control messages exchanged with the
// voice-assistant service over the text channel of the session socket.
//
// Inbound text is parsed into one of the concrete [Message] variants by
// [Parse]; outbound messages are built with the New* constructors and
// serialised with [Marshal]. Audio travels separately as binary frames, one
// Opus packet per message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is the "type" discriminator of a control message.
type Type string

const (
	TypeHello   Type = "hello"
	TypeGoodbye Type = "goodbye"
	TypeTTS     Type = "tts"
	TypeListen  Type = "listen"
	TypeIoT     Type = "iot"
	TypeAbort   Type = "abort"
	TypeSTT     Type = "stt"
	TypeLLM     Type = "llm"
)

// TTSState is the state field of a tts message.
type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSSentenceStart TTSState = "sentence_start"
	TTSSentenceEnd   TTSState = "sentence_end"
	TTSStop          TTSState = "stop"
)

// ListenState is the state field of a listen message.
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

// ListenMode is the mode field of a listen start message.
type ListenMode string

const (
	ModeAuto   ListenMode = "auto"
	ModeManual ListenMode = "manual"
)

// Parse errors.
var (
	ErrNotJSON     = errors.New("protocol: message is not a JSON object")
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed message")
)

// Message is an inbound control message. The concrete type is one of
// [Hello], [Goodbye], [TTS], [Listen], [IoT], [Abort], [STT] or [LLM].
type Message interface {
	Type() Type
}

// AudioParams describes the Opus stream carried on the binary channel.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// Hello is the server's handshake acknowledgement.
type Hello struct {
	SessionID   string       `json:"session_id"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
}

// Goodbye ends the server session.
type Goodbye struct {
	SessionID string `json:"session_id,omitempty"`
}

// TTS reports the assistant's speech state. Text is set on sentence_start.
type TTS struct {
	SessionID string   `json:"session_id,omitempty"`
	State     TTSState `json:"state"`
	Text      string   `json:"text,omitempty"`
}

// Listen is a listen message echoed by the server.
type Listen struct {
	SessionID string      `json:"session_id,omitempty"`
	State     ListenState `json:"state"`
	Mode      ListenMode  `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// IoT carries device commands. Each command is kept raw for the command
// bridge to interpret.
type IoT struct {
	SessionID string            `json:"session_id,omitempty"`
	Commands  []json.RawMessage `json:"commands"`
}

// Abort asks the peer to stop the current utterance.
type Abort struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// STT carries the server's transcription of the user's speech.
type STT struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// LLM carries assistant display hints such as an emotion.
type LLM struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
}

func (Hello) Type() Type   { return TypeHello }
func (Goodbye) Type() Type { return TypeGoodbye }
func (TTS) Type() Type     { return TypeTTS }
func (Listen) Type() Type  { return TypeListen }
func (IoT) Type() Type     { return TypeIoT }
func (Abort) Type() Type   { return TypeAbort }
func (STT) Type() Type     { return TypeSTT }
func (LLM) Type() Type     { return TypeLLM }

// Parse decodes one inbound text message.
func Parse(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	var (
		msg Message
		err error
	)
	switch head.Type {
	case TypeHello:
		msg, err = decode[Hello](data)
	case TypeGoodbye:
		msg, err = decode[Goodbye](data)
	case TypeTTS:
		var m TTS
		if m, err = decode[TTS](data); err == nil && m.State == "" {
			err = fmt.Errorf("%w: tts without state", ErrMalformed)
		}
		msg = m
	case TypeListen:
		msg, err = decode[Listen](data)
	case TypeIoT:
		msg, err = decode[IoT](data)
	case TypeAbort:
		msg, err = decode[Abort](data)
	case TypeSTT:
		msg, err = decode[STT](data)
	case TypeLLM:
		msg, err = decode[LLM](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// ── Outbound ─────────────────────────────────────────────────────────────────

// ClientHello opens the session handshake.
type ClientHello struct {
	Type        Type        `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// NewClientHello returns the handshake message announcing the uplink audio
// geometry.
func NewClientHello(version, sampleRate, channels, frameMs int) ClientHello {
	return ClientHello{
		Type:      TypeHello,
		Version:   version,
		Transport: "websocket",
		AudioParams: AudioParams{
			Format:        "opus",
			SampleRate:    sampleRate,
			Channels:      channels,
			FrameDuration: frameMs,
		},
	}
}

// ListenRequest starts, stops or detects listening.
type ListenRequest struct {
	SessionID string      `json:"session_id"`
	Type      Type        `json:"type"`
	State     ListenState `json:"state"`
	Mode      ListenMode  `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// NewListenStart asks the server to start listening in mode.
func NewListenStart(sessionID string, mode ListenMode) ListenRequest {
	return ListenRequest{SessionID: sessionID, Type: TypeListen, State: ListenStart, Mode: mode}
}

// NewListenStop ends a manual listening turn.
func NewListenStop(sessionID string) ListenRequest {
	return ListenRequest{SessionID: sessionID, Type: TypeListen, State: ListenStop}
}

// NewDetect reports a detected wake phrase. All whitespace is removed from
// text before sending.
func NewDetect(sessionID, text string) ListenRequest {
	return ListenRequest{
		SessionID: sessionID,
		Type:      TypeListen,
		State:     ListenDetect,
		Text:      strings.Join(strings.Fields(text), ""),
	}
}

// AbortRequest interrupts the assistant's speech. It carries no session ID.
type AbortRequest struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// NewAbort returns an abort request. reason may be empty.
func NewAbort(reason string) AbortRequest {
	return AbortRequest{Type: TypeAbort, Reason: reason}
}

// Marshal serialises an outbound message.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return b, nil
}

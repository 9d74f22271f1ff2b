package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/protocol"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, m protocol.Message)
	}{
		{
			name:  "hello",
			input: `{"type":"hello","transport":"websocket","session_id":"s1","audio_params":{"format":"opus","sample_rate":24000,"channels":1,"frame_duration":60}}`,
			check: func(t *testing.T, m protocol.Message) {
				h, ok := m.(protocol.Hello)
				if !ok {
					t.Fatalf("got %T, want Hello", m)
				}
				if h.SessionID != "s1" {
					t.Errorf("SessionID = %q", h.SessionID)
				}
				if h.AudioParams == nil || h.AudioParams.SampleRate != 24000 {
					t.Errorf("AudioParams = %+v", h.AudioParams)
				}
			},
		},
		{
			name:  "tts sentence_start",
			input: `{"type":"tts","state":"sentence_start","text":"hi there"}`,
			check: func(t *testing.T, m protocol.Message) {
				tts := m.(protocol.TTS)
				if tts.State != protocol.TTSSentenceStart || tts.Text != "hi there" {
					t.Errorf("got %+v", tts)
				}
			},
		},
		{
			name:  "goodbye",
			input: `{"type":"goodbye","session_id":"s1"}`,
			check: func(t *testing.T, m protocol.Message) {
				if m.Type() != protocol.TypeGoodbye {
					t.Errorf("Type() = %q", m.Type())
				}
			},
		},
		{
			name:  "iot commands kept raw",
			input: `{"type":"iot","commands":[{"name":"Lamp","method":"TurnOn","parameters":{}},{"name":"Speaker","method":"SetVolume","parameters":{"volume":40}}]}`,
			check: func(t *testing.T, m protocol.Message) {
				iot := m.(protocol.IoT)
				if len(iot.Commands) != 2 {
					t.Fatalf("got %d commands, want 2", len(iot.Commands))
				}
				var cmd struct{ Name string }
				if err := json.Unmarshal(iot.Commands[1], &cmd); err != nil || cmd.Name != "Speaker" {
					t.Errorf("second command = %s (%v)", iot.Commands[1], err)
				}
			},
		},
		{
			name:  "stt",
			input: `{"type":"stt","text":"turn on the lamp"}`,
			check: func(t *testing.T, m protocol.Message) {
				if m.(protocol.STT).Text != "turn on the lamp" {
					t.Errorf("got %+v", m)
				}
			},
		},
		{
			name:  "llm emotion",
			input: `{"type":"llm","emotion":"happy","text":"😀"}`,
			check: func(t *testing.T, m protocol.Message) {
				if m.(protocol.LLM).Emotion != "happy" {
					t.Errorf("got %+v", m)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := protocol.Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "not json", input: `hello there`, want: protocol.ErrNotJSON},
		{name: "json array", input: `[1,2]`, want: protocol.ErrNotJSON},
		{name: "missing type", input: `{"session_id":"x"}`, want: protocol.ErrMalformed},
		{name: "unknown type", input: `{"type":"firmware"}`, want: protocol.ErrUnknownType},
		{name: "tts without state", input: `{"type":"tts"}`, want: protocol.ErrMalformed},
		{name: "commands not a list", input: `{"type":"iot","commands":"lamp"}`, want: protocol.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := protocol.Parse([]byte(tt.input)); !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestOutboundShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  any
		want string
	}{
		{
			name: "client hello",
			msg:  protocol.NewClientHello(1, 16000, 1, 60),
			want: `{"type":"hello","version":1,"transport":"websocket","audio_params":{"format":"opus","sample_rate":16000,"channels":1,"frame_duration":60}}`,
		},
		{
			name: "listen start auto",
			msg:  protocol.NewListenStart("s1", protocol.ModeAuto),
			want: `{"session_id":"s1","type":"listen","state":"start","mode":"auto"}`,
		},
		{
			name: "listen start manual",
			msg:  protocol.NewListenStart("s1", protocol.ModeManual),
			want: `{"session_id":"s1","type":"listen","state":"start","mode":"manual"}`,
		},
		{
			name: "listen stop",
			msg:  protocol.NewListenStop("s1"),
			want: `{"session_id":"s1","type":"listen","state":"stop"}`,
		},
		{
			name: "abort",
			msg:  protocol.NewAbort(""),
			want: `{"type":"abort"}`,
		},
		{
			name: "abort with reason",
			msg:  protocol.NewAbort("wake_word_detected"),
			want: `{"type":"abort","reason":"wake_word_detected"}`,
		},
		{
			name: "detect strips whitespace",
			msg:  protocol.NewDetect("s1", " hey\n  there\t"),
			want: `{"session_id":"s1","type":"listen","state":"detect","text":"heythere"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := protocol.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

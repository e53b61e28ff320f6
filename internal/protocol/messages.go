// Package protocol defines the websocket messages exchanged with renderer
// and capture clients.
package protocol

// Client message types.
const (
	TypeTextInput      = "text-input"
	TypeInterrupt      = "interrupt-signal"
	TypeStartListening = "start-listening"
	TypeStopListening  = "stop-listening"
	TypeCaptureReady   = "capture-ready"
	TypeCapturePartial = "capture-partial"
	TypeCaptureFinal   = "capture-final"
	TypeCaptureError   = "capture-error"
	TypeMicAudioData   = "mic-audio-data"
	TypeMicAudioEnd    = "mic-audio-end"
	TypeHeartbeat      = "heartbeat"
)

// Server message types.
const (
	TypeHello      = "hello"
	TypeFrame      = "frame"
	TypeStatus     = "status"
	TypeState      = "turn-state"
	TypeMood       = "mood"
	TypeFullText   = "full-text"
	TypeUserText   = "user-input-transcription"
	TypeAudio      = "audio"
	TypeAudioEnd   = "audio-end"
	TypeControl    = "control"
	TypeError      = "error"
	ControlCapture = "capture-start"
	ControlRelease = "capture-stop"
)

// ClientCommand is a message from a browser client.
type ClientCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Reason accompanies capture-error.
	Reason string `json:"reason,omitempty"`
	// Modes lists the capture modes a client offers with capture-ready.
	Modes []string `json:"modes,omitempty"`
	// Audio carries float samples in [-1, 1]; AudioPCM carries base64 pcm16.
	Audio     []float64 `json:"audio,omitempty"`
	AudioPCM  string    `json:"audio_pcm,omitempty"`
	AudioRate int       `json:"audio_sample_rate,omitempty"`
	AudioCh   int       `json:"audio_channels,omitempty"`
}

// FramePayload is one published animation frame.
type FramePayload struct {
	Type       string     `json:"type"`
	Time       float64    `json:"time"`
	Distortion float64    `json:"distortion"`
	Speed      float64    `json:"speed"`
	Glow       float64    `json:"glow"`
	Color1     [3]float64 `json:"color1"`
	Color2     [3]float64 `json:"color2"`
	Level      float64    `json:"level"`
	Mood       string     `json:"mood"`
}

// AudioPayload carries one chunk of speech for browser playback.
type AudioPayload struct {
	Type       string `json:"type"`
	PlaybackID uint64 `json:"playback_id"`
	Seq        int    `json:"seq"`
	Format     string `json:"audio_format"`
	SampleRate int    `json:"audio_sample_rate"`
	Channels   int    `json:"audio_channels"`
	FrameMs    int    `json:"frame_ms"`
	Data       string `json:"data"`
}

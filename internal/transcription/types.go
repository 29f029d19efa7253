package transcription

import (
	"time"

	"github.com/0xPD33/sonori-platform/internal/config"
)

// AudioSegment is an immutable slice of mono 16 kHz audio bounded by detected
// speech (or, for manual sessions, the whole recording). Produced by VadEngine
// or the manual accumulator; consumed exactly once by the transcription
// worker. See spec §3.
type AudioSegment struct {
	Samples    []float32
	StartTime  float64
	EndTime    float64
	SampleRate int
	SessionID  string // empty for real-time segments
	IsManual   bool
}

// Message is the text result broadcast to all subscribers after a segment is
// transcribed and post-processed. See spec §3 TranscriptionMessage.
type Message struct {
	Text      string
	SessionID string
}

// Mode selects how incoming audio is routed by the SegmentRouter.
type Mode int

const (
	ModeRealTime Mode = iota
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "realtime"
}

// ManualCommandKind tags a ManualSessionCommand variant.
type ManualCommandKind int

const (
	StartSession ManualCommandKind = iota
	StopSession
	CancelSession
	SwitchMode
)

// ManualSessionCommand is the tagged union consumed once by the session
// coordinator (ControlPlane). Responder, if non-nil, receives exactly one
// value acknowledging the command was applied.
type ManualSessionCommand struct {
	Kind      ManualCommandKind
	NewMode   Mode // valid only when Kind == SwitchMode
	Responder chan<- error
}

// BackendCommandKind tags a BackendCommand variant.
type BackendCommandKind int

const (
	Reload BackendCommandKind = iota
	Shutdown
)

// BackendCommand is consumed once by the backend-manager task. See spec §3.
type BackendCommand struct {
	Kind      BackendCommandKind
	Config    config.BackendConfig
	ModelName string
}

// BackendState tags the coarse lifecycle of the loaded backend.
type BackendState int

const (
	StateLoading BackendState = iota
	StateReady
	StateError
)

// Status is the single-writer, many-reader struct surfaced to UI/status
// consumers. See spec §3 BackendStatus and SPEC_FULL §12 (10s error fade is a
// read-time check against ErrorTime, not a background timer).
type Status struct {
	BackendName      string
	ModelName        string
	State            BackendState
	StatusMessage    string
	DownloadProgress *float32 // nil when not downloading
	ErrorTime        time.Time
	IsRecording      bool
	RecordingStart   time.Time
}

// ErrorFaded reports whether an Error state is older than the 10-second fade
// window and should no longer be surfaced to a status reader.
func (s Status) ErrorFaded(now time.Time) bool {
	return s.State == StateError && !s.ErrorTime.IsZero() && now.After(s.ErrorTime.Add(10*time.Second))
}

// Capabilities describes what a loaded Backend variant supports.
type Capabilities struct {
	Name                string
	MaxAudioDuration     *float64 // seconds, nil if unbounded
	SupportedLanguages   []string // nil if backend doesn't restrict
	SupportsStreaming    bool
	GPUAvailable         bool
	SupportsInitialPrompt bool
}

// CommonOptions are the transcription knobs shared across all backends.
type CommonOptions struct {
	Language      string
	BeamSize      int // 0 => greedy
	Temperature   float32
	InitialPrompt string
}

// Backend is the contract every acoustic-model variant implements. Dispatch
// is by tagged variant (config.BackendKind) held by the registry, not by
// runtime polymorphism across arbitrary implementations — see spec §4.4.
type Backend interface {
	Transcribe(samples []float32, sampleRate int, opts CommonOptions) (string, error)
	Capabilities() Capabilities
	Close() error
}

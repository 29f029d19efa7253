// Package segment implements SegmentRouter: it routes incoming audio batches
// to either the streaming VAD (real-time mode) or a manual accumulator,
// emitting transcription.AudioSegment values on a bounded, non-blocking
// channel. Grounded on the teacher's orchestrator/audio.Processor, adapted to
// the Rust original's audio_processor.rs mode-gated routing (spec §4.2).
package segment

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/0xPD33/sonori-platform/internal/transcription"
	"github.com/0xPD33/sonori-platform/internal/vad"
)

// Mode mirrors transcription.Mode; kept as a distinct alias point so callers
// only need this package plus the atomic flags.
type Mode = transcription.Mode

const (
	RealTime = transcription.ModeRealTime
	Manual   = transcription.ModeManual
)

// Router owns the VAD engine and the manual accumulator. It is driven by a
// single goroutine (the audio-processor task in spec §5) and is not safe for
// concurrent calls to Route; State reads (recording/mode) are atomic so other
// goroutines may flip them concurrently.
type Router struct {
	engine *vad.Engine

	recording atomic.Bool
	mode      atomic.Int32 // transcription.Mode

	mu             sync.Mutex
	manualBuffer   []float32
	manualSampleRate int
	maxManualSamples int

	segmentCh chan transcription.AudioSegment
	dropCount atomic.Int64

	sessionID atomic.Value // string
}

// Config bundles the knobs Router needs beyond the VAD config itself.
type Config struct {
	SampleRate              int
	MaxRecordingDurationSec float64
	SegmentChannelCap       int
}

// NewRouter wires a VAD engine (already configured per spec §3 VadConfig)
// into a router with the given manual-buffer cap and segment channel size.
func NewRouter(engine *vad.Engine, cfg Config) *Router {
	cap := cfg.SegmentChannelCap
	if cap <= 0 {
		cap = 50
	}
	r := &Router{
		engine:           engine,
		manualSampleRate: cfg.SampleRate,
		maxManualSamples: int(cfg.MaxRecordingDurationSec * float64(cfg.SampleRate)),
		segmentCh:        make(chan transcription.AudioSegment, cap),
	}
	r.mode.Store(int32(RealTime))
	r.sessionID.Store("")
	return r
}

// Segments returns the channel downstream consumers (TranscriptionWorker)
// receive AudioSegments on.
func (r *Router) Segments() <-chan transcription.AudioSegment {
	return r.segmentCh
}

// DroppedSegments reports how many finalized segments were discarded because
// the output channel was full.
func (r *Router) DroppedSegments() int64 {
	return r.dropCount.Load()
}

// SetRecording flips the recording flag. Safe for concurrent use.
func (r *Router) SetRecording(recording bool) {
	r.recording.Store(recording)
}

// IsRecording reports the current recording flag.
func (r *Router) IsRecording() bool {
	return r.recording.Load()
}

// SetMode flips the active mode. Per spec §4.2, mode switches are cooperative:
// the caller should route this through a command so it happens between
// Route calls, never mid-frame. This method itself just stores the flag and
// resets accumulator state; Route observes it on the next call.
func (r *Router) SetMode(m Mode) {
	r.mu.Lock()
	r.manualBuffer = r.manualBuffer[:0]
	r.mu.Unlock()
	r.engine.Reset()
	r.mode.Store(int32(m))
}

// Mode returns the active mode.
func (r *Router) Mode() Mode {
	return Mode(r.mode.Load())
}

// SetSessionID tags subsequently emitted manual segments; real-time
// segments carry an empty session ID.
func (r *Router) SetSessionID(id string) {
	r.sessionID.Store(id)
}

func (r *Router) sessionIDOrEmpty() string {
	v, _ := r.sessionID.Load().(string)
	return v
}

// Route processes one batch of samples per the active recording/mode state.
// Not recording: the batch is discarded (the 60Hz spectrogram-decay tick is
// the UI collaborator's concern, outside the core). Recording + RealTime:
// forward to the VAD, try-send any finalized segments. Recording + Manual:
// append to the manual buffer, capped at maxManualSamples (oldest dropped).
func (r *Router) Route(samples []float32) error {
	if !r.recording.Load() {
		return nil
	}

	switch Mode(r.mode.Load()) {
	case Manual:
		r.mu.Lock()
		r.manualBuffer = append(r.manualBuffer, samples...)
		if r.maxManualSamples > 0 && len(r.manualBuffer) > r.maxManualSamples {
			excess := len(r.manualBuffer) - r.maxManualSamples
			r.manualBuffer = r.manualBuffer[excess:]
		}
		r.mu.Unlock()
		return nil

	default: // RealTime
		segments, err := r.engine.ProcessAudio(samples)
		if err != nil {
			return err
		}
		for _, seg := range segments {
			r.trySend(transcription.AudioSegment{
				Samples:    seg.Samples,
				StartTime:  seg.StartTime,
				EndTime:    seg.EndTime,
				SampleRate: seg.SampleRate,
				IsManual:   false,
			})
		}
		return nil
	}
}

func (r *Router) trySend(seg transcription.AudioSegment) {
	select {
	case r.segmentCh <- seg:
	default:
		r.dropCount.Add(1)
		slog.Warn("segment: output channel full, dropping segment")
	}
}

// StopSession emits a single manual AudioSegment covering the whole
// accumulated buffer (spec §4.2's StopSession handling), then clears it.
// Returns false if the buffer was empty (nothing emitted).
func (r *Router) StopSession() bool {
	r.mu.Lock()
	buf := r.manualBuffer
	r.manualBuffer = nil
	r.mu.Unlock()

	if len(buf) == 0 {
		return false
	}

	r.trySend(transcription.AudioSegment{
		Samples:    buf,
		StartTime:  0,
		EndTime:    float64(len(buf)) / float64(r.manualSampleRate),
		SampleRate: r.manualSampleRate,
		SessionID:  r.sessionIDOrEmpty(),
		IsManual:   true,
	})
	return true
}

// CancelSession clears the manual buffer without emitting anything.
func (r *Router) CancelSession() {
	r.mu.Lock()
	r.manualBuffer = nil
	r.mu.Unlock()
}

// ManualBufferSamples reports the current manual-buffer length, for UI level
// meters / duration display.
func (r *Router) ManualBufferSamples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.manualBuffer)
}

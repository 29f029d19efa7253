package segment

import (
	"testing"

	"github.com/0xPD33/sonori-platform/internal/transcription"
	"github.com/0xPD33/sonori-platform/internal/vad"
)

// fakeProber lets tests drive the VAD deterministically.
type fakeProber struct{ prob float32 }

func (f *fakeProber) SpeechProb(frame []float32) (float32, error) { return f.prob, nil }
func (f *fakeProber) Reset()                                      {}

func testRouter(t *testing.T, prob float32) (*Router, *fakeProber) {
	t.Helper()
	prober := &fakeProber{prob: prob}
	engine := vad.NewEngine(prober, vad.Config{
		Threshold:              0.2,
		SpeechEndThreshold:     0.15,
		FrameSize:              512,
		SampleRate:             16000,
		HangbeforeFrames:       3,
		HangoverFrames:         5,
		HopSamples:             160,
		MaxBufferDuration:      480000,
		MaxSegmentCount:        20,
		SilenceToleranceFrames: 5,
		SpeechProbSmoothing:    0.3,
	})
	r := NewRouter(engine, Config{SampleRate: 16000, MaxRecordingDurationSec: 120, SegmentChannelCap: 4})
	return r, prober
}

func TestRouteDiscardsWhenNotRecording(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	if err := r.Route(make([]float32, 512)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-r.Segments():
		t.Fatal("expected no segments while not recording")
	default:
	}
}

func TestRouteManualAccumulates(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	r.SetRecording(true)
	r.SetMode(Manual)

	if err := r.Route(make([]float32, 1000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.ManualBufferSamples(); got != 1000 {
		t.Errorf("manual buffer = %d, want 1000", got)
	}

	if !r.StopSession() {
		t.Fatal("expected StopSession to emit a segment")
	}
	select {
	case seg := <-r.Segments():
		if !seg.IsManual {
			t.Error("expected IsManual = true")
		}
		if len(seg.Samples) != 1000 {
			t.Errorf("segment samples = %d, want 1000", len(seg.Samples))
		}
	default:
		t.Fatal("expected a segment on the channel")
	}

	if got := r.ManualBufferSamples(); got != 0 {
		t.Errorf("expected buffer cleared after StopSession, got %d", got)
	}
}

func TestCancelSessionEmitsNothing(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	r.SetRecording(true)
	r.SetMode(Manual)
	r.Route(make([]float32, 500))
	r.CancelSession()

	if r.ManualBufferSamples() != 0 {
		t.Error("expected buffer cleared")
	}
	select {
	case <-r.Segments():
		t.Fatal("expected no segment after cancel")
	default:
	}
}

func TestManualBufferCapsAtMax(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	r.maxManualSamples = 100
	r.SetRecording(true)
	r.SetMode(Manual)

	r.Route(make([]float32, 60))
	r.Route(make([]float32, 60))

	if got := r.ManualBufferSamples(); got != 100 {
		t.Errorf("manual buffer = %d, want capped at 100", got)
	}
}

func TestRouteRealTimeForwardsToVAD(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	r.SetRecording(true) // default mode is RealTime

	// Feed ten frames at the fake's constant 0.9 probability: enough to pass
	// the hangbefore_frames=3 onset. No silence frames follow, so no segment
	// is expected to finalize.
	frame := make([]float32, 512)
	for i := 0; i < 10; i++ {
		if err := r.Route(frame); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	select {
	case seg := <-r.Segments():
		if seg.IsManual {
			t.Error("expected IsManual = false for real-time segment")
		}
	default:
		// Segment may not have finalized yet without a silence tail; not a
		// failure in itself, this path just exercises forwarding.
	}
}

func TestSwitchModeResetsState(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	r.SetRecording(true)
	r.SetMode(Manual)
	r.Route(make([]float32, 500))

	r.SetMode(RealTime)

	if r.ManualBufferSamples() != 0 {
		t.Error("expected manual buffer cleared on mode switch")
	}
	if r.Mode() != RealTime {
		t.Error("expected mode to be RealTime")
	}
}

func TestDroppedSegmentsCounted(t *testing.T) {
	r, _ := testRouter(t, 0.9)
	for i := 0; i < 10; i++ {
		r.trySend(transcription.AudioSegment{Samples: []float32{0}})
	}
	if r.DroppedSegments() == 0 {
		t.Error("expected some drops once channel capacity (4) is exceeded")
	}
}

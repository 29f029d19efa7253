package vad

import "testing"

// scriptedProber returns a fixed sequence of probabilities, one per call to
// SpeechProb, repeating the last value once exhausted. This lets tests drive
// the state machine deterministically without an ONNX model.
type scriptedProber struct {
	probs []float32
	idx   int
}

func (p *scriptedProber) SpeechProb(frame []float32) (float32, error) {
	if p.idx >= len(p.probs) {
		return p.probs[len(p.probs)-1], nil
	}
	v := p.probs[p.idx]
	p.idx++
	return v, nil
}

func (p *scriptedProber) Reset() { p.idx = 0 }

func testConfig() Config {
	return Config{
		Threshold:              0.20,
		SpeechEndThreshold:     0.15,
		FrameSize:              512,
		SampleRate:             16000,
		HangbeforeFrames:       3,
		HangoverFrames:         20,
		HopSamples:             160,
		MaxBufferDuration:      480000,
		MaxSegmentCount:        20,
		SilenceToleranceFrames: 5,
		SpeechProbSmoothing:    0.3,
	}
}

func zeros(n int) []float32 { return make([]float32, n) }

// TestSilenceOnly is scenario S1: 3s of zero samples at 16kHz yields no
// segments.
func TestSilenceOnly(t *testing.T) {
	prober := &scriptedProber{probs: []float32{0.0}}
	engine := NewEngine(prober, testConfig())

	samples := zeros(16000 * 3)
	segments, err := engine.ProcessAudio(samples)
	if err != nil {
		t.Fatalf("ProcessAudio error: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("expected 0 segments, got %d", len(segments))
	}
	if engine.IsSpeaking() {
		t.Error("expected not speaking")
	}
}

// TestOscillationRejection is scenario S3: a probability trace oscillating in
// [speech_end_threshold, threshold] reaches PossibleSpeech but never Speech,
// and emits no segment. This also exercises P2 (hysteresis).
func TestOscillationRejection(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 0.20
	cfg.SpeechEndThreshold = 0.15
	prober := &scriptedProber{probs: []float32{0.25, 0.18, 0.25, 0.18, 0.25}}
	engine := NewEngine(prober, cfg)

	// Drive exactly 5 frames (one per scripted probability) via 5 hops.
	// ProcessFrame is called directly: ProcessAudio would also run a
	// trailing partial frame on each call.
	frame := make([]float32, cfg.FrameSize)
	for i := 0; i < len(prober.probs); i++ {
		if err := engine.ProcessFrame(frame, cfg.HopSamples); err != nil {
			t.Fatalf("ProcessFrame error: %v", err)
		}
	}

	if engine.CurrentState() == Speech {
		t.Errorf("expected state to never reach Speech, got %v", engine.CurrentState())
	}
}

// TestHysteresisNeverExitsEarly is P2: oscillating strictly between the two
// thresholds after entering PossibleSpeech must not drop to Silence before
// silence_tolerance_frames consecutive low readings.
func TestHysteresisNeverExitsEarly(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceToleranceFrames = 5

	// One onset frame above threshold, then 4 frames in the dead zone
	// (between speech_end_threshold and threshold) -- should remain
	// PossibleSpeech, never fall back to Silence, since tolerance is 5.
	probs := []float32{0.25, 0.18, 0.18, 0.18, 0.18}
	prober := &scriptedProber{probs: probs}
	engine := NewEngine(prober, cfg)

	frame := make([]float32, cfg.FrameSize)
	for range probs {
		if err := engine.ProcessFrame(frame, cfg.HopSamples); err != nil {
			t.Fatalf("ProcessFrame error: %v", err)
		}
	}

	if engine.CurrentState() == Silence {
		t.Error("expected state to remain non-Silence under dead-zone oscillation within tolerance")
	}
}

// TestPreRollBounded is P3: every emitted segment's start_time is >= 0 and
// sample count is bounded relative to (end_time - start_time + 0.1) * sample_rate.
func TestPreRollBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HangbeforeFrames = 1
	cfg.HangoverFrames = 3
	cfg.SilenceToleranceFrames = 2

	// Sustained high probability for many frames (speech), then sustained low
	// (silence) to finalize a segment.
	probs := make([]float32, 0, 60)
	for i := 0; i < 30; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < 30; i++ {
		probs = append(probs, 0.01)
	}
	prober := &scriptedProber{probs: probs}
	engine := NewEngine(prober, cfg)

	frame := make([]float32, cfg.FrameSize)
	var segments []Segment
	for range probs {
		got, err := engine.ProcessAudio(frame)
		if err != nil {
			t.Fatalf("ProcessAudio error: %v", err)
		}
		segments = append(segments, got...)
	}

	if len(segments) == 0 {
		t.Fatal("expected at least one finalized segment")
	}
	for _, seg := range segments {
		if seg.StartTime < 0 {
			t.Errorf("segment start_time < 0: %v", seg.StartTime)
		}
		maxSamples := int((seg.EndTime-seg.StartTime+0.1)*float64(cfg.SampleRate)) + 16
		if len(seg.Samples) > maxSamples {
			t.Errorf("segment has %d samples, want <= %d (bounds: [%v,%v])", len(seg.Samples), maxSamples, seg.StartTime, seg.EndTime)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	prober := &scriptedProber{probs: []float32{0.9}}
	engine := NewEngine(prober, testConfig())

	frame := make([]float32, 512)
	for i := 0; i < 10; i++ {
		engine.ProcessAudio(frame)
	}
	engine.Reset()

	if engine.CurrentState() != Silence {
		t.Errorf("expected Silence after reset, got %v", engine.CurrentState())
	}
	if engine.IsSpeaking() {
		t.Error("expected not speaking after reset")
	}
}

func TestProcessAudioEmptyInput(t *testing.T) {
	prober := &scriptedProber{probs: []float32{0.0}}
	engine := NewEngine(prober, testConfig())

	segments, err := engine.ProcessAudio(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if segments != nil {
		t.Errorf("expected nil segments for empty input, got %v", segments)
	}
}

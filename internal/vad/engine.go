package vad

// SpeechProber is the minimal interface Engine needs from Model, so tests can
// substitute a deterministic fake without loading an ONNX file.
type SpeechProber interface {
	SpeechProb(frame []float32) (float32, error)
	Reset()
}

// Engine is the streaming VAD state machine described in spec §4.1. It is
// owned exclusively by one goroutine (the SegmentRouter's real-time path);
// all methods are unsynchronized by design.
type Engine struct {
	model  SpeechProber
	config Config

	// frame assembly: raw samples not yet consumed into a full frame.
	inputBuffer []float32

	// long raw-sample buffer used for segment extraction.
	sampleBuffer []float32

	speeches []Segment

	state          State
	framesInState  int
	silenceFrames  int
	currentTime    float64
	timeOffset     float64
	speechStart    float64
	hasSpeechStart bool
	smoothedProb   float32

	frameCounter         int
	bufferCheckInterval  int
	samplesSinceTrim     int
	trimThreshold        int
}

// NewEngine constructs an Engine around an already-loaded speech-probability
// model. frame_size/hop/thresholds come from Config; see config.ResolvedVAD.
func NewEngine(model SpeechProber, cfg Config) *Engine {
	return &Engine{
		model:               model,
		config:              cfg,
		inputBuffer:         make([]float32, 0, cfg.FrameSize*2),
		sampleBuffer:        make([]float32, 0, cfg.MaxBufferDuration),
		speeches:            make([]Segment, 0, cfg.MaxSegmentCount),
		state:               Silence,
		bufferCheckInterval: 30,
		trimThreshold:       cfg.FrameSize * 60,
	}
}

// Reset clears all buffers, returns to Silence, and zeros time counters and
// the model's recurrent state.
func (e *Engine) Reset() {
	e.model.Reset()
	e.inputBuffer = e.inputBuffer[:0]
	e.sampleBuffer = e.sampleBuffer[:0]
	e.speeches = e.speeches[:0]
	e.state = Silence
	e.framesInState = 0
	e.silenceFrames = 0
	e.currentTime = 0
	e.timeOffset = 0
	e.hasSpeechStart = false
	e.smoothedProb = 0
	e.frameCounter = 0
	e.samplesSinceTrim = 0
}

// IsSpeaking reports whether the engine currently believes speech is active
// (Speech or PossibleSpeech).
func (e *Engine) IsSpeaking() bool {
	return e.state == Speech || e.state == PossibleSpeech
}

// CurrentState returns the engine's current phase.
func (e *Engine) CurrentState() State { return e.state }

// ProcessAudio appends samples, runs as many full frames as possible (sliding
// window advanced by hop_samples), processes a trailing partial frame if it
// is large enough, and returns any segments finalized during the call. See
// spec §4.1 and P1 (partition-independence up to trim boundaries).
func (e *Engine) ProcessAudio(samples []float32) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	frameSize := e.config.FrameSize
	hopSamples := e.config.HopSamples
	if hopSamples <= 0 {
		hopSamples = 1
	}

	e.inputBuffer = append(e.inputBuffer, samples...)

	frame := make([]float32, frameSize)
	for len(e.inputBuffer) >= frameSize {
		copy(frame, e.inputBuffer[:frameSize])

		hop := hopSamples
		if hop > len(frame) {
			hop = len(frame)
		}
		if err := e.ProcessFrame(frame, hop); err != nil {
			return nil, err
		}

		drain := hop
		if drain > len(e.inputBuffer) {
			drain = len(e.inputBuffer)
		}
		e.inputBuffer = e.inputBuffer[drain:]
	}

	// Trailing partial frame: only process if it carries at least 1/8 of a
	// frame (64 samples @ frame_size=512) to avoid excessive CPU overhead on
	// tiny leftovers, matching the original's partial_threshold.
	partialThreshold := frameSize / 8
	if len(e.inputBuffer) > 0 && len(e.inputBuffer) >= partialThreshold {
		for i := range frame {
			frame[i] = 0
		}
		remaining := len(e.inputBuffer)
		copy(frame, e.inputBuffer)
		if err := e.ProcessFrame(frame, remaining); err != nil {
			return nil, err
		}
		e.inputBuffer = e.inputBuffer[:0]
	}

	// Proactive trim: once enough new samples have landed since the last
	// trim, and the buffer has grown past 75% of its cap, shrink to 50%.
	if e.samplesSinceTrim >= e.trimThreshold {
		e.samplesSinceTrim = 0
		maxBuffer := e.config.MaxBufferDuration
		currentSize := len(e.sampleBuffer)
		if currentSize > maxBuffer*3/4 {
			targetSize := maxBuffer / 2
			excess := currentSize - targetSize
			timeTrimmed := float64(excess) / float64(e.config.SampleRate)
			newOffset := e.timeOffset + timeTrimmed
			e.trimBuffer(excess, newOffset)
		}
	}

	if len(e.speeches) == 0 {
		return nil, nil
	}
	out := e.speeches
	e.speeches = make([]Segment, 0, e.config.MaxSegmentCount)
	return out, nil
}

// ProcessFrame runs the model on exactly one frame, applies EMA smoothing,
// advances time by hop, appends the new tail to the long sample buffer, and
// advances the state machine. Exported so chunker's pause-point finder can
// drive a second Engine instance frame-by-frame, mirroring find_pause_points'
// direct use of process_frame. ProcessAudio uses it internally too.
func (e *Engine) ProcessFrame(frame []float32, hop int) error {
	rawProb, err := e.model.SpeechProb(frame)
	if err != nil {
		return err
	}

	alpha := e.config.SpeechProbSmoothing
	e.smoothedProb = alpha*rawProb + (1-alpha)*e.smoothedProb

	e.updateState(rawProb, e.smoothedProb)

	effectiveHop := hop
	if len(e.sampleBuffer) == 0 {
		effectiveHop = len(frame)
	}
	if effectiveHop > len(frame) {
		effectiveHop = len(frame)
	}

	e.currentTime += float64(effectiveHop) / float64(e.config.SampleRate)

	startIdx := len(frame) - effectiveHop
	if startIdx < 0 {
		startIdx = 0
	}
	e.sampleBuffer = append(e.sampleBuffer, frame[startIdx:]...)
	e.samplesSinceTrim += effectiveHop

	e.frameCounter++
	if e.frameCounter >= e.bufferCheckInterval {
		e.frameCounter = 0
		e.trimBufferIfNeeded()
	}

	return nil
}

// updateState advances the state machine per spec §4.1's table. Detection
// uses raw probability for fast onset (state == Silence) and smoothed
// probability everywhere else for noise robustness (asymmetric smoothing).
func (e *Engine) updateState(rawProb, smoothedProb float32) {
	threshold := e.config.Threshold
	speechEndThreshold := e.config.SpeechEndThreshold

	detectionProb := smoothedProb
	if e.state == Silence {
		detectionProb = rawProb
	}

	isStartingSpeech := detectionProb > threshold
	isContinuingSpeech := detectionProb > speechEndThreshold

	switch e.state {
	case Silence:
		if isStartingSpeech {
			e.state = PossibleSpeech
			e.framesInState = 1
		}

	case PossibleSpeech:
		if isStartingSpeech {
			e.framesInState++
			e.silenceFrames = 0

			if e.framesInState >= e.config.HangbeforeFrames {
				hop := e.config.HopSamples
				if hop < 1 {
					hop = 1
				}
				frameSamples := e.config.FrameSize
				var totalSamples int
				if e.config.HangbeforeFrames == 0 {
					totalSamples = 0
				} else {
					totalSamples = frameSamples + (e.config.HangbeforeFrames-1)*hop
				}
				framesToTime := float64(totalSamples) / float64(e.config.SampleRate)
				startTime := e.currentTime - framesToTime
				if startTime < 0 {
					startTime = 0
				}
				e.speechStart = startTime
				e.hasSpeechStart = true
				e.state = Speech
				e.framesInState = 0
			}
		} else if isContinuingSpeech {
			e.silenceFrames = 0
		} else {
			e.silenceFrames++
			if e.silenceFrames >= e.config.SilenceToleranceFrames {
				e.state = Silence
				e.framesInState = 0
				e.silenceFrames = 0
			}
		}

	case Speech:
		if !isContinuingSpeech {
			e.state = PossibleSilence
			e.framesInState = 1
		}

	case PossibleSilence:
		if !isContinuingSpeech {
			e.framesInState++
			if e.framesInState >= e.config.HangoverFrames {
				e.state = Silence
				e.framesInState = 0
				e.finalizeSpeechSegment()
			}
		} else {
			e.state = Speech
			e.framesInState = 0
		}
	}
}

// finalizeSpeechSegment closes out the open speech region when transitioning
// PossibleSilence -> Silence, appending to speeches (capped at
// max_segment_count, dropping the oldest on overflow).
func (e *Engine) finalizeSpeechSegment() {
	if !e.hasSpeechStart {
		return
	}
	startTime := e.speechStart
	e.hasSpeechStart = false

	samples := e.extractSpeechSegment(startTime, e.currentTime)
	if len(samples) == 0 {
		return
	}

	segment := Segment{
		Samples:    samples,
		StartTime:  startTime,
		EndTime:    e.currentTime,
		SampleRate: e.config.SampleRate,
	}
	e.appendSpeech(segment)
}

func (e *Engine) appendSpeech(segment Segment) {
	e.speeches = append(e.speeches, segment)
	if len(e.speeches) > e.config.MaxSegmentCount {
		e.speeches = e.speeches[1:]
	}
}

// extractSpeechSegment pulls samples from the long buffer, adding a 100ms
// pre-roll before startTime (asymmetric: no extra padding after endTime,
// since hangover_frames already provides trailing context). Mirrors
// extract_speech_segment.
func (e *Engine) extractSpeechSegment(startTime, endTime float64) []float32 {
	const contextDuration = 0.1 // 100ms pre-roll
	sampleRateF := float64(e.config.SampleRate)

	adjustedStart := startTime - e.timeOffset - contextDuration
	if adjustedStart < 0 {
		adjustedStart = 0
	}
	adjustedEnd := endTime - e.timeOffset
	if adjustedEnd < 0 {
		adjustedEnd = 0
	}

	toIdx := func(t float64) int { return int(t * sampleRateF) }

	startIdx := toIdx(adjustedStart)
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx > len(e.sampleBuffer) {
		startIdx = len(e.sampleBuffer)
	}

	endIdx := toIdx(adjustedEnd)
	if endIdx > len(e.sampleBuffer) {
		endIdx = len(e.sampleBuffer)
	}

	if startIdx >= endIdx || startIdx >= len(e.sampleBuffer) {
		return nil
	}

	out := make([]float32, endIdx-startIdx)
	copy(out, e.sampleBuffer[startIdx:endIdx])
	return out
}

func (e *Engine) trimBufferIfNeeded() {
	if len(e.sampleBuffer) <= e.config.MaxBufferDuration {
		return
	}
	excess := len(e.sampleBuffer) - e.config.MaxBufferDuration
	timeTrimmed := float64(excess) / float64(e.config.SampleRate)
	newOffset := e.timeOffset + timeTrimmed
	e.trimBuffer(excess, newOffset)
}

// trimBuffer drops trimSamples from the front of the buffer, advancing
// timeOffset. If an open speech region's start now precedes the new offset,
// it is closed at the new offset and a new region continues from there —
// this is the "segment whose bounds cross a trim event" case P1 carves out.
func (e *Engine) trimBuffer(trimSamples int, newTimeOffset float64) {
	if trimSamples <= 0 {
		return
	}

	if e.hasSpeechStart && e.speechStart < newTimeOffset {
		samples := e.extractSpeechSegment(e.speechStart, newTimeOffset)
		if len(samples) > 0 {
			e.appendSpeech(Segment{
				Samples:    samples,
				StartTime:  e.speechStart,
				EndTime:    newTimeOffset,
				SampleRate: e.config.SampleRate,
			})
		}
		e.speechStart = newTimeOffset
	}

	if trimSamples > len(e.sampleBuffer) {
		trimSamples = len(e.sampleBuffer)
	}
	e.sampleBuffer = e.sampleBuffer[trimSamples:]
	e.timeOffset = newTimeOffset
}

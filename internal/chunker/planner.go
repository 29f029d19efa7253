// Package chunker implements ChunkPlanner: splitting an oversized manual
// AudioSegment into model-sized chunks at natural pauses, with a time-based
// fallback. Grounded on transcription_processor.rs's find_pause_points /
// build_vad_guided_chunks / extract_prompt_context (spec §4.3).
package chunker

import (
	"log/slog"
	"strings"

	"github.com/0xPD33/sonori-platform/internal/vad"
)

// Range is a half-open sample index range [Start, End) within one segment.
type Range struct {
	Start int
	End   int
}

// Chunk is one planned slice of a manual segment, with the prompt context
// carried forward from the previous chunk's transcription (spec §4.3.4).
type Chunk struct {
	Range  Range
	Prompt string // empty if this is the first chunk or no text preceded it
}

const (
	minPauseDurationMs  = 300
	promptContextWords  = 30
	minChunkSeconds     = 2
	mergeMaxSeconds     = 45
)

// PauseDetectionConfig returns the VAD tuning dedicated to pause-finding:
// a higher threshold and shorter hangover than the main real-time engine, so
// pause boundaries are cleaner and detected faster. totalSamples sizes the
// buffer cap so the whole recording fits in one unbroken pass (mirrors
// `max_buffer_duration: samples.len() + 1024`). See SPEC_FULL §12.
func PauseDetectionConfig(sampleRate, totalSamples int) vad.Config {
	return vad.Config{
		Threshold:              0.3,
		SpeechEndThreshold:     0.2,
		FrameSize:              512,
		SampleRate:             sampleRate,
		HangbeforeFrames:       3,
		HangoverFrames:         15,
		HopSamples:             160,
		MaxBufferDuration:      totalSamples + 1024,
		MaxSegmentCount:        1000,
		SilenceToleranceFrames: 3,
		SpeechProbSmoothing:    0.3,
	}
}

// FindPausePoints runs a dedicated Engine over the full manual recording and
// returns sample indices at the midpoint of every silence run of at least
// 300ms. model should be freshly Reset (or a new instance) so its recurrent
// state doesn't carry over from real-time use.
func FindPausePoints(model vad.SpeechProber, samples []float32, sampleRate int) ([]int, error) {
	cfg := PauseDetectionConfig(sampleRate, len(samples))
	model.Reset()

	minPauseSamples := (sampleRate * minPauseDurationMs) / 1000
	frameSize := cfg.FrameSize
	hopSamples := cfg.HopSamples

	engine := vad.NewEngine(model, cfg)

	var pausePoints []int
	wasSpeaking := false
	pauseStart := -1
	currentSample := 0

	frame := make([]float32, frameSize)
	bufferPos := 0

	recordTransition := func(isSpeaking bool) {
		if wasSpeaking && !isSpeaking {
			pauseStart = currentSample
		}
		if !wasSpeaking && isSpeaking && pauseStart >= 0 {
			pauseDuration := currentSample - pauseStart
			if pauseDuration >= minPauseSamples {
				pausePoints = append(pausePoints, pauseStart+pauseDuration/2)
			}
			pauseStart = -1
		}
		wasSpeaking = isSpeaking
	}

	for _, sample := range samples {
		frame[bufferPos] = sample
		bufferPos++

		if bufferPos >= frameSize {
			if err := engine.ProcessFrame(frame, hopSamples); err != nil {
				return nil, err
			}
			isSpeaking := engine.IsSpeaking()
			recordTransition(isSpeaking)

			copy(frame, frame[hopSamples:])
			bufferPos = frameSize - hopSamples
			currentSample += hopSamples
		}
	}

	if pauseStart >= 0 {
		pauseDuration := currentSample - pauseStart
		if pauseDuration >= minPauseSamples {
			pausePoints = append(pausePoints, pauseStart+pauseDuration/2)
		}
	}

	return pausePoints, nil
}

// BuildChunks greedily consumes up to maxChunkSamples per chunk, preferring
// the latest pause point that leaves at least 2s already consumed; falls
// back to a hard cut at the window end. A trailing chunk shorter than 2s is
// merged into its predecessor if the merge stays within 45s. Mirrors
// build_vad_guided_chunks.
func BuildChunks(totalLen, maxChunkSamples int, pausePoints []int, sampleRate int) []Range {
	if totalLen <= 0 {
		return nil
	}
	minChunkSamples := sampleRate * minChunkSeconds

	var ranges []Range
	startIdx := 0

	for startIdx < totalLen {
		remaining := totalLen - startIdx
		if remaining <= maxChunkSamples {
			ranges = append(ranges, Range{startIdx, totalLen})
			break
		}

		maxEnd := startIdx + maxChunkSamples
		bestPause := -1
		for _, p := range pausePoints {
			if p > startIdx+minChunkSamples && p <= maxEnd && p > bestPause {
				bestPause = p
			}
		}

		endIdx := maxEnd
		if bestPause >= 0 {
			endIdx = bestPause
		} else if maxEnd > totalLen {
			endIdx = totalLen
		}

		ranges = append(ranges, Range{startIdx, endIdx})
		startIdx = endIdx
	}

	if len(ranges) > 1 {
		last := ranges[len(ranges)-1]
		lastLen := last.End - last.Start
		if lastLen < minChunkSamples {
			prev := &ranges[len(ranges)-2]
			mergedLen := last.End - prev.Start
			if mergedLen <= sampleRate*mergeMaxSeconds {
				prev.End = last.End
				ranges = ranges[:len(ranges)-1]
			}
		}
	}

	return ranges
}

// Plan combines FindPausePoints and BuildChunks, attaching prompt context
// placeholders (the actual prompt text is threaded through by the caller as
// each chunk's transcription completes, since it depends on prior output).
// If pause detection fails or finds nothing, logs and falls back to
// time-based chunking (bestPause stays unset in BuildChunks).
func Plan(model vad.SpeechProber, samples []float32, sampleRate int, maxChunkSamples int) []Chunk {
	pausePoints, err := FindPausePoints(model, samples, sampleRate)
	if err != nil {
		slog.Warn("chunker: pause detection failed, falling back to time-based chunking", "error", err)
		pausePoints = nil
	} else if len(pausePoints) == 0 {
		slog.Debug("chunker: no natural pauses detected, using time-based chunking")
	}

	ranges := BuildChunks(len(samples), maxChunkSamples, pausePoints, sampleRate)
	chunks := make([]Chunk, len(ranges))
	for i, r := range ranges {
		chunks[i] = Chunk{Range: r}
	}
	return chunks
}

// ExtractPromptContext returns the last maxWords words of text, for use as an
// initial_prompt offered to the next chunk (Whisper-family backends only;
// others ignore it). Mirrors extract_prompt_context.
func ExtractPromptContext(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}

// PromptContextWords is the fixed word-window used for chunk continuity.
const PromptContextWords = promptContextWords

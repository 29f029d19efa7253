// Package worker implements TranscriptionWorker: the long-lived task that
// drains the segment channel, dispatches to the currently loaded backend, and
// broadcasts post-processed results. Grounded on
// transcription_processor.rs's TranscriptionProcessor (start/process_segment/
// transcribe_segment/process_large_manual_segment), adapted to Go's
// goroutine + channel idiom in place of tokio tasks (spec §4.10).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/0xPD33/sonori-platform/internal/chunker"
	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
	"github.com/0xPD33/sonori-platform/internal/vad"
)

// BackendSnapshotter exposes the registry's loaded backend without coupling
// the worker to registry's reload machinery.
type BackendSnapshotter interface {
	Snapshot() (transcription.Backend, bool)
}

// Stats accumulates segment/inference timing behind a try-lock, matching
// spec §4.10's "contention simply skips a sample".
type Stats struct {
	mu                  sync.Mutex
	SegmentCount        int64
	TotalSegmentSeconds float64
	TotalInferSeconds   float64
}

func (s *Stats) update(segmentSeconds, inferSeconds float64) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	s.SegmentCount++
	s.TotalSegmentSeconds += segmentSeconds
	s.TotalInferSeconds += inferSeconds
}

// RealTimeFactor returns inference-time / audio-time, or 0 if no audio has
// been processed yet.
func (s *Stats) RealTimeFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TotalSegmentSeconds == 0 {
		return 0
	}
	return s.TotalInferSeconds / s.TotalSegmentSeconds
}

// Worker drains segments, transcribes them, and publishes Messages.
type Worker struct {
	registry    BackendSnapshotter
	segments    <-chan transcription.AudioSegment
	publish     func(transcription.Message)
	postCfg     config.PostProcessConfig
	manualCfg   config.ManualConfig
	pauseModel  vad.SpeechProber // fresh model instance for chunker's second VAD pass; nil disables pause-aware chunking
	language    string
	stats       *Stats
	running     func() bool
}

// Config bundles the knobs Worker needs beyond its channel/registry wiring.
type Config struct {
	Language string
	Post     config.PostProcessConfig
	Manual   config.ManualConfig
}

// New constructs a Worker. pauseModel may be nil, in which case oversized
// manual segments fall back to pure time-based chunking (no pause detection).
func New(registry BackendSnapshotter, segments <-chan transcription.AudioSegment, publish func(transcription.Message), pauseModel vad.SpeechProber, cfg Config, running func() bool) *Worker {
	return &Worker{
		registry:   registry,
		segments:   segments,
		publish:    publish,
		postCfg:    cfg.Post,
		manualCfg:  cfg.Manual,
		pauseModel: pauseModel,
		language:   cfg.Language,
		stats:      &Stats{},
		running:    running,
	}
}

// Stats exposes the shared stats accumulator for status reporting.
func (w *Worker) Stats() *Stats { return w.stats }

// Run processes segments until ctx is canceled. Per spec §4.10, on shutdown
// (running() becomes false) it drains any already-queued segments before
// exiting — no in-flight segment is lost.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker: transcription task started")
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case segment, ok := <-w.segments:
			if !ok {
				return
			}
			w.processSegment(segment)
			if !w.running() {
				w.drain()
				return
			}
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case segment, ok := <-w.segments:
			if !ok {
				return
			}
			w.processSegment(segment)
		default:
			return
		}
	}
}

func (w *Worker) processSegment(segment transcription.AudioSegment) {
	start := time.Now()
	if segment.IsManual {
		w.transcribeManual(segment)
		slog.Debug("worker: segment processed", "duration", time.Since(start), "manual", true)
		return
	}

	text := w.transcribeOne(segment, "")
	if strings.TrimSpace(text) == "" {
		return
	}

	w.publish(transcription.Message{Text: text, SessionID: segment.SessionID})
	slog.Debug("worker: segment processed", "duration", time.Since(start), "manual", false)
}

// transcribeOne dispatches one segment to the loaded backend snapshot,
// applying post-processing. initialPrompt is offered for chunk continuity;
// backends that don't accept one ignore it via CommonOptions.InitialPrompt.
func (w *Worker) transcribeOne(segment transcription.AudioSegment, initialPrompt string) string {
	backend, ready := w.registry.Snapshot()
	if !ready || backend == nil {
		return "[backend not available]"
	}

	segmentSeconds := segment.EndTime - segment.StartTime
	inferStart := time.Now()

	result, err := backend.Transcribe(segment.Samples, segment.SampleRate, transcription.CommonOptions{
		Language:      w.language,
		InitialPrompt: initialPrompt,
	})

	inferSeconds := time.Since(inferStart).Seconds()
	w.stats.update(segmentSeconds, inferSeconds)

	if err != nil {
		slog.Error("worker: transcription error", "error", err)
		return fmt.Sprintf("[transcription error: %s]", err)
	}

	return transcription.PostProcess(result, w.postCfg)
}

// transcribeManual implements spec §4.3: a manual segment shorter than the
// chunk threshold transcribes and publishes directly; an oversized one is
// split via chunker.Plan and each chunk is transcribed and published as its
// own Message, in order, sharing the segment's session_id, with prompt
// continuity carried from the previous chunk's text (spec scenario S4).
func (w *Worker) transcribeManual(segment transcription.AudioSegment) {
	duration := segment.EndTime - segment.StartTime
	if duration < w.manualCfg.ChunkDurationSeconds {
		text := w.transcribeOne(segment, "")
		if strings.TrimSpace(text) != "" {
			w.publish(transcription.Message{Text: text, SessionID: segment.SessionID})
		}
		return
	}

	maxChunkSamples := int(w.manualCfg.ChunkDurationSeconds * float64(segment.SampleRate))

	var chunks []chunker.Chunk
	if w.pauseModel != nil {
		chunks = chunker.Plan(w.pauseModel, segment.Samples, segment.SampleRate, maxChunkSamples)
	} else {
		ranges := chunker.BuildChunks(len(segment.Samples), maxChunkSamples, nil, segment.SampleRate)
		chunks = make([]chunker.Chunk, len(ranges))
		for i, r := range ranges {
			chunks[i] = chunker.Chunk{Range: r}
		}
	}

	previousText := ""
	for i, c := range chunks {
		chunkSegment := transcription.AudioSegment{
			Samples:    segment.Samples[c.Range.Start:c.Range.End],
			StartTime:  segment.StartTime + float64(c.Range.Start)/float64(segment.SampleRate),
			EndTime:    segment.StartTime + float64(c.Range.End)/float64(segment.SampleRate),
			SampleRate: segment.SampleRate,
			SessionID:  segment.SessionID,
			IsManual:   true,
		}

		prompt := ""
		if previousText != "" {
			prompt = chunker.ExtractPromptContext(previousText, chunker.PromptContextWords)
		}

		text := strings.TrimSpace(w.transcribeOne(chunkSegment, prompt))
		if text != "" {
			w.publish(transcription.Message{Text: text, SessionID: segment.SessionID})
			previousText = text
		}
		slog.Debug("worker: manual chunk processed", "index", i, "of", len(chunks))
	}
}

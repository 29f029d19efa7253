// Package whispercpp implements the WhisperCpp transcription.Backend variant
// (spec §4.5): a loaded GGML Whisper model from which each Transcribe call
// creates a fresh decoding context (no decoding state is reused across
// calls), wrapped behind a per-session mutex since whisper.cpp is not
// reentrant.
// Grounded on MrWong99-glyphoxa's pkg/provider/stt/whisper/native.go, which
// wraps the same github.com/ggerganov/whisper.cpp/bindings/go package; unlike
// that provider's silence-triggered streaming sessions, this backend is
// called once per already-VAD-bounded AudioSegment; there is no internal
// buffering to do.
//
// native.go only exercises Model.NewContext, Context.SetLanguage, and
// Context.Process/NextSegment — beam size, temperature, initial prompt, and
// thread count have no confirmed binding call anywhere in the example pack,
// so they are accepted on CommonOptions/BackendConfig for interface
// uniformity but not threaded into the context.
package whispercpp

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Backend wraps a loaded GGML model and a mutex guarding decode state, since
// whisper.cpp's Context is not safe for concurrent Process calls.
type Backend struct {
	model   whisperlib.Model
	mu      sync.Mutex
	threads int
	gpu     bool
}

// New loads a GGML Whisper model file (spec §6: single
// ggml-{model}{-q8_0|-q5_1|}.bin file).
func New(modelPath string, cfg config.BackendConfig) (*Backend, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, transcription.Wrapf(err, transcription.ModelNotAvailable, "whispercpp: load model %q", modelPath)
	}

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}

	return &Backend{
		model:   model,
		threads: threads,
		gpu:     cfg.GPUEnabled,
	}, nil
}

// Transcribe implements transcription.Backend. Each call opens a fresh
// Context so no decode state leaks across segments (spec §4.5).
func (b *Backend) Transcribe(samples []float32, sampleRate int, opts transcription.CommonOptions) (string, error) {
	if sampleRate != 16000 {
		return "", transcription.Newf(transcription.InvalidAudio, "whispercpp: expected 16kHz audio, got %d", sampleRate)
	}
	if len(samples) == 0 {
		return "", transcription.New(transcription.InvalidAudio, "whispercpp: empty segment")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "whispercpp: create context")
	}

	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return "", transcription.Wrapf(err, transcription.UnsupportedLanguage, "whispercpp: language %q", opts.Language)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "whispercpp: process audio")
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", transcription.Wrap(err, transcription.InferenceError, "whispercpp: read segment")
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Capabilities implements transcription.Backend.
func (b *Backend) Capabilities() transcription.Capabilities {
	return transcription.Capabilities{
		Name:                  "whispercpp",
		SupportsStreaming:     false,
		GPUAvailable:          b.gpu,
		SupportsInitialPrompt: false,
	}
}

// Close releases the underlying GGML model.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model == nil {
		return nil
	}
	err := b.model.Close()
	b.model = nil
	if err != nil {
		return fmt.Errorf("whispercpp: close model: %w", err)
	}
	return nil
}

// Package config handles platform configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendKind identifies which acoustic-model backend is loaded.
type BackendKind string

const (
	BackendCT2        BackendKind = "ct2"
	BackendWhisperCpp BackendKind = "whispercpp"
	BackendMoonshine  BackendKind = "moonshine"
	BackendParakeet   BackendKind = "parakeet"
)

// QuantizationLevel maps to each backend's native compute type.
type QuantizationLevel string

const (
	QuantHigh   QuantizationLevel = "high"
	QuantMedium QuantizationLevel = "medium"
	QuantLow    QuantizationLevel = "low"
)

// Config is the top-level, nested configuration for the platform. It is
// loaded once at startup and passed by value/pointer to every component.
type Config struct {
	Server  ServerConfig
	Audio   AudioConfig
	VAD     VADConfig
	Manual  ManualConfig
	Backend BackendConfig
	Post    PostProcessConfig
}

// ServerConfig controls the HTTP/WebSocket delivery surface.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitPerMin int
}

// AudioConfig controls capture and real-time segmentation.
type AudioConfig struct {
	SampleRate           int
	CaptureSystemAudio   bool
	ExcludedAudioDevices []string
	MaxBufferDurationSec float64
	MaxSegmentCount      int
	SegmentChannelBuffer int
	FrameChannelBuffer   int
}

// VADSensitivity is a coarse user-facing knob mapped to threshold pairs.
type VADSensitivity string

const (
	VADSensitivityLow    VADSensitivity = "low"
	VADSensitivityMedium VADSensitivity = "medium"
	VADSensitivityHigh   VADSensitivity = "high"
)

// Thresholds returns (threshold, speech_end_threshold) for the sensitivity.
func (s VADSensitivity) Thresholds() (float32, float32) {
	switch s {
	case VADSensitivityLow:
		return 0.35, 0.28
	case VADSensitivityHigh:
		return 0.12, 0.09
	default:
		return 0.20, 0.15
	}
}

// VADConfig configures the real-time VAD state machine. See spec §3/§4.1.
type VADConfig struct {
	Sensitivity           VADSensitivity
	FrameSize             int
	HopSamples            int
	HangbeforeFrames      int
	HangoverFrames        int
	SilenceToleranceFrames int
	SpeechProbSmoothing   float32
	ModelPath             string

	// PauseDetection holds the pause-finding VAD tuning for long manual
	// recordings. ChunkPlanner does not read this field: it builds the same
	// values itself in chunker.PauseDetectionConfig.
	// See SPEC_FULL §12 "dedicated pause-detection VAD tuning".
	PauseDetection PauseDetectionVadConfig
}

// PauseDetectionVadConfig describes the second VAD pass ChunkPlanner runs
// over a full manual recording to find candidate cut points. Distinct from
// the real-time VADConfig: a higher threshold and shorter hangover give
// cleaner, faster-detected pause boundaries.
type PauseDetectionVadConfig struct {
	Threshold      float32
	HangoverFrames int
	MinPauseMs     int
}

// Resolve derives the internal VadConfig (threshold pair, buffer sizes) from
// the sensitivity knob and sample rate, mirroring the original's
// VadConfigSerde -> VadConfig conversion.
func (c VADConfig) Resolve(sampleRate int, maxBufferDurationSec float64, maxSegmentCount int) ResolvedVAD {
	threshold, speechEnd := c.Sensitivity.Thresholds()
	hop := c.HopSamples
	if hop <= 0 {
		hop = int(float64(sampleRate) * 0.01)
	}
	return ResolvedVAD{
		Threshold:              threshold,
		SpeechEndThreshold:     speechEnd,
		FrameSize:              c.FrameSize,
		HopSamples:             hop,
		SampleRate:             sampleRate,
		HangbeforeFrames:       c.HangbeforeFrames,
		HangoverFrames:         c.HangoverFrames,
		SilenceToleranceFrames: c.SilenceToleranceFrames,
		SpeechProbSmoothing:    c.SpeechProbSmoothing,
		MaxBufferDuration:      int(maxBufferDurationSec * float64(sampleRate)),
		MaxSegmentCount:        maxSegmentCount,
	}
}

// ResolvedVAD is the flattened, validated configuration VadEngine consumes.
type ResolvedVAD struct {
	Threshold              float32
	SpeechEndThreshold     float32
	FrameSize              int
	HopSamples             int
	SampleRate             int
	HangbeforeFrames       int
	HangoverFrames         int
	SilenceToleranceFrames int
	SpeechProbSmoothing    float32
	MaxBufferDuration      int
	MaxSegmentCount        int
}

// Validate enforces the invariants spec §3 names for VadConfig.
func (r ResolvedVAD) Validate() error {
	if r.Threshold <= r.SpeechEndThreshold {
		return fmt.Errorf("config: vad threshold (%v) must exceed speech_end_threshold (%v)", r.Threshold, r.SpeechEndThreshold)
	}
	if r.FrameSize != 512 {
		return fmt.Errorf("config: vad frame_size must be 512, got %d", r.FrameSize)
	}
	if r.HopSamples <= 0 {
		return fmt.Errorf("config: vad hop_samples must be > 0")
	}
	if r.SpeechProbSmoothing <= 0 || r.SpeechProbSmoothing > 1 {
		return fmt.Errorf("config: vad speech_prob_smoothing must be in (0,1]")
	}
	if r.MaxBufferDuration < r.FrameSize {
		return fmt.Errorf("config: vad max_buffer_duration must be >= frame_size")
	}
	return nil
}

// ManualConfig controls push-to-talk / toggle session behavior and the
// ChunkPlanner split policy for oversized recordings.
type ManualConfig struct {
	MaxRecordingDurationSecs int
	ChunkDurationSeconds     float64
	MinPauseMs               int
	MinChunkSeconds          float64
	MaxMergedChunkSeconds    float64
	PromptContextWords       int
	CommandChannelBuffer     int
}

// BackendConfig selects and tunes the acoustic-model backend. See spec §3.
type BackendConfig struct {
	Backend         BackendKind
	ModelName       string
	ModelPath       string
	Threads         int
	GPUEnabled      bool
	Quantization    QuantizationLevel
	CT2SidecarAddr  string
	ReloadRetry     RetryConfig
}

// RetryConfig configures the resilience retry wrapper around backend reload
// and model resolution.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// PostProcessConfig controls text cleanup applied to every transcript.
type PostProcessConfig struct {
	Enabled               bool
	RemoveLeadingDashes   bool
	RemoveTrailingDashes  bool
	NormalizeWhitespace   bool
}

// Load reads configuration from the environment, applying defaults that
// mirror the original Rust implementation's tuned values.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 15)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 600),
		},
		Audio: AudioConfig{
			SampleRate:           getEnvInt("SAMPLE_RATE", 16000),
			CaptureSystemAudio:   getEnvBool("CAPTURE_SYSTEM_AUDIO", false),
			ExcludedAudioDevices: getEnvList("EXCLUDED_AUDIO_DEVICES", []string{}),
			MaxBufferDurationSec: getEnvFloat("VAD_MAX_BUFFER_DURATION_SEC", 30.0),
			MaxSegmentCount:      getEnvInt("VAD_MAX_SEGMENT_COUNT", 20),
			SegmentChannelBuffer: getEnvInt("SEGMENT_CHANNEL_BUFFER", 50),
			FrameChannelBuffer:   getEnvInt("FRAME_CHANNEL_BUFFER", 50),
		},
		VAD: VADConfig{
			Sensitivity:            VADSensitivity(getEnv("VAD_SENSITIVITY", string(VADSensitivityMedium))),
			FrameSize:              512,
			HopSamples:             getEnvInt("VAD_HOP_SAMPLES", 160),
			HangbeforeFrames:       getEnvInt("VAD_HANGBEFORE_FRAMES", 5),
			HangoverFrames:         getEnvInt("VAD_HANGOVER_FRAMES", 30),
			SilenceToleranceFrames: getEnvInt("VAD_SILENCE_TOLERANCE_FRAMES", 8),
			SpeechProbSmoothing:    float32(getEnvFloat("VAD_SPEECH_PROB_SMOOTHING", 0.3)),
			ModelPath:              getEnv("VAD_MODEL_PATH", "models/silero_vad.onnx"),
			PauseDetection: PauseDetectionVadConfig{
				Threshold:      0.3,
				HangoverFrames: 15,
				MinPauseMs:     getEnvInt("CHUNK_MIN_PAUSE_MS", 300),
			},
		},
		Manual: ManualConfig{
			MaxRecordingDurationSecs: getEnvInt("MANUAL_MAX_RECORDING_SECS", 120),
			ChunkDurationSeconds:     getEnvFloat("MANUAL_CHUNK_DURATION_SEC", 29.0),
			MinPauseMs:               getEnvInt("CHUNK_MIN_PAUSE_MS", 300),
			MinChunkSeconds:          2.0,
			MaxMergedChunkSeconds:    45.0,
			PromptContextWords:       30,
			CommandChannelBuffer:     8,
		},
		Backend: BackendConfig{
			Backend:        BackendKind(getEnv("BACKEND", string(BackendWhisperCpp))),
			ModelName:      getEnv("MODEL_NAME", "base.en"),
			ModelPath:      getEnv("MODEL_PATH", ""),
			Threads:        getEnvInt("BACKEND_THREADS", 4),
			GPUEnabled:     getEnvBool("BACKEND_GPU", false),
			Quantization:   QuantizationLevel(getEnv("BACKEND_QUANTIZATION", string(QuantMedium))),
			CT2SidecarAddr: getEnv("CT2_SIDECAR_ADDR", "http://localhost:8090"),
			ReloadRetry: RetryConfig{
				MaxRetries:   getEnvInt("BACKEND_RELOAD_MAX_RETRIES", 3),
				BaseDelay:    time.Duration(getEnvInt("BACKEND_RELOAD_BASE_DELAY_MS", 250)) * time.Millisecond,
				MaxDelay:     time.Duration(getEnvInt("BACKEND_RELOAD_MAX_DELAY_MS", 5000)) * time.Millisecond,
				JitterFactor: getEnvFloat("BACKEND_RELOAD_JITTER", 0.2),
			},
		},
		Post: PostProcessConfig{
			Enabled:              getEnvBool("POSTPROCESS_ENABLED", true),
			RemoveLeadingDashes:  getEnvBool("POSTPROCESS_REMOVE_LEADING_DASHES", true),
			RemoveTrailingDashes: getEnvBool("POSTPROCESS_REMOVE_TRAILING_DASHES", true),
			NormalizeWhitespace:  getEnvBool("POSTPROCESS_NORMALIZE_WHITESPACE", true),
		},
	}

	resolved := cfg.VAD.Resolve(cfg.Audio.SampleRate, cfg.Audio.MaxBufferDurationSec, cfg.Audio.MaxSegmentCount)
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "HTTP_ADDR", "SAMPLE_RATE", "VAD_SENSITIVITY", "BACKEND", "MANUAL_CHUNK_DURATION_SEC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":8000")
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.VAD.Sensitivity != VADSensitivityMedium {
		t.Errorf("VAD.Sensitivity = %q, want medium", cfg.VAD.Sensitivity)
	}
	if cfg.Backend.Backend != BackendWhisperCpp {
		t.Errorf("Backend.Backend = %q, want whispercpp", cfg.Backend.Backend)
	}
	if cfg.Manual.ChunkDurationSeconds != 29.0 {
		t.Errorf("Manual.ChunkDurationSeconds = %f, want 29.0", cfg.Manual.ChunkDurationSeconds)
	}
}

func TestLoadWithEnv(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9000")
	os.Setenv("SAMPLE_RATE", "16000")
	os.Setenv("VAD_SENSITIVITY", "high")
	os.Setenv("BACKEND", "parakeet")
	defer clearEnv(t, "HTTP_ADDR", "SAMPLE_RATE", "VAD_SENSITIVITY", "BACKEND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":9000")
	}
	if cfg.VAD.Sensitivity != VADSensitivityHigh {
		t.Errorf("VAD.Sensitivity = %q, want high", cfg.VAD.Sensitivity)
	}
	if cfg.Backend.Backend != BackendParakeet {
		t.Errorf("Backend.Backend = %q, want parakeet", cfg.Backend.Backend)
	}
}

func TestVADSensitivityThresholds(t *testing.T) {
	cases := []struct {
		sensitivity VADSensitivity
	}{
		{VADSensitivityLow}, {VADSensitivityMedium}, {VADSensitivityHigh},
	}
	for _, c := range cases {
		threshold, speechEnd := c.sensitivity.Thresholds()
		if threshold <= speechEnd {
			t.Errorf("%s: threshold (%v) must exceed speech_end_threshold (%v)", c.sensitivity, threshold, speechEnd)
		}
	}
}

func TestResolvedVADValidate(t *testing.T) {
	good := ResolvedVAD{
		Threshold: 0.2, SpeechEndThreshold: 0.15, FrameSize: 512, HopSamples: 160,
		SampleRate: 16000, SpeechProbSmoothing: 0.3, MaxBufferDuration: 480000,
	}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	bad := good
	bad.Threshold = 0.1 // no longer exceeds speech_end_threshold
	if err := bad.Validate(); err == nil {
		t.Error("expected error when threshold <= speech_end_threshold")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	os.Setenv("TEST_STRING", "hello")
	defer os.Unsetenv("TEST_STRING")
	if v := getEnv("TEST_STRING", "default"); v != "hello" {
		t.Errorf("getEnv = %q, want %q", v, "hello")
	}
	if v := getEnv("NONEXISTENT", "default"); v != "default" {
		t.Errorf("getEnv = %q, want %q", v, "default")
	}

	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")
	if v := getEnvInt("TEST_INT", 0); v != 42 {
		t.Errorf("getEnvInt = %d, want %d", v, 42)
	}
	os.Setenv("TEST_INT_INVALID", "not-a-number")
	defer os.Unsetenv("TEST_INT_INVALID")
	if v := getEnvInt("TEST_INT_INVALID", 100); v != 100 {
		t.Errorf("getEnvInt with invalid = %d, want %d", v, 100)
	}

	os.Setenv("TEST_FLOAT", "3.14")
	defer os.Unsetenv("TEST_FLOAT")
	if v := getEnvFloat("TEST_FLOAT", 0.0); v != 3.14 {
		t.Errorf("getEnvFloat = %f, want %f", v, 3.14)
	}

	os.Setenv("TEST_BOOL_TRUE", "true")
	defer os.Unsetenv("TEST_BOOL_TRUE")
	if !getEnvBool("TEST_BOOL_TRUE", false) {
		t.Error("getEnvBool should return true for 'true'")
	}
	if !getEnvBool("NONEXISTENT", true) {
		t.Error("getEnvBool should return default true")
	}
}

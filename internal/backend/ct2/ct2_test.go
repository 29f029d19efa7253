package ct2_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/0xPD33/sonori-platform/internal/backend/ct2"
	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

func newSidecar(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("device") == "" || r.FormValue("compute_type") == "" {
			http.Error(w, "missing device/compute_type", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"hypotheses": []string{text}})
	}))
}

func TestNew_MissingSidecarAddr_ReturnsConfigurationError(t *testing.T) {
	_, err := ct2.New("model.bin", config.BackendConfig{})
	if err == nil {
		t.Fatal("expected error for empty CT2SidecarAddr, got nil")
	}
}

func TestTranscribe_ReturnsFirstHypothesis(t *testing.T) {
	srv := newSidecar(t, "hello world")
	defer srv.Close()

	b, err := ct2.New("model.bin", config.BackendConfig{CT2SidecarAddr: srv.URL, Quantization: config.QuantHigh})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	samples := make([]float32, 1600)
	text, err := b.Transcribe(samples, 16000, transcription.CommonOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello world")
	}
}

func TestTranscribe_EmptySegment_ReturnsInvalidAudio(t *testing.T) {
	b, err := ct2.New("model.bin", config.BackendConfig{CT2SidecarAddr: "http://unused"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	_, err = b.Transcribe(nil, 16000, transcription.CommonOptions{})
	if err == nil {
		t.Fatal("expected error for empty segment, got nil")
	}
	if !transcription.IsCode(err, transcription.InvalidAudio) {
		t.Errorf("expected InvalidAudio, got %v", err)
	}
}

func TestTranscribe_SidecarError_ReturnsInferenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := ct2.New("model.bin", config.BackendConfig{CT2SidecarAddr: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	_, err = b.Transcribe(make([]float32, 160), 16000, transcription.CommonOptions{})
	if err == nil {
		t.Fatal("expected error from sidecar 500, got nil")
	}
	if !transcription.IsCode(err, transcription.InferenceError) {
		t.Errorf("expected InferenceError, got %v", err)
	}
}

func TestCapabilities_ReflectsGPUConfig(t *testing.T) {
	b, err := ct2.New("model.bin", config.BackendConfig{CT2SidecarAddr: "http://unused", GPUEnabled: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	caps := b.Capabilities()
	if caps.Name != "ct2" {
		t.Errorf("Capabilities().Name = %q, want ct2", caps.Name)
	}
	if !caps.GPUAvailable {
		t.Error("Capabilities().GPUAvailable = false, want true when GPUEnabled")
	}
	if !caps.SupportsInitialPrompt {
		t.Error("Capabilities().SupportsInitialPrompt = false, want true")
	}
}

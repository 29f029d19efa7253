package backend_test

import (
	"context"
	"testing"

	"github.com/0xPD33/sonori-platform/internal/backend"
	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

func TestLoad_UnrecognizedKind_ReturnsBackendNotImplemented(t *testing.T) {
	_, err := backend.Load(context.Background(), "model", config.BackendConfig{Backend: config.BackendKind("exotic")})
	if err == nil {
		t.Fatal("expected error for unrecognized backend kind, got nil")
	}
	if !transcription.IsCode(err, transcription.BackendNotImplemented) {
		t.Errorf("expected BackendNotImplemented, got %v", err)
	}
}

func TestLoad_CT2_DispatchesWithoutSidecarAddr(t *testing.T) {
	_, err := backend.Load(context.Background(), "model", config.BackendConfig{Backend: config.BackendCT2})
	if err == nil {
		t.Fatal("expected configuration error for ct2 with no sidecar address, got nil")
	}
}

func TestLoad_WhisperCpp_DispatchesToModelLoad(t *testing.T) {
	_, err := backend.Load(context.Background(), "/nonexistent/ggml-base.bin", config.BackendConfig{Backend: config.BackendWhisperCpp})
	if err == nil {
		t.Fatal("expected model-not-available error for missing ggml file, got nil")
	}
}

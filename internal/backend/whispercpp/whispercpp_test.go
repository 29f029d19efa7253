package whispercpp_test

import (
	"testing"

	"github.com/0xPD33/sonori-platform/internal/backend/whispercpp"
	"github.com/0xPD33/sonori-platform/internal/config"
)

func TestNew_InvalidModelPath_ReturnsModelNotAvailable(t *testing.T) {
	_, err := whispercpp.New("/nonexistent/ggml-base.bin", config.BackendConfig{})
	if err == nil {
		t.Fatal("expected error for nonexistent model path, got nil")
	}
}

package provisioner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/provisioner"
)

func TestResolve_VerbatimPathExists(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(modelPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := provisioner.New(dir)
	got, err := p.Resolve(context.Background(), modelPath, config.BackendWhisperCpp, config.QuantHigh, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != modelPath {
		t.Errorf("Resolve() = %q, want %q", got, modelPath)
	}
}

func TestResolve_LayoutFallback(t *testing.T) {
	root := t.TempDir()
	backendDir := filepath.Join(root, string(config.BackendCT2))
	if err := os.MkdirAll(backendDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	modelDir := filepath.Join(backendDir, "base-model")
	if err := os.WriteFile(modelDir, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := provisioner.New(root)
	got, err := p.Resolve(context.Background(), "base-model", config.BackendCT2, config.QuantMedium, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != modelDir {
		t.Errorf("Resolve() = %q, want %q", got, modelDir)
	}
}

func TestResolve_MissingModel_ReturnsError(t *testing.T) {
	p := provisioner.New(t.TempDir())
	_, err := p.Resolve(context.Background(), "does-not-exist", config.BackendMoonshine, config.QuantLow, nil)
	if err == nil {
		t.Fatal("expected error for missing model, got nil")
	}
}

func TestResolve_ProgressCallback_InvokedAtStartAndEnd(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(modelPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var seen []float32
	p := provisioner.New(dir)
	if _, err := p.Resolve(context.Background(), modelPath, config.BackendWhisperCpp, config.QuantHigh, func(f float32) {
		seen = append(seen, f)
	}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("progress callbacks = %v, want [0 1]", seen)
	}
}

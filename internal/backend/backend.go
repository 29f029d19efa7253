// Package backend dispatches to a concrete transcription.Backend
// implementation by config.BackendKind, matching the registry.Loader
// contract so cmd/server can hand the registry a single loader function
// regardless of which acoustic-model variant is configured.
package backend

import (
	"context"

	"github.com/0xPD33/sonori-platform/internal/backend/ct2"
	"github.com/0xPD33/sonori-platform/internal/backend/moonshine"
	"github.com/0xPD33/sonori-platform/internal/backend/parakeet"
	"github.com/0xPD33/sonori-platform/internal/backend/whispercpp"
	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Load constructs the transcription.Backend named by cfg.Backend, rooted at
// modelPath (a file for WhisperCpp, a directory for CT2/Moonshine/Parakeet).
// Matches the registry.Loader signature.
func Load(_ context.Context, modelPath string, cfg config.BackendConfig) (transcription.Backend, error) {
	switch cfg.Backend {
	case config.BackendWhisperCpp:
		return whispercpp.New(modelPath, cfg)
	case config.BackendCT2:
		return ct2.New(modelPath, cfg)
	case config.BackendMoonshine:
		return moonshine.New(modelPath, cfg)
	case config.BackendParakeet:
		return parakeet.New(modelPath, cfg)
	default:
		return nil, transcription.Newf(transcription.BackendNotImplemented, "backend: unrecognized kind %q", cfg.Backend)
	}
}

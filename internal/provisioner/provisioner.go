// Package provisioner supplies the ModelProvisioner contract named in spec
// §6: BackendRegistry resolves a (model name, backend, quantization) triple
// to a filesystem path through this collaborator. The core never downloads
// models itself (spec §1 Non-goals); LocalProvisioner is the trivial
// filesystem-only implementation used by tests and as the functional
// default, per SPEC_FULL §12.
package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0xPD33/sonori-platform/internal/config"
)

// Resolver matches registry.Resolver's signature so LocalProvisioner.Resolve
// can be passed directly as a registry.Resolver value.
type Resolver func(ctx context.Context, modelName string, kind config.BackendKind, quant config.QuantizationLevel, progress func(float32)) (string, error)

// LocalProvisioner resolves model paths already present on disk under a
// root directory, laid out as <root>/<backend>/<model-name>. It never
// downloads; a missing path is a configuration error surfaced to the caller.
type LocalProvisioner struct {
	Root string
}

// New constructs a LocalProvisioner rooted at dir (e.g. "models/").
func New(dir string) *LocalProvisioner {
	return &LocalProvisioner{Root: dir}
}

// Resolve implements the ModelProvisioner contract. If cfg.ModelPath (passed
// via modelName when the caller already knows the exact path) exists
// verbatim, it's used as-is; otherwise the root/backend/model-name layout is
// tried. progress is invoked once at 0 and once at 1 — there is no real
// download to report partial progress for.
func (p *LocalProvisioner) Resolve(ctx context.Context, modelName string, kind config.BackendKind, _ config.QuantizationLevel, progress func(float32)) (string, error) {
	if progress != nil {
		progress(0)
	}

	candidates := []string{
		modelName,
		filepath.Join(p.Root, string(kind), modelName),
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			if progress != nil {
				progress(1)
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("provisioner: no model found for backend=%s name=%q under any of %v", kind, modelName, candidates)
}

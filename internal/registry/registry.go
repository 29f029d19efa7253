// Package registry owns the single loaded transcription backend and
// processes Reload/Shutdown commands serially. Grounded on backend_manager.rs
// (BackendManager/run_command_loop), adapted onto the teacher's
// syncx.RWGuard in place of parking_lot::RwLock (spec §4.9).
package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/resilience"
	"github.com/0xPD33/sonori-platform/internal/syncx"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Loader constructs a Backend for a resolved model path and config. Supplied
// by the composition root (cmd/server), since the concrete backend variant
// depends on config.BackendKind.
type Loader func(ctx context.Context, modelPath string, cfg config.BackendConfig) (transcription.Backend, error)

// Resolver maps a (model name, backend kind, quantization) triple to a
// filesystem path, invoking progress as download/resolution proceeds. This
// is the ModelProvisioner collaborator from spec §6 — out of core scope, but
// the registry depends on its contract.
type Resolver func(ctx context.Context, modelName string, kind config.BackendKind, quant config.QuantizationLevel, progress func(float32)) (string, error)

// Registry is the process-wide cell described in spec §4.9: one loaded
// backend, one atomic ready flag, one read-write status struct.
type Registry struct {
	cell   *syncx.RWGuard[transcription.Backend]
	ready  atomic.Bool
	status *syncx.RWGuard[transcription.Status]

	loader   Loader
	resolver Resolver
	breaker  *resilience.Breaker

	commands chan transcription.BackendCommand
}

// New constructs a Registry with no backend loaded and State: Loading. A
// circuit breaker guards resolve+load: repeated reload failures (e.g. a
// sidecar that is down, or a provisioner that can't reach the network) trip
// it open so further reload attempts fail fast instead of retrying into a
// backend that is known to be unavailable.
func New(loader Loader, resolver Resolver) *Registry {
	r := &Registry{
		cell:     syncx.NewGuard[transcription.Backend](nil),
		status:   syncx.NewGuard(transcription.Status{State: transcription.StateLoading}),
		loader:   loader,
		resolver: resolver,
		breaker:  resilience.New(resilience.SlowConfig()),
		commands: make(chan transcription.BackendCommand, 8),
	}
	return r
}

// Commands returns the sender side callers use to enqueue Reload/Shutdown.
// Unbounded from the caller's perspective (buffered generously); spec calls
// this channel unbounded single-producer-single-consumer.
func (r *Registry) Commands() chan<- transcription.BackendCommand {
	return r.commands
}

// Snapshot returns the currently loaded backend (nil if none) and whether it
// is ready. Callers should release any lock implications immediately: the
// returned value is just a reference, safe to use concurrently with reloads
// since a reload replaces the cell rather than mutating the backend in place.
func (r *Registry) Snapshot() (transcription.Backend, bool) {
	return r.cell.Get(), r.ready.Load()
}

// Status returns a copy of the current status struct.
func (r *Registry) Status() transcription.Status {
	return r.status.Get()
}

// Run drains the command channel until ctx is canceled or a Shutdown command
// arrives, processing Reload/Shutdown serially (spec §4.9: "concurrent
// reloads are serialized by the command queue").
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			switch cmd.Kind {
			case transcription.Reload:
				r.handleReload(ctx, cmd)
			case transcription.Shutdown:
				r.handleShutdown()
				return
			}
		}
	}
}

// handleReload implements the 4-step sequence from spec §4.9: clear ready,
// set Loading status, resolve+load, then on success replace the cell and set
// Ready, or on failure restore the prior backend/ready and record a faded
// Error.
func (r *Registry) handleReload(ctx context.Context, cmd transcription.BackendCommand) {
	prevBackend := r.cell.Get()
	prevReady := r.ready.Load()

	r.ready.Store(false)
	r.status.Set(transcription.Status{
		BackendName: string(cmd.Config.Backend),
		ModelName:   cmd.ModelName,
		State:       transcription.StateLoading,
		StatusMessage: "Resolving model...",
	})

	progress := func(fraction float32) {
		r.status.Write(func(s *transcription.Status) {
			f := fraction
			s.DownloadProgress = &f
		})
	}

	retryCfg := resilience.RetryConfig{
		MaxRetries:   cmd.Config.ReloadRetry.MaxRetries,
		BaseDelay:    cmd.Config.ReloadRetry.BaseDelay,
		MaxDelay:     cmd.Config.ReloadRetry.MaxDelay,
		JitterFactor: cmd.Config.ReloadRetry.JitterFactor,
		IsRetryable:  transcription.IsRetryable,
	}

	var modelPath string
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, retryCfg, func() error {
			path, rerr := r.resolver(ctx, cmd.ModelName, cmd.Config.Backend, cmd.Config.Quantization, progress)
			if rerr != nil {
				return rerr
			}
			modelPath = path
			return nil
		})
	})
	if err != nil {
		r.failReload(prevBackend, prevReady, cmd, err)
		return
	}

	r.status.Write(func(s *transcription.Status) {
		s.State = transcription.StateLoading
		s.StatusMessage = "Loading backend..."
	})

	var backend transcription.Backend
	err = r.breaker.Execute(func() error {
		return resilience.Retry(ctx, retryCfg, func() error {
			b, lerr := r.loader(ctx, modelPath, cmd.Config)
			if lerr != nil {
				return lerr
			}
			backend = b
			return nil
		})
	})
	if err != nil {
		r.failReload(prevBackend, prevReady, cmd, err)
		return
	}

	if prevBackend != nil {
		_ = prevBackend.Close()
	}

	r.cell.Set(backend)
	r.ready.Store(true)
	r.status.Set(transcription.Status{
		BackendName: string(cmd.Config.Backend),
		ModelName:   cmd.ModelName,
		State:       transcription.StateReady,
	})
	slog.Info("registry: backend reloaded", "backend", cmd.Config.Backend, "model", cmd.ModelName)
}

func (r *Registry) failReload(prevBackend transcription.Backend, prevReady bool, cmd transcription.BackendCommand, err error) {
	r.cell.Set(prevBackend)
	r.ready.Store(prevReady)
	r.status.Set(transcription.Status{
		BackendName:   string(cmd.Config.Backend),
		ModelName:     cmd.ModelName,
		State:         transcription.StateError,
		StatusMessage: err.Error(),
		ErrorTime:     time.Now(),
	})
	slog.Error("registry: reload failed", "backend", cmd.Config.Backend, "model", cmd.ModelName, "error", err)
}

func (r *Registry) handleShutdown() {
	r.ready.Store(false)
	if backend := r.cell.Get(); backend != nil {
		_ = backend.Close()
	}
	r.cell.Set(nil)
	slog.Info("registry: shutdown")
}

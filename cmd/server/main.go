// Platform server - orchestrates audio capture, VAD segmentation, backend
// transcription, and WebSocket delivery.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xPD33/sonori-platform/internal/audiosource"
	"github.com/0xPD33/sonori-platform/internal/backend"
	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/delivery"
	"github.com/0xPD33/sonori-platform/internal/processor"
	"github.com/0xPD33/sonori-platform/internal/provisioner"
	"github.com/0xPD33/sonori-platform/internal/registry"
	"github.com/0xPD33/sonori-platform/internal/segment"
	"github.com/0xPD33/sonori-platform/internal/server"
	"github.com/0xPD33/sonori-platform/internal/transcription"
	"github.com/0xPD33/sonori-platform/internal/vad"
	"github.com/0xPD33/sonori-platform/internal/worker"
)

// modelRoot is the filesystem layout root the LocalProvisioner resolves
// relative model names under (<root>/<backend-kind>/<model-name>).
const modelRoot = "models"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vadModel, err := vad.NewModel(cfg.VAD.ModelPath, cfg.Audio.SampleRate)
	if err != nil {
		slog.Error("failed to load VAD model", "error", err)
		os.Exit(1)
	}

	resolvedVAD := cfg.VAD.Resolve(cfg.Audio.SampleRate, cfg.Audio.MaxBufferDurationSec, cfg.Audio.MaxSegmentCount)
	vadEngine := vad.NewEngine(vadModel, vad.Config{
		Threshold:              resolvedVAD.Threshold,
		SpeechEndThreshold:     resolvedVAD.SpeechEndThreshold,
		FrameSize:              resolvedVAD.FrameSize,
		SampleRate:             resolvedVAD.SampleRate,
		HangbeforeFrames:       resolvedVAD.HangbeforeFrames,
		HangoverFrames:         resolvedVAD.HangoverFrames,
		HopSamples:             resolvedVAD.HopSamples,
		MaxBufferDuration:      resolvedVAD.MaxBufferDuration,
		MaxSegmentCount:        resolvedVAD.MaxSegmentCount,
		SilenceToleranceFrames: resolvedVAD.SilenceToleranceFrames,
		SpeechProbSmoothing:    resolvedVAD.SpeechProbSmoothing,
	})

	router := segment.NewRouter(vadEngine, segment.Config{
		SampleRate:              cfg.Audio.SampleRate,
		MaxRecordingDurationSec: float64(cfg.Manual.MaxRecordingDurationSecs),
		SegmentChannelCap:       cfg.Audio.SegmentChannelBuffer,
	})

	capturer, err := audiosource.NewCapturer(cfg.Audio.SampleRate, cfg.Audio.FrameChannelBuffer)
	if err != nil {
		slog.Error("failed to initialize audio capture", "error", err)
		os.Exit(1)
	}
	defer func() { _ = capturer.Close() }()

	if err := capturer.Start(ctx); err != nil {
		slog.Error("failed to start audio capture", "error", err)
		os.Exit(1)
	}

	proc := processor.New(router, capturer.Output(), cfg.Manual.CommandChannelBuffer)

	// A second Silero instance dedicated to ChunkPlanner's pause-finding
	// pass over oversized manual segments (spec §4.3): a distinct instance
	// keeps the real-time engine's recurrent state untouched by the
	// unrelated pass.
	var pauseProber vad.SpeechProber
	if pauseModel, err := vad.NewModel(cfg.VAD.ModelPath, cfg.Audio.SampleRate); err != nil {
		slog.Warn("pause-detection VAD model unavailable, falling back to time-based manual chunking", "error", err)
	} else {
		pauseProber = pauseModel
	}

	prov := provisioner.New(modelRoot)
	reg := registry.New(backend.Load, prov.Resolve)

	broadcaster := delivery.New(200)

	w := worker.New(reg, router.Segments(), broadcaster.Publish, pauseProber, worker.Config{
		Language: "",
		Post:     cfg.Post,
		Manual:   cfg.Manual,
	}, proc.Running)

	srv := server.New(broadcaster, proc, reg, cfg)

	go proc.Run(ctx)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		w.Run(workerCtx)
		close(workerDone)
	}()
	go reg.Run(ctx)

	reg.Commands() <- transcription.BackendCommand{
		Kind:      transcription.Reload,
		Config:    cfg.Backend,
		ModelName: cfg.Backend.ModelName,
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("platform server starting", "http", cfg.Server.HTTPAddr, "backend", cfg.Backend.Backend)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	proc.Stop()
	capturer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	workerCancel()
	<-workerDone

	reg.Commands() <- transcription.BackendCommand{Kind: transcription.Shutdown}
	cancel()

	slog.Info("shutdown complete")
}

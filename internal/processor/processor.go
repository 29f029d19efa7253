// Package processor implements the audio-processor task from spec §5: a
// single goroutine that consumes capture batches, hosts the SegmentRouter
// (VAD + manual accumulator), and applies ManualSessionCommands and
// recording/mode flags. Grounded on audio_processor.rs's AudioProcessor::run
// loop, adapted from tokio::select! to Go's select over channels (which
// gives the same "observe command between frames" cooperation spec §4.2
// asks for without needing an explicit poll timeout).
package processor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/0xPD33/sonori-platform/internal/audiosource"
	"github.com/0xPD33/sonori-platform/internal/segment"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Processor is the ControlPlane + audio-processor component: it owns the
// running/recording/mode atomics described in spec §3/§5 and drains both the
// capture channel and the manual-session-command channel in one goroutine.
type Processor struct {
	router  *segment.Router
	capture <-chan audiosource.Chunk
	manual  chan transcription.ManualSessionCommand

	running atomic.Bool
}

// New wires a Processor around an already-configured Router and the
// capture channel it reads frames from. The manual-session-command channel
// is unbounded from the producer's perspective (spec §5), buffered
// generously here.
func New(router *segment.Router, capture <-chan audiosource.Chunk, manualBuffer int) *Processor {
	if manualBuffer <= 0 {
		manualBuffer = 16
	}
	p := &Processor{
		router:  router,
		capture: capture,
		manual:  make(chan transcription.ManualSessionCommand, manualBuffer),
	}
	p.running.Store(true)
	return p
}

// Commands returns the sender side callers (ControlPlane's HTTP/IPC
// surfaces) use to enqueue Start/Stop/Cancel/SwitchMode.
func (p *Processor) Commands() chan<- transcription.ManualSessionCommand {
	return p.manual
}

// Running reports the graceful-stop flag the worker also checks before its
// final drain (spec §4.10).
func (p *Processor) Running() bool { return p.running.Load() }

// Stop sets the graceful-stop flag; Run exits after its current select
// iteration.
func (p *Processor) Stop() { p.running.Store(false) }

// Run drains capture and command channels until ctx is canceled. Command
// handling always happens between Route calls in this single goroutine, so
// a SwitchMode command can never interrupt an in-flight frame (spec §4.2's
// cooperative-switch requirement falls out of Go's channel select for free).
func (p *Processor) Run(ctx context.Context) {
	slog.Info("processor: audio processor started")
	for {
		if !p.running.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-p.capture:
			if !ok {
				return
			}
			if err := p.router.Route(chunk.Data); err != nil {
				slog.Error("processor: route error", "error", err)
			}
		case cmd, ok := <-p.manual:
			if !ok {
				return
			}
			p.handleCommand(cmd)
		}
	}
}

func (p *Processor) handleCommand(cmd transcription.ManualSessionCommand) {
	var err error
	switch cmd.Kind {
	case transcription.StartSession:
		p.router.SetSessionID(newSessionID())
		p.router.SetMode(transcription.ModeManual)
		p.router.SetRecording(true)
	case transcription.StopSession:
		p.router.SetRecording(false)
		p.router.StopSession()
	case transcription.CancelSession:
		p.router.SetRecording(false)
		p.router.CancelSession()
	case transcription.SwitchMode:
		p.router.SetMode(cmd.NewMode)
	}

	if cmd.Responder != nil {
		cmd.Responder <- err
	}
}

func newSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

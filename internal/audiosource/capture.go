// Package audiosource captures microphone audio via malgo and delivers mono
// f32 frames at 16 kHz over a bounded, non-blocking channel (spec §3
// AudioSource, §5 capture->processor edge).
package audiosource

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// Chunk is one batch of samples delivered from the capture callback.
type Chunk struct {
	Data      []float32
	Timestamp int64 // unix nanos at callback time, caller-stamped
}

// Capturer captures a single microphone device and streams mono f32 samples
// at a fixed sample rate. Unlike the teacher's multi-device (user/system)
// capturer, the pipeline here has exactly one logical audio source: the
// active input device.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	outCh      chan Chunk
	sampleRate uint32

	mu         sync.Mutex
	running    bool
	stopOnce   sync.Once
	dropCount  atomic.Int64
}

// NewCapturer allocates a malgo context. sampleRate should be 16000 per spec;
// bufferSize bounds the output channel (spec suggests ~50 frames).
func NewCapturer(sampleRate int, bufferSize int) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audiosource: init malgo context: %w", err)
	}

	return &Capturer{
		ctx:        ctx,
		outCh:      make(chan Chunk, bufferSize),
		sampleRate: uint32(sampleRate),
	}, nil
}

// Output returns the channel on which captured chunks are delivered.
func (c *Capturer) Output() <-chan Chunk {
	return c.outCh
}

// DroppedChunks returns the count of chunks discarded because Output was full.
func (c *Capturer) DroppedChunks() int64 {
	return c.dropCount.Load()
}

// Start opens the default capture device and begins streaming. The callback
// runs on malgo's real-time audio thread: it never blocks, never allocates
// beyond the conversion buffer, and never touches ctx directly (spec's
// callback-to-async bridge REDESIGN note).
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, frameCount uint32) {
			samples := bytesToFloat32(pSamples)
			if len(samples) == 0 {
				return
			}

			chunk := Chunk{Data: samples, Timestamp: time.Now().UnixNano()}

			select {
			case c.outCh <- chunk:
			default:
				c.dropCount.Add(1)
				slog.Debug("audiosource: buffer full, dropping chunk")
			}
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("audiosource: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audiosource: start capture device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	slog.Info("audiosource: capture started", "sample_rate", c.sampleRate)
	return nil
}

// Stop halts capture and releases the device. Idempotent.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		device := c.device
		c.device = nil
		c.running = false
		c.mu.Unlock()

		if device == nil {
			return
		}
		if device.IsStarted() {
			_ = device.Stop()
		}
		device.Uninit()
	})
}

// Close releases the malgo context. Call after Stop.
func (c *Capturer) Close() error {
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

const float32ByteSize = 4

func bytesToFloat32(b []byte) []float32 {
	if len(b)%float32ByteSize != 0 {
		return nil
	}
	samples := make([]float32, len(b)/float32ByteSize)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(b[i*float32ByteSize:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// Package ct2 implements the CT2 transcription.Backend variant (spec §4.6).
// CTranslate2 has no native Go binding anywhere in the retrieved example
// pack, so this backend reaches a local CT2/faster-whisper inference sidecar
// over plain net/http multipart upload, the same shape as
// MrWong99-glyphoxa's pkg/provider/stt/whisper HTTP provider (which talks to
// a local whisper.cpp server the same way) — see DESIGN.md for why a gRPC
// service was rejected.
package ct2

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

const requestTimeout = 60 * time.Second

// Backend posts WAV-encoded segments to a CT2/faster-whisper sidecar and
// takes the first hypothesis. Maps BackendConfig to sidecar request fields:
// device (cpu/cuda from GPUEnabled) and compute_type (from Quantization).
type Backend struct {
	baseURL    string
	model      string
	httpClient *http.Client
	computeType string
	device     string
	beamSize   int
	repetitionPenalty float64
}

// computeTypeFor maps spec §3's QuantizationLevel onto CT2's native compute
// type names, much as Parakeet maps it to int8 vs float model variants.
// WhisperCpp and Moonshine do not read the quantization level.
func computeTypeFor(q config.QuantizationLevel) string {
	switch q {
	case config.QuantHigh:
		return "float16"
	case config.QuantLow:
		return "int8"
	default:
		return "int8_float16"
	}
}

// New constructs a Backend pointed at cfg.CT2SidecarAddr. modelPath is
// forwarded as the model name query field the sidecar uses to select which
// CT2 model directory to serve (spec §6: model.bin/config.json/
// tokenizer.json/preprocessor_config.json).
func New(modelPath string, cfg config.BackendConfig) (*Backend, error) {
	if cfg.CT2SidecarAddr == "" {
		return nil, transcription.New(transcription.ConfigurationError, "ct2: sidecar address not configured")
	}

	device := "cpu"
	if cfg.GPUEnabled {
		device = "cuda"
	}

	return &Backend{
		baseURL:           cfg.CT2SidecarAddr,
		model:             modelPath,
		httpClient:        &http.Client{Timeout: requestTimeout},
		computeType:       computeTypeFor(cfg.Quantization),
		device:            device,
		repetitionPenalty: 1.1,
		beamSize:          1,
	}, nil
}

// Transcribe implements transcription.Backend: encode samples as WAV, POST
// multipart to the sidecar's /transcribe endpoint with beam/patience/
// repetition-penalty fields, take the first hypothesis (spec §4.6).
func (b *Backend) Transcribe(samples []float32, sampleRate int, opts transcription.CommonOptions) (string, error) {
	if len(samples) == 0 {
		return "", transcription.New(transcription.InvalidAudio, "ct2: empty segment")
	}

	wav := encodeWAV(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: create form file")
	}
	if _, err := fw.Write(wav); err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: write wav payload")
	}

	beamSize := b.beamSize
	if opts.BeamSize > 0 {
		beamSize = opts.BeamSize
	}

	fields := map[string]string{
		"model":              b.model,
		"device":             b.device,
		"compute_type":       b.computeType,
		"beam_size":          strconv.Itoa(beamSize),
		"patience":           "1.0",
		"repetition_penalty": strconv.FormatFloat(b.repetitionPenalty, 'f', -1, 64),
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.InitialPrompt != "" {
		fields["initial_prompt"] = opts.InitialPrompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", transcription.Wrapf(err, transcription.InferenceError, "ct2: write field %q", k)
		}
	}
	if err := mw.Close(); err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: close multipart writer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transcribe", &body)
	if err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: sidecar request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", transcription.Newf(transcription.InferenceError, "ct2: sidecar returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Hypotheses []string `json:"hypotheses"`
		Text       string   `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", transcription.Wrap(err, transcription.InferenceError, "ct2: parse sidecar response")
	}
	if len(result.Hypotheses) > 0 {
		return result.Hypotheses[0], nil
	}
	return result.Text, nil
}

// Capabilities implements transcription.Backend.
func (b *Backend) Capabilities() transcription.Capabilities {
	return transcription.Capabilities{
		Name:                  "ct2",
		SupportsStreaming:     false,
		GPUAvailable:          b.device == "cuda",
		SupportsInitialPrompt: true,
	}
}

// Close releases the HTTP client's idle connections. The sidecar process
// itself is a separate collaborator this backend doesn't own.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// encodeWAV wraps raw mono f32 samples in a 16-bit PCM RIFF/WAV container,
// the payload shape the sidecar and whisper-server both expect. Mirrors
// MrWong99-glyphoxa's whisper.encodeWAV helper (same container, no external
// WAV encoding dependency exists anywhere in the pack).
func encodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Max(-32768, math.Min(32767, float64(s)*32767)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

package parakeet

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Backend implements transcription.Backend over NVIDIA's Parakeet TDT
// encoder/decoder/joiner ONNX triple, grounded on the same
// onnxruntime_go.DynamicAdvancedSession pattern internal/vad/model.go and
// internal/backend/moonshine use for Silero and Moonshine respectively.
type Backend struct {
	mu sync.Mutex

	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
	joiner  *ort.DynamicAdvancedSession

	vocab *vocabulary

	encoderDim    int64
	decoderHidden int64
	decoderLayers int64

	gpu bool
}

const (
	defaultDecoderHidden = 640
	defaultDecoderLayers = 2
)

// New loads the three Parakeet ONNX sessions and the tokens.txt vocabulary
// from modelDir. File names follow NeMo's exported-ONNX convention, with an
// int8/float probe per spec §4.8: prefer "<name>.int8.onnx" when
// cfg.Quantization requests low precision, falling back to "<name>.onnx".
func New(modelDir string, cfg config.BackendConfig) (*Backend, error) {
	vocab, err := loadVocabulary(filepath.Join(modelDir, "tokens.txt"))
	if err != nil {
		return nil, err
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, transcription.Wrap(err, transcription.ConfigurationError, "parakeet: initialize onnxruntime environment")
	}

	encoderPath := probeVariant(modelDir, "encoder", cfg.Quantization)
	decoderPath := probeVariant(modelDir, "decoder", cfg.Quantization)
	joinerPath := probeVariant(modelDir, "joiner", cfg.Quantization)

	encoder, _, encOut, err := newSession(encoderPath)
	if err != nil {
		return nil, err
	}
	decoder, _, _, err := newSession(decoderPath)
	if err != nil {
		encoder.Destroy()
		return nil, err
	}
	joiner, _, _, err := newSession(joinerPath)
	if err != nil {
		encoder.Destroy()
		decoder.Destroy()
		return nil, err
	}

	encoderDim := inferEncoderDim(encOut)

	return &Backend{
		encoder:       encoder,
		decoder:       decoder,
		joiner:        joiner,
		vocab:         vocab,
		encoderDim:    encoderDim,
		decoderHidden: defaultDecoderHidden,
		decoderLayers: defaultDecoderLayers,
		gpu:           cfg.GPUEnabled,
	}, nil
}

// probeVariant prefers an int8-quantized ONNX file when the configured
// quantization level asks for it, falling back to the plain name. Parakeet's
// NeMo export convention names quantized variants "<stem>.int8.onnx".
func probeVariant(modelDir, stem string, q config.QuantizationLevel) string {
	if q == config.QuantLow {
		candidate := filepath.Join(modelDir, stem+".int8.onnx")
		if fileExists(candidate) {
			return candidate
		}
	}
	return filepath.Join(modelDir, stem+".onnx")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newSession(path string) (*ort.DynamicAdvancedSession, []string, []string, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, nil, transcription.Wrapf(err, transcription.ModelNotAvailable, "parakeet: inspect model %q", path)
	}

	inputs := make([]string, len(inInfo))
	for i, in := range inInfo {
		inputs[i] = in.Name
	}
	outputs := make([]string, len(outInfo))
	for i, out := range outInfo {
		outputs[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, nil)
	if err != nil {
		return nil, nil, nil, transcription.Wrapf(err, transcription.ModelNotAvailable, "parakeet: load session %q", path)
	}
	return session, inputs, outputs, nil
}

// inferEncoderDim reports the encoder's hidden-state width: 1024, the
// Parakeet TDT encoder width. A name-matched output and the fallback both
// yield 1024; the width is not read from the model's metadata.
func inferEncoderDim(outputNames []string) int64 {
	for _, name := range outputNames {
		if strings.Contains(strings.ToLower(name), "encoded") || strings.Contains(strings.ToLower(name), "output") {
			return 1024
		}
	}
	return 1024
}

// Transcribe implements spec §4.8: extract mel features, run the encoder
// once over the full utterance, then run the TDT greedy decode loop over
// the encoder's time steps.
func (b *Backend) Transcribe(samples []float32, sampleRate int, opts transcription.CommonOptions) (string, error) {
	if sampleRate != 16000 {
		return "", transcription.New(transcription.InvalidAudio, "parakeet: requires 16kHz input audio")
	}

	melData, numFrames := extractMel(samples)
	if numFrames == 0 {
		return "", nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoderOut, encodedLen, err := b.runEncoder(melData, numFrames)
	if err != nil {
		return "", err
	}

	tokens, err := b.greedyDecode(encoderOut, encodedLen)
	if err != nil {
		return "", err
	}

	return b.vocab.detokenize(tokens), nil
}

func (b *Backend) runEncoder(melData []float32, numFrames int) (*ort.Tensor[float32], int, error) {
	inputShape := ort.NewShape(1, int64(numMels), int64(numFrames))
	inputTensor, err := ort.NewTensor(inputShape, melData)
	if err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "parakeet: build mel input tensor")
	}
	defer inputTensor.Destroy()

	lengthTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(numFrames)})
	if err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "parakeet: build length tensor")
	}
	defer lengthTensor.Destroy()

	// Encoder typically downsamples time by 8x (NeMo Conformer subsampling).
	outFrames := numFrames/8 + 1
	outShape := ort.NewShape(1, int64(outFrames), b.encoderDim)
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate encoder output tensor")
	}

	if err := b.encoder.Run([]ort.Value{inputTensor, lengthTensor}, []ort.Value{output}); err != nil {
		output.Destroy()
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "parakeet: run encoder")
	}

	return output, outFrames, nil
}

func (b *Backend) Capabilities() transcription.Capabilities {
	return transcription.Capabilities{
		Name:              "parakeet",
		SupportsStreaming: false,
		GPUAvailable:      b.gpu,
	}
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoder.Destroy()
	b.decoder.Destroy()
	b.joiner.Destroy()
	return nil
}

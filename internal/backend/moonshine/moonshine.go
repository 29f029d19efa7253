// Package moonshine implements the Moonshine transcription.Backend variant
// (spec §4.7): an ONNX encoder/decoder pair with optional KV-cache decoding,
// supporting both the legacy (separate preprocess/encode/decode sessions)
// and merged (encoder_model/decoder_model_merged) export layouts. Grounded
// on the Silero ONNX session usage in the retrieved
// chriscow-livekit-agents-go VAD plugin (same yalue/onnxruntime_go API
// surface: DynamicAdvancedSession, Tensor[T], Run), extended here to a
// multi-session encoder-decoder pipeline per the original Rust
// moonshine_backend.rs.
package moonshine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/0xPD33/sonori-platform/internal/config"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// Flavor captures the per-model-size knobs spec §4.7/§9 name: encoder token
// rate for bounding greedy decode length, and KV-cache head/dim counts for
// allocating the initial empty cache when ONNX metadata reports dynamic dims.
type Flavor struct {
	Name     string
	TokenRate float64
	Heads    int
	HeadDim  int
}

// flavorTable covers the published Moonshine model sizes. An unrecognized
// model_name (empty Flavor) falls back to the spec's default: 256 max
// tokens, dynamic-dim inference for KV shapes (see pastKVDim).
var flavorTable = map[string]Flavor{
	"tiny":  {Name: "tiny", TokenRate: 6.5, Heads: 8, HeadDim: 36},
	"base":  {Name: "base", TokenRate: 6.5, Heads: 8, HeadDim: 52},
	"small": {Name: "small", TokenRate: 6.5, Heads: 12, HeadDim: 64},
}

const defaultMaxTokens = 256

// sessionNames are the resolved canonical input/output names for one ONNX
// session, cached at load time (spec §4.7's "caching them").
type sessionNames struct {
	inputs  map[string]string
	outputs map[string]string
}

// Backend holds the loaded ONNX sessions for either layout. cachedDecode is
// nil when the model doesn't ship a cached_decode/merged-with-cache graph,
// in which case decoding always uses the uncached path.
type Backend struct {
	legacy bool

	mu sync.Mutex // guards session use; not reentrant across concurrent Transcribe/Close

	preprocess      *ort.DynamicAdvancedSession // legacy only
	encoder         *ort.DynamicAdvancedSession
	uncachedDecode  *ort.DynamicAdvancedSession
	cachedDecode    *ort.DynamicAdvancedSession // nil if absent

	encoderNames sessionNames
	decodeNames  sessionNames

	tok      *tokenizer
	flavor   Flavor
	haveFlavor bool

	normalizeInput bool // merged layout preprocessor config: zero-mean/unit-std
}

// New inspects modelDir for the legacy or merged Moonshine layout (spec §6)
// and loads whichever is present.
func New(modelDir string, cfg config.BackendConfig) (*Backend, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: initialize onnxruntime")
	}

	legacyEncode := filepath.Join(modelDir, "encode.onnx")
	mergedEncoder := filepath.Join(modelDir, "encoder_model.onnx")

	b := &Backend{}
	var err error
	switch {
	case fileExists(legacyEncode):
		b.legacy = true
		err = b.loadLegacy(modelDir)
	case fileExists(mergedEncoder):
		b.legacy = false
		err = b.loadMerged(modelDir)
	default:
		return nil, transcription.Newf(transcription.ModelNotAvailable, "moonshine: no recognized layout under %q", modelDir)
	}
	if err != nil {
		return nil, err
	}

	b.tok, err = newTokenizer(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: load tokenizer")
	}

	if flavor, ok := flavorTable[cfg.ModelName]; ok {
		b.flavor = flavor
		b.haveFlavor = true
	}

	return b, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (b *Backend) loadLegacy(dir string) error {
	preprocessPath := filepath.Join(dir, "preprocess.onnx")
	encodePath := filepath.Join(dir, "encode.onnx")
	uncachedPath := filepath.Join(dir, "uncached_decode.onnx")
	cachedPath := filepath.Join(dir, "cached_decode.onnx")

	var err error
	if b.preprocess, err = newSession(preprocessPath); err != nil {
		return err
	}
	if b.encoder, err = newSession(encodePath); err != nil {
		return err
	}
	if b.uncachedDecode, err = newSession(uncachedPath); err != nil {
		return err
	}
	if fileExists(cachedPath) {
		if b.cachedDecode, err = newSession(cachedPath); err != nil {
			return err
		}
	}

	encIn, encOut, err := sessionIO(encodePath)
	if err != nil {
		return transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: inspect encode.onnx")
	}
	b.encoderNames = sessionNames{
		inputs:  resolveNames(encIn, "input_features"),
		outputs: resolveNames(encOut, "encoder_states"),
	}

	decIn, decOut, err := sessionIO(uncachedPath)
	if err != nil {
		return transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: inspect uncached_decode.onnx")
	}
	b.decodeNames = sessionNames{
		inputs:  resolveNames(decIn, "input_ids", "use_cache"),
		outputs: resolveNames(decOut, "encoder_states"),
	}
	return nil
}

func (b *Backend) loadMerged(dir string) error {
	encoderPath := filepath.Join(dir, "encoder_model.onnx")
	decoderPath := filepath.Join(dir, "decoder_model_merged.onnx")

	var err error
	if b.encoder, err = newSession(encoderPath); err != nil {
		return err
	}
	if b.cachedDecode, err = newSession(decoderPath); err != nil {
		return err
	}
	b.uncachedDecode = b.cachedDecode // merged graph branches internally on use_cache_branch

	encIn, encOut, err := sessionIO(encoderPath)
	if err != nil {
		return transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: inspect encoder_model.onnx")
	}
	b.encoderNames = sessionNames{
		inputs:  resolveNames(encIn, "input_features", "attention_mask"),
		outputs: resolveNames(encOut, "encoder_states"),
	}

	decIn, decOut, err := sessionIO(decoderPath)
	if err != nil {
		return transcription.Wrap(err, transcription.ModelNotAvailable, "moonshine: inspect decoder_model_merged.onnx")
	}
	b.decodeNames = sessionNames{
		inputs:  resolveNames(decIn, "input_ids", "attention_mask", "use_cache"),
		outputs: resolveNames(decOut, "encoder_states"),
	}

	b.normalizeInput = true // preprocessor_config.json requests normalization for merged exports
	return nil
}

// newSession opens an ONNX model file with onnxruntime_go's dynamic session
// API, which infers input/output names from the model itself; see
// sessionIO, used separately to discover human-readable names for role
// matching.
func newSession(path string) (*ort.DynamicAdvancedSession, error) {
	inputs, outputs, err := sessionIO(path)
	if err != nil {
		return nil, transcription.Wrap(err, transcription.ModelNotAvailable, fmt.Sprintf("moonshine: load %s", filepath.Base(path)))
	}
	session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, nil)
	if err != nil {
		return nil, transcription.Wrap(err, transcription.ModelNotAvailable, fmt.Sprintf("moonshine: load %s", filepath.Base(path)))
	}
	return session, nil
}

// Transcribe implements transcription.Backend (spec §4.7 inference steps).
func (b *Backend) Transcribe(samples []float32, sampleRate int, opts transcription.CommonOptions) (string, error) {
	if sampleRate != 16000 {
		return "", transcription.Newf(transcription.InvalidAudio, "moonshine: expected 16kHz audio, got %d", sampleRate)
	}
	if len(samples) == 0 {
		return "", transcription.New(transcription.InvalidAudio, "moonshine: empty segment")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	features, mask, err := b.computeFeatures(samples)
	if err != nil {
		return "", err
	}

	encoderStates, err := b.runEncoder(features, mask)
	if err != nil {
		return "", err
	}

	seconds := float64(len(samples)) / float64(sampleRate)
	maxTokens := defaultMaxTokens
	if b.haveFlavor && b.flavor.TokenRate > 0 {
		maxTokens = int(math.Ceil(seconds * b.flavor.TokenRate))
	}

	var tokens []int64
	if b.cachedDecode != nil {
		tokens, err = b.greedyCached(encoderStates, maxTokens)
	} else {
		tokens, err = b.greedyUncached(encoderStates, maxTokens)
	}
	if err != nil {
		return "", err
	}

	return b.tok.decode(tokens), nil
}

// computeFeatures runs the legacy preprocess.onnx session, or for merged
// exports normalizes raw samples (zero-mean, unit-std, eps=1e-6) per spec
// §4.7 step 1, building a matching attention mask when required.
func (b *Backend) computeFeatures(samples []float32) (*ort.Tensor[float32], *ort.Tensor[int64], error) {
	if b.legacy {
		shape := ort.NewShape(1, int64(len(samples)))
		input, err := ort.NewTensor(shape, append([]float32(nil), samples...))
		if err != nil {
			return nil, nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: build preprocess input")
		}
		defer input.Destroy()

		outShape := ort.NewShape(1, int64(len(samples)))
		output, err := ort.NewEmptyTensor[float32](outShape)
		if err != nil {
			return nil, nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: allocate preprocess output")
		}

		if err := b.preprocess.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
			output.Destroy()
			return nil, nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: run preprocess")
		}
		return output, nil, nil
	}

	normalized := samples
	if b.normalizeInput {
		normalized = normalizeSamples(samples)
	}

	shape := ort.NewShape(1, int64(len(normalized)))
	input, err := ort.NewTensor(shape, append([]float32(nil), normalized...))
	if err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: build encoder input")
	}

	var mask *ort.Tensor[int64]
	if _, ok := b.encoderNames.inputs["attention_mask"]; ok {
		maskData := make([]int64, len(normalized))
		for i := range maskData {
			maskData[i] = 1
		}
		maskShape := ort.NewShape(1, int64(len(normalized)))
		mask, err = ort.NewTensor(maskShape, maskData)
		if err != nil {
			input.Destroy()
			return nil, nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: build attention mask")
		}
	}

	return input, mask, nil
}

// normalizeSamples applies zero-mean, unit-std normalization (eps=1e-6),
// spec §4.7 step 1.
func normalizeSamples(samples []float32) []float32 {
	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	std := math.Sqrt(variance) + 1e-6

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32((float64(s) - mean) / std)
	}
	return out
}

func (b *Backend) runEncoder(features *ort.Tensor[float32], mask *ort.Tensor[int64]) (*ort.Tensor[float32], error) {
	defer features.Destroy()
	if mask != nil {
		defer mask.Destroy()
	}

	inputs := []ort.Value{features}
	if mask != nil {
		inputs = append(inputs, mask)
	}

	// Output shape is model-dependent; allocate generously and let the
	// runtime report actual dims via GetShape after Run for downstream
	// reshaping in the decode loops.
	outShape := ort.NewShape(1, int64(features.GetShape()[1]), 1)
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: allocate encoder output")
	}

	if err := b.encoder.Run(inputs, []ort.Value{output}); err != nil {
		output.Destroy()
		return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: run encoder")
	}
	return output, nil
}

// Capabilities implements transcription.Backend.
func (b *Backend) Capabilities() transcription.Capabilities {
	return transcription.Capabilities{
		Name:                  "moonshine",
		SupportsStreaming:     false,
		GPUAvailable:          false,
		SupportsInitialPrompt: false,
	}
}

// Close releases every loaded ONNX session.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.preprocess != nil {
		b.preprocess.Destroy()
	}
	if b.encoder != nil {
		b.encoder.Destroy()
	}
	if b.legacy && b.uncachedDecode != nil {
		b.uncachedDecode.Destroy()
	}
	if b.cachedDecode != nil {
		b.cachedDecode.Destroy()
	}
	return nil
}

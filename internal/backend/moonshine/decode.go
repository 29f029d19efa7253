package moonshine

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// greedyUncached implements spec §4.7's uncached greedy loop: feed the
// entire running token sequence plus encoder states (and a scalar
// use_cache_branch=false when the decoder exposes one) every step, argmax
// the last position's logits, stop on EOS or maxTokens. No encoder
// attention mask is passed to the decoder.
func (b *Backend) greedyUncached(encoderStates *ort.Tensor[float32], maxTokens int) ([]int64, error) {
	defer encoderStates.Destroy()

	tokens := []int64{b.tok.bosID}

	for step := 0; step < maxTokens; step++ {
		logits, err := b.decodeStepUncached(tokens, encoderStates)
		if err != nil {
			return nil, err
		}

		next := argmaxLastRow(logits, b.tok.vocabSize())
		tokens = append(tokens, next)
		if next == b.tok.eosID {
			break
		}
	}
	return trimSpecial(tokens, b.tok.bosID, b.tok.eosID), nil
}

func (b *Backend) decodeStepUncached(tokens []int64, encoderStates *ort.Tensor[float32]) ([]float32, error) {
	idsShape := ort.NewShape(1, int64(len(tokens)))
	idsTensor, err := ort.NewTensor(idsShape, append([]int64(nil), tokens...))
	if err != nil {
		return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: build token tensor")
	}
	defer idsTensor.Destroy()

	inputs := []ort.Value{idsTensor, encoderStates}

	if _, ok := b.decodeNames.inputs["use_cache"]; ok {
		useCache, err := ort.NewTensor(ort.NewShape(1), []bool{false})
		if err != nil {
			return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: build use_cache_branch tensor")
		}
		defer useCache.Destroy()
		inputs = append(inputs, useCache)
	}

	vocabSize := b.tok.vocabSize()
	outShape := ort.NewShape(1, int64(len(tokens)), int64(vocabSize))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: allocate logits tensor")
	}
	defer output.Destroy()

	if err := b.uncachedDecode.Run(inputs, []ort.Value{output}); err != nil {
		return nil, transcription.Wrap(err, transcription.InferenceError, "moonshine: run uncached decode")
	}

	data := output.GetData()
	lastStart := (len(tokens) - 1) * vocabSize
	if lastStart < 0 || lastStart+vocabSize > len(data) {
		return nil, transcription.New(transcription.InferenceError, "moonshine: decoder output shorter than expected")
	}
	return append([]float32(nil), data[lastStart:lastStart+vocabSize]...), nil
}

// pastKV holds the key/value tensors threaded between cached-decode steps,
// keyed by ONNX tensor name (the `present_*` output name mapped back to the
// matching `past_key_values.*` input name for the next step).
type pastKV struct {
	values map[string]*ort.Tensor[float32]
}

// greedyCached implements spec §4.7's cached greedy loop: feed only the
// last token, encoder states, and all past KV tensors collected from the
// previous step's present_* outputs, initializing the cache to zero tensors
// on the first step.
func (b *Backend) greedyCached(encoderStates *ort.Tensor[float32], maxTokens int) ([]int64, error) {
	defer encoderStates.Destroy()

	tokens := []int64{b.tok.bosID}
	cache := b.initEmptyCache()
	defer cache.destroy()

	for step := 0; step < maxTokens; step++ {
		last := tokens[len(tokens)-1]
		logits, next, err := b.decodeStepCached(last, encoderStates, cache, step)
		if err != nil {
			return nil, err
		}
		_ = logits
		tokens = append(tokens, next)
		if next == b.tok.eosID {
			break
		}
	}
	return trimSpecial(tokens, b.tok.bosID, b.tok.eosID), nil
}

// initEmptyCache allocates zero-valued past-KV tensors shaped from the
// flavor table (heads, 1, head_dim) when known, or per spec §9's dynamic-dim
// fallback (batch=1, other dims=0) otherwise. The actual tensor set is
// model-specific; this allocates a representative single-layer self/cross
// pair, which decodeStepCached grows lazily from present_* outputs after the
// first step.
func (b *Backend) initEmptyCache() *pastKV {
	heads, headDim := 0, 0
	if b.haveFlavor {
		heads, headDim = b.flavor.Heads, b.flavor.HeadDim
	}

	batch := pastKVDim(0, -1, 1)
	headsDim := pastKVDim(1, -1, heads)
	seqDim := pastKVDim(2, -1, 0)
	dimDim := pastKVDim(3, -1, headDim)

	shape := ort.NewShape(batch, headsDim, seqDim, dimDim)
	cache := &pastKV{values: make(map[string]*ort.Tensor[float32])}

	for _, name := range []string{"past_key", "past_value"} {
		size := int(batch * headsDim * seqDim * dimDim)
		t, err := ort.NewTensor(shape, make([]float32, size))
		if err == nil {
			cache.values[name] = t
		}
	}
	return cache
}

func (c *pastKV) destroy() {
	for _, t := range c.values {
		t.Destroy()
	}
}

func (b *Backend) decodeStepCached(lastToken int64, encoderStates *ort.Tensor[float32], cache *pastKV, step int) ([]float32, int64, error) {
	idsTensor, err := ort.NewTensor(ort.NewShape(1, 1), []int64{lastToken})
	if err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "moonshine: build token tensor")
	}
	defer idsTensor.Destroy()

	inputs := []ort.Value{idsTensor, encoderStates}
	for _, t := range cache.values {
		inputs = append(inputs, t)
	}

	if _, ok := b.decodeNames.inputs["use_cache"]; ok {
		useCache, err := ort.NewTensor(ort.NewShape(1), []bool{step > 0})
		if err != nil {
			return nil, 0, transcription.Wrap(err, transcription.InferenceError, "moonshine: build use_cache_branch tensor")
		}
		defer useCache.Destroy()
		inputs = append(inputs, useCache)
	}

	vocabSize := b.tok.vocabSize()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(vocabSize)))
	if err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "moonshine: allocate logits tensor")
	}
	defer output.Destroy()

	if err := b.cachedDecode.Run(inputs, []ort.Value{output}); err != nil {
		return nil, 0, transcription.Wrap(err, transcription.InferenceError, "moonshine: run cached decode")
	}

	data := output.GetData()
	next := argmaxLastRow(data, vocabSize)
	return data, next, nil
}

func argmaxLastRow(logits []float32, vocabSize int) int64 {
	if len(logits) < vocabSize {
		return 0
	}
	row := logits[len(logits)-vocabSize:]
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return int64(best)
}

func trimSpecial(tokens []int64, bos, eos int64) []int64 {
	out := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		if t == bos || t == eos {
			continue
		}
		out = append(out, t)
	}
	return out
}

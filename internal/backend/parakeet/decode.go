package parakeet

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// maxDecodeSteps bounds the TDT greedy loop (spec §4.8 / property P6: "TDT
// decoding always terminates within a bounded number of steps").
const maxDecodeSteps = 10000

// durationBins is the fixed set of duration values the joiner's duration
// head predicts over (spec §4.8: "5 duration logits").
var durationBins = [5]int64{0, 1, 2, 3, 4}

// tdtState carries the decoder RNN's hidden/cell state between steps.
type tdtState struct {
	h, c *ort.Tensor[float32]
}

func (s *tdtState) destroy() {
	if s.h != nil {
		s.h.Destroy()
	}
	if s.c != nil {
		s.c.Destroy()
	}
}

// greedyDecode runs spec §4.8's TDT greedy loop: at each step, run the
// decoder on the last emitted token and current state to get a decoder
// output, run the joiner against the encoder frame at the current time
// index and the decoder output to get combined token+duration logits,
// argmax the token portion and the duration portion separately, append the
// token if non-blank, and advance time by max(duration, 1). Stops when the
// time index reaches the encoded length or the step budget is exhausted.
func (b *Backend) greedyDecode(encoderOut *ort.Tensor[float32], encodedLen int) ([]int64, error) {
	defer encoderOut.Destroy()

	state, err := b.initDecoderState()
	if err != nil {
		return nil, err
	}
	defer state.destroy()

	var tokens []int64
	lastToken := b.vocab.blankID
	timeIdx := 0

	for step := 0; step < maxDecodeSteps && timeIdx < encodedLen; step++ {
		decOut, newState, err := b.runDecoder(lastToken, state)
		if err != nil {
			return nil, err
		}
		state.destroy()
		state = newState

		tokenLogits, durationLogits, err := b.runJoiner(encoderOut, decOut, timeIdx)
		decOut.Destroy()
		if err != nil {
			return nil, err
		}

		tok := argmax(tokenLogits)
		dur := durationBins[argmax(durationLogits)]

		if tok != b.vocab.blankID {
			tokens = append(tokens, tok)
			lastToken = tok
		}
		if dur < 1 {
			dur = 1
		}
		timeIdx += int(dur)
	}

	return tokens, nil
}

func argmax(logits []float32) int64 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int64(best)
}

func (b *Backend) initDecoderState() (*tdtState, error) {
	shape := ort.NewShape(b.decoderLayers, 1, b.decoderHidden)
	size := int(b.decoderLayers * b.decoderHidden)

	h, err := ort.NewTensor(shape, make([]float32, size))
	if err != nil {
		return nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate decoder hidden state")
	}
	c, err := ort.NewTensor(shape, make([]float32, size))
	if err != nil {
		h.Destroy()
		return nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate decoder cell state")
	}
	return &tdtState{h: h, c: c}, nil
}

func (b *Backend) runDecoder(lastToken int64, state *tdtState) (*ort.Tensor[float32], *tdtState, error) {
	idTensor, err := ort.NewTensor(ort.NewShape(1, 1), []int64{lastToken})
	if err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: build decoder input tensor")
	}
	defer idTensor.Destroy()

	outShape := ort.NewShape(1, 1, b.decoderHidden)
	decOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate decoder output tensor")
	}

	stateShape := ort.NewShape(b.decoderLayers, 1, b.decoderHidden)
	newH, err := ort.NewEmptyTensor[float32](stateShape)
	if err != nil {
		decOut.Destroy()
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate next hidden state")
	}
	newC, err := ort.NewEmptyTensor[float32](stateShape)
	if err != nil {
		decOut.Destroy()
		newH.Destroy()
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate next cell state")
	}

	inputs := []ort.Value{idTensor, state.h, state.c}
	outputs := []ort.Value{decOut, newH, newC}
	if err := b.decoder.Run(inputs, outputs); err != nil {
		decOut.Destroy()
		newH.Destroy()
		newC.Destroy()
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: run decoder")
	}

	return decOut, &tdtState{h: newH, c: newC}, nil
}

// runJoiner evaluates the joiner network at a single encoder time step
// against the decoder output, returning the token-vocabulary logits and the
// 5 duration logits (spec §4.8's combined joiner output split).
func (b *Backend) runJoiner(encoderOut, decOut *ort.Tensor[float32], timeIdx int) (tokenLogits, durationLogits []float32, err error) {
	encData := encoderOut.GetData()
	frameSize := b.encoderDim
	start := timeIdx * int(frameSize)
	if start+int(frameSize) > len(encData) {
		return nil, nil, transcription.New(transcription.InferenceError, "parakeet: encoder time index out of range")
	}
	frame := append([]float32(nil), encData[start:start+int(frameSize)]...)

	frameTensor, err := ort.NewTensor(ort.NewShape(1, 1, frameSize), frame)
	if err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: build joiner frame tensor")
	}
	defer frameTensor.Destroy()

	vocabSize := int64(b.vocab.size())
	outSize := vocabSize + int64(len(durationBins))
	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, outSize))
	if err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: allocate joiner output tensor")
	}
	defer outTensor.Destroy()

	if err := b.joiner.Run([]ort.Value{frameTensor, decOut}, []ort.Value{outTensor}); err != nil {
		return nil, nil, transcription.Wrap(err, transcription.InferenceError, "parakeet: run joiner")
	}

	data := outTensor.GetData()
	tokenLogits = append([]float32(nil), data[:vocabSize]...)
	durationLogits = append([]float32(nil), data[vocabSize:]...)
	return tokenLogits, durationLogits, nil
}

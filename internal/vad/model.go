package vad

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Model wraps the Silero VAD ONNX session. Its recurrent state (shape
// [2,1,128]) is carried across calls exactly like the original's
// `ArrayD<f32>` state tensor threaded through calc_speech_prob.
type Model struct {
	session *ort.DynamicAdvancedSession
	state   []float32 // flattened [2,1,128]
	srInput []int64   // sample-rate scalar tensor, shape [1]

	frameTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]
}

// NewModel loads the Silero VAD ONNX model and initializes recurrent state
// to zeros, matching SileroVad::new.
func NewModel(modelPath string, sampleRate int) (*Model, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("vad: initialize onnxruntime environment: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("vad: load silero model %q: %w", modelPath, err)
	}

	m := &Model{
		session: session,
		state:   make([]float32, 2*1*128),
		srInput: []int64{int64(sampleRate)},
	}
	return m, nil
}

// Reset zeros the recurrent state, matching SileroVad::reset.
func (m *Model) Reset() {
	for i := range m.state {
		m.state[i] = 0
	}
}

// SpeechProb runs one inference step over a frame of exactly FrameSize
// samples (zero-padded by the caller if needed) and returns the raw speech
// probability in [0,1]. Mirrors calc_speech_prob.
func (m *Model) SpeechProb(frame []float32) (float32, error) {
	frameShape := ort.NewShape(1, int64(len(frame)))
	frameTensor, err := ort.NewTensor(frameShape, append([]float32(nil), frame...))
	if err != nil {
		return 0, fmt.Errorf("vad: build frame tensor: %w", err)
	}
	defer frameTensor.Destroy()

	stateShape := ort.NewShape(2, 1, 128)
	stateTensor, err := ort.NewTensor(stateShape, append([]float32(nil), m.state...))
	if err != nil {
		return 0, fmt.Errorf("vad: build state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srShape := ort.NewShape(1)
	srTensor, err := ort.NewTensor(srShape, append([]int64(nil), m.srInput...))
	if err != nil {
		return 0, fmt.Errorf("vad: build sample-rate tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputShape := ort.NewShape(1, 1)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return 0, fmt.Errorf("vad: allocate output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	stateOutShape := ort.NewShape(2, 1, 128)
	stateOutTensor, err := ort.NewEmptyTensor[float32](stateOutShape)
	if err != nil {
		return 0, fmt.Errorf("vad: allocate state-output tensor: %w", err)
	}
	defer stateOutTensor.Destroy()

	if err := m.session.Run(
		[]ort.Value{frameTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateOutTensor},
	); err != nil {
		return 0, fmt.Errorf("vad: session run: %w", err)
	}

	copy(m.state, stateOutTensor.GetData())
	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("vad: empty output tensor")
	}
	return out[0], nil
}

// Close releases the ONNX session.
func (m *Model) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}

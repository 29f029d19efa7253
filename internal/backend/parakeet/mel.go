// Package parakeet implements the Parakeet transcription.Backend variant
// (spec §4.8): a TDT (token-and-duration transducer) over three ONNX
// sessions (encoder, decoder, joiner), with its own hand-rolled mel
// spectrogram feature extractor (spec's fixed parameters: 16kHz, FFT 512,
// window 400 Hann, hop 160, 128 mels, pre-emphasis 0.97). Grounded on the
// same onnxruntime_go session pattern as internal/backend/moonshine; the FFT
// itself uses gonum's dsp/fourier (gonum is already an indirect dependency
// of the retrieved lookatitude-beluga-ai repo — no pack repo performs audio
// FFT directly, so this is the nearest ecosystem library rather than a
// hand-rolled DFT; see DESIGN.md).
package parakeet

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	sampleRate   = 16000
	fftSize      = 512
	windowSize   = 400
	hopSize      = 160
	numMels      = 128
	preEmphasis  = 0.97
	logFloor     = 1e-10
)

// extractMel implements spec §4.8's feature-extraction algorithm: pre-
// emphasis, framing/windowing, FFT power spectrum, mel filterbank, log,
// per-bin z-score normalization, shaped [1, numMels, T]. Pure function of
// samples (P5 determinism).
func extractMel(samples []float32) (data []float32, numFrames int) {
	emphasized := applyPreEmphasis(samples)

	if len(emphasized) < windowSize {
		return nil, 0
	}
	numFrames = (len(emphasized)-windowSize)/hopSize + 1
	if numFrames <= 0 {
		return nil, 0
	}

	window := hannWindow(windowSize)
	fb := melFilterbank(numMels, fftSize, sampleRate)
	fft := fourier.NewFFT(fftSize)

	// mel[m][t]
	mel := make([][]float64, numMels)
	for m := range mel {
		mel[m] = make([]float64, numFrames)
	}

	frame := make([]float64, fftSize)
	for t := 0; t < numFrames; t++ {
		start := t * hopSize
		for i := range frame {
			frame[i] = 0
		}
		for i := 0; i < windowSize; i++ {
			frame[i] = float64(emphasized[start+i]) * window[i]
		}

		spectrum := fft.Coefficients(nil, frame)
		power := make([]float64, fftSize/2+1)
		for k, c := range spectrum {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}

		for m := 0; m < numMels; m++ {
			var sum float64
			for k, w := range fb[m] {
				if w != 0 {
					sum += w * power[k]
				}
			}
			if sum < logFloor {
				sum = logFloor
			}
			mel[m][t] = math.Log(sum)
		}
	}

	normalizePerBin(mel)

	data = make([]float32, numMels*numFrames)
	for m := 0; m < numMels; m++ {
		for t := 0; t < numFrames; t++ {
			data[m*numFrames+t] = float32(mel[m][t])
		}
	}
	return data, numFrames
}

func applyPreEmphasis(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	out := make([]float32, len(samples))
	out[0] = samples[0]
	for n := 1; n < len(samples); n++ {
		out[n] = samples[n] - preEmphasis*samples[n-1]
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// hzToMel implements spec §4.8's piecewise mel scale: linear below 1kHz at
// hz/200*3, log above.
func hzToMel(hz float64) float64 {
	const breakFreq = 1000.0
	const breakMel = breakFreq / 200.0 * 3.0
	if hz < breakFreq {
		return hz / 200.0 * 3.0
	}
	logStep := math.Log(6.4) / 27.0
	return breakMel + math.Log(hz/breakFreq)/logStep
}

func melToHz(mel float64) float64 {
	const breakFreq = 1000.0
	const breakMel = breakFreq / 200.0 * 3.0
	if mel < breakMel {
		return mel * 200.0 / 3.0
	}
	logStep := math.Log(6.4) / 27.0
	return breakFreq * math.Exp(logStep*(mel-breakMel))
}

// melFilterbank builds a Slaney-normalized triangular mel filterbank: each
// filter divided by its frequency-domain area so equal-energy inputs
// produce equal-energy mel outputs.
func melFilterbank(numMels, fftSize, sampleRate int) [][]float64 {
	numBins := fftSize/2 + 1
	nyquist := float64(sampleRate) / 2

	minMel := hzToMel(0)
	maxMel := hzToMel(nyquist)

	points := make([]float64, numMels+2)
	for i := range points {
		m := minMel + (maxMel-minMel)*float64(i)/float64(numMels+1)
		points[i] = melToHz(m)
	}

	binFreqs := make([]float64, numBins)
	for k := range binFreqs {
		binFreqs[k] = float64(k) * float64(sampleRate) / float64(fftSize)
	}

	fb := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		fb[m] = make([]float64, numBins)
		left, center, right := points[m], points[m+1], points[m+2]

		for k, f := range binFreqs {
			var weight float64
			switch {
			case f >= left && f <= center && center > left:
				weight = (f - left) / (center - left)
			case f > center && f <= right && right > center:
				weight = (right - f) / (right - center)
			}
			fb[m][k] = weight
		}

		// Slaney normalization: divide by the filter's frequency-domain area.
		area := 2.0 / (right - left)
		for k := range fb[m] {
			fb[m][k] *= area
		}
	}
	return fb
}

// normalizePerBin applies per-mel-bin z-score normalization across time
// (spec §4.8 step 5).
func normalizePerBin(mel [][]float64) {
	for m := range mel {
		row := mel[m]
		if len(row) == 0 {
			continue
		}
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(len(row))

		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(len(row))
		std := math.Sqrt(variance)
		if std < 1e-6 {
			std = 1e-6
		}

		for t := range row {
			row[t] = (row[t] - mean) / std
		}
	}
}

package diarization

import (
	"fmt"
	"log"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/dsp/fourier"
)

// EncoderConfig configures the ONNX speaker encoder: log-mel frontend
// parameters plus the model file itself.
type EncoderConfig struct {
	ModelPath  string
	SampleRate int
	NMels      int
	HopLength  int
	WinLength  int
	NFFT       int
}

// DefaultEncoderConfig returns the frontend parameters a WeSpeaker
// ResNet34 embedding model expects: 80 mel bins, 25ms windows on a 10ms
// hop, at 16kHz.
func DefaultEncoderConfig(modelPath string) EncoderConfig {
	return EncoderConfig{
		ModelPath:  modelPath,
		SampleRate: 16000,
		NMels:      80,
		HopLength:  160,
		WinLength:  400,
		NFFT:       512,
	}
}

// Encoder is the onnxruntime-backed Embedder: it turns mono PCM into a
// fixed-dimension, L2-normalized speaker embedding.
type Encoder struct {
	config  EncoderConfig
	session *ort.DynamicAdvancedSession
	mel     *melProcessor
	mu      sync.Mutex
}

var (
	onnxInitOnce sync.Once
	onnxInitErr  error
)

// NewEncoder loads the ONNX model at config.ModelPath and initializes the
// ONNX Runtime environment on first use (shared process-wide, per the
// onnxruntime_go API).
func NewEncoder(config EncoderConfig) (*Encoder, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("speaker encoder model not found: %s", config.ModelPath)
	}

	onnxInitOnce.Do(func() {
		onnxInitErr = initONNXRuntime()
	})
	if onnxInitErr != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", onnxInitErr)
	}

	e := &Encoder{
		config: config,
		mel: newMelProcessor(melConfig{
			SampleRate: config.SampleRate,
			NMels:      config.NMels,
			HopLength:  config.HopLength,
			WinLength:  config.WinLength,
			NFFT:       config.NFFT,
		}),
	}
	if err := e.loadModel(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Encoder) loadModel() error {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(e.config.ModelPath)
	if err != nil {
		return fmt.Errorf("read model io info: %w", err)
	}

	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(e.config.ModelPath, inputNames, outputNames, options)
	if err != nil {
		return fmt.Errorf("create onnx session: %w", err)
	}
	e.session = session
	return nil
}

// Encode extracts an L2-normalized embedding from mono PCM at
// config.SampleRate, satisfying the Embedder interface.
func (e *Encoder) Encode(samples []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("encoder not initialized")
	}
	if len(samples) < e.config.SampleRate/10 {
		return nil, fmt.Errorf("audio too short to embed")
	}

	melSpec, numFrames := e.mel.compute(samples)

	// WeSpeaker's exported ONNX graph expects [batch, frames, mels].
	flatInput := make([]float32, numFrames*e.config.NMels)
	for t := 0; t < numFrames; t++ {
		for m := 0; m < e.config.NMels; m++ {
			flatInput[t*e.config.NMels+m] = melSpec[t][m]
		}
	}

	inputShape := ort.NewShape(1, int64(numFrames), int64(e.config.NMels))
	inputTensor, err := ort.NewTensor(inputShape, flatInput)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	outputTensor := outputs[0].(*ort.Tensor[float32])
	normalized := normalizeVector(outputTensor.GetData())
	result := make([]float32, len(normalized))
	copy(result, normalized)
	return result, nil
}

// Close releases the ONNX session.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}

func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x * x)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm < 1e-6 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// initONNXRuntime locates the onnxruntime shared library and starts the
// environment. Searches the environment variable first, then a few
// paths relative to the working directory and the system library
// directories /usr/lib and /usr/local/lib.
func initONNXRuntime() error {
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		for _, candidate := range []string{
			"../Resources/libonnxruntime.1.22.0.dylib",
			"../Resources/libonnxruntime.dylib",
			"./libonnxruntime.1.22.0.dylib",
			"./libonnxruntime.dylib",
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
		} {
			if _, err := os.Stat(candidate); err == nil {
				libPath = candidate
				break
			}
		}
	}
	if libPath == "" {
		return fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}

	log.Printf("diarization: using onnxruntime at %s", libPath)
	ort.SetSharedLibraryPath(libPath)
	return ort.InitializeEnvironment()
}

// melConfig parameterizes the log-mel frontend.
type melConfig struct {
	SampleRate int
	NMels      int
	HopLength  int
	WinLength  int
	NFFT       int
}

// melProcessor computes a log-mel spectrogram compatible with
// torchaudio/librosa's left-aligned (center=false) framing.
type melProcessor struct {
	config     melConfig
	melFilters [][]float64
	window     []float64
	fft        *fourier.FFT
}

func newMelProcessor(config melConfig) *melProcessor {
	return &melProcessor{
		config:     config,
		melFilters: melFilterbank(config.NFFT, config.NMels, config.SampleRate),
		window:     hannWindow(config.WinLength),
		fft:        fourier.NewFFT(config.NFFT),
	}
}

func (p *melProcessor) compute(samples []float32) ([][]float32, int) {
	var numFrames int
	if len(samples) >= p.config.WinLength {
		numFrames = (len(samples)-p.config.WinLength)/p.config.HopLength + 1
	} else {
		numFrames = 1
	}

	melSpec := make([][]float32, numFrames)
	for frame := 0; frame < numFrames; frame++ {
		frameStart := frame * p.config.HopLength

		frameData := make([]float64, p.config.NFFT)
		for i := 0; i < p.config.WinLength; i++ {
			sampleIdx := frameStart + i
			if sampleIdx >= 0 && sampleIdx < len(samples) {
				frameData[i] = float64(samples[sampleIdx]) * p.window[i]
			}
		}

		coeffs := p.fft.Coefficients(nil, frameData)

		powerSpec := make([]float64, p.config.NFFT/2+1)
		for i := 0; i <= p.config.NFFT/2; i++ {
			re := real(coeffs[i])
			im := imag(coeffs[i])
			powerSpec[i] = re*re + im*im
		}

		melSpec[frame] = make([]float32, p.config.NMels)
		for m := 0; m < p.config.NMels; m++ {
			sum := 0.0
			for k := 0; k < len(powerSpec); k++ {
				sum += powerSpec[k] * p.melFilters[m][k]
			}
			if sum < 1e-9 {
				sum = 1e-9
			}
			melSpec[frame][m] = float32(math.Log(sum))
		}
	}
	return melSpec, numFrames
}

// melFilterbank builds a torchaudio/librosa-compatible triangular mel
// filterbank (HTK mel scale).
func melFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	numBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0

	allFreqs := make([]float64, numBins)
	for i := 0; i < numBins; i++ {
		allFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMin := hzToMel(0)
	mMax := hzToMel(fMax)
	fPts := make([]float64, nMels+2)
	for i := 0; i < nMels+2; i++ {
		fPts[i] = melToHz(mMin + float64(i)*(mMax-mMin)/float64(nMels+1))
	}

	fDiff := make([]float64, nMels+1)
	for i := 0; i < nMels+1; i++ {
		fDiff[i] = fPts[i+1] - fPts[i]
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			freq := allFreqs[k]
			lower := (freq - fPts[m]) / fDiff[m]
			upper := (fPts[m+2] - freq) / fDiff[m+1]
			val := math.Min(lower, upper)
			if val < 0 {
				val = 0
			}
			filters[m][k] = val
		}
	}
	return filters
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

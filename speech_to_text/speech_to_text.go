package speech_to_text

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	vosk "github.com/alphacep/vosk-api/go"
	"go.uber.org/zap"
)

type sttImpl struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	logger     *zap.Logger
}

type Config struct {
	// ModelPath is the directory of an extracted Vosk model. A bad path
	// fails construction; it is reported, not retried.
	ModelPath  string
	SampleRate int
	Logger     *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is empty")
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model %q: %w", cfg.ModelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("creating recognizer: %w", err)
	}

	logger.Info("recognizer ready",
		zap.String("model", cfg.ModelPath),
		zap.Int("sample_rate", sampleRate))

	return &sttImpl{
		model:      model,
		recognizer: recognizer,
		logger:     logger,
	}, nil
}

func (s *sttImpl) Accept(samples []int16) (Result, bool) {
	if len(samples) == 0 {
		return Result{}, false
	}

	if s.recognizer.AcceptWaveform(pcmBytes(samples)) != 0 {
		if text := decodeText(s.recognizer.Result(), "text"); text != "" {
			return Result{Text: text, Final: true}, true
		}

		return Result{}, false
	}

	if partial := decodeText(s.recognizer.PartialResult(), "partial"); partial != "" {
		return Result{Text: partial, Final: false}, true
	}

	return Result{}, false
}

func (s *sttImpl) Flush() (Result, bool) {
	if text := decodeText(s.recognizer.FinalResult(), "text"); text != "" {
		return Result{Text: text, Final: true}, true
	}

	return Result{}, false
}

func (s *sttImpl) Close() {
	// The binding frees the native model and recognizer via finalizers.
	s.recognizer = nil
	s.model = nil
}

// pcmBytes converts samples to the little-endian byte layout the engine
// expects.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// decodeText pulls one string field out of the engine's JSON result.
func decodeText(raw, field string) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ""
	}

	text, _ := parsed[field].(string)

	return strings.TrimSpace(text)
}

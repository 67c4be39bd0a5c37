package listener

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
	"go.uber.org/zap"

	"voice-gamepad/ring_buffer"
)

const (
	// preRollSamples of audio kept before the detected onset, so the
	// first words of an utterance make it into the file.
	preRollSamples = 8192
	// maxRecordingSeconds bounds a recording when no final result
	// arrives.
	maxRecordingSeconds = 30
)

// recorder writes each recognized utterance to a timestamped wav file.
// All methods are nil-safe so the pipeline can run with recording
// disabled. Only the capture worker touches a recorder.
type recorder struct {
	fileSys    afero.Fs
	dir        string
	sampleRate int
	logger     *zap.Logger

	preRoll *ring_buffer.Buffer
	samples []int16
	active  bool
}

func newRecorder(fileSys afero.Fs, dir string, sampleRate int, logger *zap.Logger) (*recorder, error) {
	if dir == "" {
		dir = "recordings"
	}

	if err := fileSys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recordings dir: %w", err)
	}

	return &recorder{
		fileSys:    fileSys,
		dir:        dir,
		sampleRate: sampleRate,
		logger:     logger,
		preRoll:    ring_buffer.New(preRollSamples),
	}, nil
}

// begin starts a recording at a speech onset, seeded with the pre-roll.
func (r *recorder) begin() {
	if r == nil || r.active {
		return
	}

	r.active = true
	r.samples = append(r.samples[:0], r.preRoll.Read()...)
}

func (r *recorder) add(samples []int16) {
	if r == nil {
		return
	}

	if !r.active {
		r.preRoll.Add(samples)
		return
	}

	if len(r.samples) < r.sampleRate*maxRecordingSeconds {
		r.samples = append(r.samples, samples...)
	}
}

// finish writes the buffered utterance and resets for the next one.
func (r *recorder) finish() {
	if r == nil || !r.active {
		return
	}

	r.active = false
	r.preRoll.Clear()

	if len(r.samples) == 0 {
		return
	}

	name := filepath.Join(r.dir, "utterance-"+strconv.FormatInt(time.Now().UnixNano(), 10)+".wav")

	if err := r.write(name); err != nil {
		r.logger.Warn("writing utterance recording", zap.Error(err))
		return
	}

	r.logger.Debug("utterance recorded",
		zap.String("file", name),
		zap.Int("samples", len(r.samples)))
}

func (r *recorder) write(name string) error {
	file, err := r.fileSys.Create(name)
	if err != nil {
		return err
	}

	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           file,
		Channel:       1,
		SampleRate:    r.sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := writer.WriteSample16(r.samples); err != nil {
		return err
	}

	return nil
}

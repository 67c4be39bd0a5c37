package listener

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"voice-gamepad/audio_capture"
	"voice-gamepad/command_parser"
	"voice-gamepad/mappings"
	"voice-gamepad/speech_to_text"
	"voice-gamepad/virtual_pad"
	"voice-gamepad/voice_activity"
)

// fluxRiseFactor marks a speech onset or fade in the spectral flux,
// relative to the running background value.
const fluxRiseFactor = 1.75

var (
	ErrAlreadyRunning = errors.New("pipeline is already running")
	ErrRunning        = errors.New("pipeline must be stopped first")
)

type Config struct {
	Capture audio_capture.Interface
	Engine  speech_to_text.Interface
	Parser  *command_parser.Parser
	Pad     *virtual_pad.Pad

	// FileSys and RecordingsDir enable utterance recording when
	// RecordUtterances is set.
	FileSys          afero.Fs
	RecordUtterances bool
	RecordingsDir    string

	SampleRate int
	Logger     *zap.Logger
}

type listenerImpl struct {
	capture audio_capture.Interface
	engine  speech_to_text.Interface
	parser  *command_parser.Parser
	pad     *virtual_pad.Pad
	logger  *zap.Logger
	rec     *recorder

	events chan Event

	mu      sync.Mutex
	state   State
	paused  bool
	running bool
	stopC   chan struct{}
	wg      sync.WaitGroup
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Capture == nil {
		return nil, fmt.Errorf("capture is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	if cfg.Parser == nil {
		return nil, fmt.Errorf("parser is nil")
	}

	if cfg.Pad == nil {
		return nil, fmt.Errorf("pad is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio_capture.DefaultTargetRate
	}

	var rec *recorder
	if cfg.RecordUtterances {
		if cfg.FileSys == nil {
			return nil, fmt.Errorf("fileSys is nil with recording enabled")
		}

		var err error
		rec, err = newRecorder(cfg.FileSys, cfg.RecordingsDir, sampleRate, logger)
		if err != nil {
			return nil, err
		}
	}

	return &listenerImpl{
		capture: cfg.Capture,
		engine:  cfg.Engine,
		parser:  cfg.Parser,
		pad:     cfg.Pad,
		logger:  logger,
		rec:     rec,
		events:  make(chan Event, 128),
		state:   StateIdle,
	}, nil
}

func (v *listenerImpl) Start() error {
	v.mu.Lock()

	if v.running {
		v.mu.Unlock()
		return ErrAlreadyRunning
	}

	if err := v.capture.Open(); err != nil {
		// Fatal to the session: the pipeline stays where it was.
		v.mu.Unlock()
		return fmt.Errorf("opening capture: %w", err)
	}

	v.running = true
	v.paused = false
	v.stopC = make(chan struct{})
	v.setStateLocked(StateListening, "")

	stopC := v.stopC
	capture := v.capture
	v.wg.Add(1)
	v.mu.Unlock()

	go v.run(stopC, capture)

	return nil
}

// Stop cancels the capture loop at the next read boundary and waits for
// it to finish. All controller inputs are released before the device is.
func (v *listenerImpl) Stop() {
	v.mu.Lock()

	if !v.running {
		v.mu.Unlock()
		return
	}

	v.running = false
	close(v.stopC)
	v.mu.Unlock()

	v.wg.Wait()
}

// Pause suspends frame consumption without touching controller state.
// Pending auto-releases keep their schedule.
func (v *listenerImpl) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateListening {
		v.logger.Debug("pause ignored", zap.String("state", string(v.state)))
		return
	}

	v.paused = true
	v.setStateLocked(StatePaused, "")
}

func (v *listenerImpl) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StatePaused {
		v.logger.Debug("resume ignored", zap.String("state", string(v.state)))
		return
	}

	v.paused = false
	v.setStateLocked(StateListening, "")
}

func (v *listenerImpl) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.state
}

func (v *listenerImpl) Events() <-chan Event {
	return v.events
}

// SetMappings installs a new mapping set. Everything held under the old
// set is released before the new index becomes active, so a profile
// switch mid-hold cannot strand a pressed input.
func (v *listenerImpl) SetMappings(set []mappings.Mapping) []string {
	v.pad.ReleaseAll()
	return v.parser.Update(set)
}

// SetCapture swaps the capture source for a device change. The pipeline
// must be fully stopped; this prevents two concurrent capture loops on
// one session.
func (v *listenerImpl) SetCapture(capture audio_capture.Interface) error {
	if capture == nil {
		return fmt.Errorf("capture is nil")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return ErrRunning
	}

	v.capture = capture

	return nil
}

// run is the dedicated capture worker: read, normalize, recognize, match,
// actuate. It owns the loop end to end and is never blocked by consumers.
func (v *listenerImpl) run(stopC chan struct{}, capture audio_capture.Interface) {
	defer v.wg.Done()

	var readErr error

	// Runs after the cleanup below. The error state is published only once
	// the device is closed, so a caller reacting to the event can Start
	// again without racing this worker's teardown.
	defer func() {
		if readErr != nil {
			v.markStopped()
			v.setState(StateError, readErr.Error())
		}
	}()

	defer func() {
		v.pad.ReleaseAll()
		if err := capture.Close(); err != nil {
			v.logger.Warn("closing capture", zap.Error(err))
		}
	}()

	var (
		vad      *voice_activity.Detector
		lastFlux float64
		speaking bool
	)

	for {
		select {
		case <-stopC:
			if res, ok := v.engine.Flush(); ok && res.Final {
				v.handleFinal(res.Text)
			}
			v.setState(StateStopped, "")
			return
		default:
		}

		frame, err := capture.Read()
		if err != nil {
			// Fail closed: release everything and stop the loop rather
			// than continue with stale state.
			v.logger.Error("capture read failed", zap.Error(err))
			readErr = err
			return
		}

		if vad == nil {
			vad = voice_activity.New(len(frame.Samples))
		}

		// The speaking edge machine is frozen while paused so an onset in
		// discarded audio cannot start a recording with a stale pre-roll.
		paused := v.isPaused()

		flux := vad.Flux(frame.Samples)
		if !paused {
			switch {
			case lastFlux == 0:
				lastFlux = flux
			case !speaking && flux >= lastFlux*fluxRiseFactor:
				speaking = true
				v.rec.begin()
			case speaking && flux*fluxRiseFactor <= lastFlux:
				speaking = false
			}
			if !speaking {
				lastFlux = flux
			}
		}

		v.emit(Event{Kind: EventLevel, Level: frame.Level, Speaking: speaking})

		if paused {
			continue
		}

		v.rec.add(frame.Samples)

		res, ok := v.engine.Accept(frame.Samples)
		if !ok {
			continue
		}

		if res.Final {
			v.handleFinal(res.Text)
		} else {
			v.emit(Event{Kind: EventPartial, Text: res.Text})
		}
	}
}

func (v *listenerImpl) handleFinal(text string) {
	v.logger.Info("recognized", zap.String("text", text))

	event := Event{Kind: EventCommand, Text: text}

	if mapping, found := v.parser.Parse(text); found {
		v.pad.Execute(mapping)
		event.Mapping = &mapping

		v.logger.Info("executed",
			zap.String("voice_command", mapping.VoiceCommand),
			zap.String("target_input", mapping.TargetInput),
			zap.String("action", string(mapping.Action)))
	}

	v.emit(event)
	v.rec.finish()
}

func (v *listenerImpl) isPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.paused
}

// markStopped flips the running flag when the worker terminates itself,
// so a later Stop is a no-op.
func (v *listenerImpl) markStopped() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.running = false
}

func (v *listenerImpl) setState(state State, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.setStateLocked(state, message)
}

func (v *listenerImpl) setStateLocked(state State, message string) {
	v.state = state
	v.emit(Event{Kind: EventStatus, State: state, Message: message})
}

// emit never blocks the capture loop; a slow consumer loses events.
func (v *listenerImpl) emit(event Event) {
	select {
	case v.events <- event:
	default:
		v.logger.Debug("event dropped", zap.String("kind", string(event.Kind)))
	}
}

package listener

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-gamepad/audio_capture"
	"voice-gamepad/command_parser"
	"voice-gamepad/mappings"
	"voice-gamepad/speech_to_text"
	"voice-gamepad/virtual_pad"
)

// fakeCapture emits queued frames, padding with silence so the worker's
// blocking read always returns within one "hardware buffer".
type fakeCapture struct {
	mu      sync.Mutex
	frames  []audio_capture.Frame
	openErr error
	readErr error
	opens   int
	closes  int
}

func (c *fakeCapture) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErr != nil {
		return c.openErr
	}

	c.opens++

	return nil
}

func (c *fakeCapture) Read() (audio_capture.Frame, error) {
	// Pace the loop like a real device would.
	time.Sleep(2 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readErr != nil {
		return audio_capture.Frame{}, c.readErr
	}

	if len(c.frames) > 0 {
		frame := c.frames[0]
		c.frames = c.frames[1:]
		return frame, nil
	}

	return audio_capture.Frame{Samples: make([]int16, 160)}, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++

	return nil
}

func (c *fakeCapture) failReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readErr = err
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closes
}

// fakeEngine pops queued results on successive Accept calls.
type fakeEngine struct {
	mu      sync.Mutex
	queue   []speech_to_text.Result
	flush   *speech_to_text.Result
	accepts int
}

func (e *fakeEngine) Accept(samples []int16) (speech_to_text.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.accepts++

	if len(e.queue) == 0 {
		return speech_to_text.Result{}, false
	}

	res := e.queue[0]
	e.queue = e.queue[1:]

	return res, true
}

func (e *fakeEngine) Flush() (speech_to_text.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flush == nil {
		return speech_to_text.Result{}, false
	}

	res := *e.flush
	e.flush = nil

	return res, true
}

func (e *fakeEngine) Close() {}

func (e *fakeEngine) push(res speech_to_text.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append(e.queue, res)
}

func (e *fakeEngine) acceptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.accepts
}

type testRig struct {
	listener Interface
	capture  *fakeCapture
	engine   *fakeEngine
	pad      *virtual_pad.Pad
	parser   *command_parser.Parser
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	capture := &fakeCapture{}
	engine := &fakeEngine{}

	pad, err := virtual_pad.New(virtual_pad.NoopDriver{}, nil)
	require.NoError(t, err)

	parser := command_parser.New(nil)
	problems := parser.Update([]mappings.Mapping{
		{VoiceCommand: "jump", TargetInput: "a", Action: mappings.ActionTap, DurationMs: 200},
		{VoiceCommand: "block", TargetInput: "b", Action: mappings.ActionHold},
		{VoiceCommand: "walk left", TargetInput: "left_stick_x", Action: mappings.ActionAnalog, AnalogValue: -0.5},
	})
	require.Empty(t, problems)

	l, err := New(&Config{
		Capture: capture,
		Engine:  engine,
		Parser:  parser,
		Pad:     pad,
	})
	require.NoError(t, err)

	return &testRig{listener: l, capture: capture, engine: engine, pad: pad, parser: parser}
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within deadline", kind)
		}
	}
}

func waitStatus(t *testing.T, events <-chan Event, state State) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventStatus && ev.State == state {
				return ev
			}
		case <-deadline:
			t.Fatalf("no status %q within deadline", state)
		}
	}
}

func TestListener_Lifecycle(t *testing.T) {
	rig := newTestRig(t)

	assert.Equal(t, StateIdle, rig.listener.State())

	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)

	rig.listener.Stop()
	assert.Equal(t, StateStopped, rig.listener.State())
	assert.Equal(t, 1, rig.capture.closeCount())
}

func TestListener_StartTwice(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	assert.ErrorIs(t, rig.listener.Start(), ErrAlreadyRunning)

	rig.listener.Stop()
}

func TestListener_OpenFailureIsFatal(t *testing.T) {
	rig := newTestRig(t)
	rig.capture.openErr = errors.New("device busy")

	err := rig.listener.Start()
	require.Error(t, err)
	assert.Equal(t, StateIdle, rig.listener.State())
}

func TestListener_RestartAfterStop(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	rig.listener.Stop()

	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)
	rig.listener.Stop()

	assert.Equal(t, 2, rig.capture.closeCount())
}

func TestListener_FinalResultActuates(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "jump", Final: true})

	ev := waitEvent(t, rig.listener.Events(), EventCommand)
	assert.Equal(t, "jump", ev.Text)
	require.NotNil(t, ev.Mapping)
	assert.Equal(t, "a", ev.Mapping.TargetInput)
	assert.True(t, rig.pad.Held("a"))
}

func TestListener_AnalogMappingSetsAxis(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "walk left", Final: true})

	ev := waitEvent(t, rig.listener.Events(), EventCommand)
	require.NotNil(t, ev.Mapping)
	assert.Equal(t, -0.5, rig.pad.AxisValue("left_stick_x"))
	assert.Zero(t, rig.pad.PendingTimers())
}

func TestListener_PartialResultIsAdvisory(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "ju", Final: false})

	ev := waitEvent(t, rig.listener.Events(), EventPartial)
	assert.Equal(t, "ju", ev.Text)
	assert.False(t, rig.pad.Held("a"))
}

func TestListener_UnmatchedFinal(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "make me a sandwich", Final: true})

	ev := waitEvent(t, rig.listener.Events(), EventCommand)
	assert.Equal(t, "make me a sandwich", ev.Text)
	assert.Nil(t, ev.Mapping)
}

func TestListener_LevelEventsFlow(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	waitEvent(t, rig.listener.Events(), EventLevel)
}

func TestListener_PauseDiscardsFrames(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	waitStatus(t, rig.listener.Events(), StateListening)
	rig.listener.Pause()
	waitStatus(t, rig.listener.Events(), StatePaused)

	// Let the pause settle, then verify no frames reach the engine.
	time.Sleep(20 * time.Millisecond)
	before := rig.engine.acceptCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, rig.engine.acceptCount())

	rig.listener.Resume()
	waitStatus(t, rig.listener.Events(), StateListening)

	deadline := time.Now().Add(time.Second)
	for rig.engine.acceptCount() == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, rig.engine.acceptCount(), before)
}

func TestListener_PauseWhenNotListeningIsNoOp(t *testing.T) {
	rig := newTestRig(t)

	rig.listener.Pause()
	assert.Equal(t, StateIdle, rig.listener.State())

	require.NoError(t, rig.listener.Start())
	rig.listener.Pause()
	rig.listener.Pause() // pausing an already-paused pipeline
	assert.Equal(t, StatePaused, rig.listener.State())

	rig.listener.Stop()
}

func TestListener_PauseKeepsTimersRunning(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "jump", Final: true})
	waitEvent(t, rig.listener.Events(), EventCommand)
	require.True(t, rig.pad.Held("a"))

	rig.listener.Pause()

	// The 200ms tap release fires on schedule even while paused.
	deadline := time.Now().Add(time.Second)
	for rig.pad.Held("a") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, rig.pad.Held("a"))
}

func TestListener_StopReleasesHeldInputs(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())

	rig.engine.push(speech_to_text.Result{Text: "block", Final: true})
	waitEvent(t, rig.listener.Events(), EventCommand)
	require.True(t, rig.pad.Held("b"))

	rig.listener.Stop()
	assert.False(t, rig.pad.Held("b"))
}

func TestListener_ReadErrorFailsClosed(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)

	rig.engine.push(speech_to_text.Result{Text: "block", Final: true})
	waitEvent(t, rig.listener.Events(), EventCommand)
	require.True(t, rig.pad.Held("b"))

	rig.capture.failReads(errors.New("stream went away"))

	ev := waitStatus(t, rig.listener.Events(), StateError)
	assert.Contains(t, ev.Message, "stream went away")

	// The loop stopped itself: device released, nothing left asserted.
	deadline := time.Now().Add(time.Second)
	for rig.capture.closeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, rig.capture.closeCount())
	assert.False(t, rig.pad.Held("b"))

	// Stop after a self-terminated loop is a harmless no-op.
	rig.listener.Stop()
}

func TestListener_RestartAfterReadError(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)

	rig.capture.failReads(errors.New("stream went away"))
	waitStatus(t, rig.listener.Events(), StateError)

	// The device was already released when the error state arrived, so an
	// immediate restart cannot race the dying worker's teardown.
	assert.Equal(t, 1, rig.capture.closeCount())

	rig.capture.failReads(nil)
	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)

	rig.listener.Stop()
	assert.Equal(t, 2, rig.capture.closeCount())
}

func toneFrame(n int, freq, amplitude float64) audio_capture.Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return audio_capture.Frame{Samples: samples, Level: amplitude}
}

func TestListener_PausedOnsetDoesNotStartRecording(t *testing.T) {
	fileSys := afero.NewMemMapFs()
	capture := &fakeCapture{}
	engine := &fakeEngine{}

	pad, err := virtual_pad.New(virtual_pad.NoopDriver{}, nil)
	require.NoError(t, err)

	parser := command_parser.New(nil)
	require.Empty(t, parser.Update([]mappings.Mapping{
		{VoiceCommand: "jump", TargetInput: "a", Action: mappings.ActionTap, DurationMs: 200},
	}))

	l, err := New(&Config{
		Capture:          capture,
		Engine:           engine,
		Parser:           parser,
		Pad:              pad,
		FileSys:          fileSys,
		RecordUtterances: true,
		RecordingsDir:    "recordings",
		SampleRate:       16000,
	})
	require.NoError(t, err)

	require.NoError(t, l.Start())
	waitStatus(t, l.Events(), StateListening)

	l.Pause()
	waitStatus(t, l.Events(), StatePaused)

	// A quiet tone then a loud one at another pitch: a clear flux onset,
	// entirely inside the pause.
	capture.mu.Lock()
	capture.frames = append(capture.frames,
		toneFrame(160, 440, 0.02),
		toneFrame(160, 880, 0.9),
		toneFrame(160, 880, 0.9),
	)
	capture.mu.Unlock()

	// Let the paused loop consume the queued frames.
	time.Sleep(100 * time.Millisecond)

	l.Resume()
	waitStatus(t, l.Events(), StateListening)

	engine.push(speech_to_text.Result{Text: "jump", Final: true})
	waitEvent(t, l.Events(), EventCommand)

	l.Stop()

	// No recording began during the pause, so the final wrote no file.
	files, err := afero.ReadDir(fileSys, "recordings")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListener_SetMappingsReleasesBeforeSwap(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	defer rig.listener.Stop()

	rig.engine.push(speech_to_text.Result{Text: "block", Final: true})
	waitEvent(t, rig.listener.Events(), EventCommand)
	require.True(t, rig.pad.Held("b"))

	problems := rig.listener.SetMappings([]mappings.Mapping{
		{VoiceCommand: "fire", TargetInput: "x", Action: mappings.ActionTap, DurationMs: 100},
	})
	assert.Empty(t, problems)

	// The mid-hold press was released before the new index went live.
	assert.False(t, rig.pad.Held("b"))

	_, ok := rig.parser.Parse("block")
	assert.False(t, ok)

	_, ok = rig.parser.Parse("fire")
	assert.True(t, ok)
}

func TestListener_StopFlushesBufferedUtterance(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())
	waitStatus(t, rig.listener.Events(), StateListening)

	rig.engine.mu.Lock()
	rig.engine.flush = &speech_to_text.Result{Text: "jump", Final: true}
	rig.engine.mu.Unlock()

	rig.listener.Stop()

	// The flushed final was matched, then Stop released everything.
	ev := waitEvent(t, rig.listener.Events(), EventCommand)
	assert.Equal(t, "jump", ev.Text)
	assert.False(t, rig.pad.Held("a"))
}

func TestListener_SetCaptureWhileRunning(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.listener.Start())

	impl := rig.listener.(*listenerImpl)
	assert.ErrorIs(t, impl.SetCapture(&fakeCapture{}), ErrRunning)

	rig.listener.Stop()
	assert.NoError(t, impl.SetCapture(&fakeCapture{}))
}

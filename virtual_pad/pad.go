package virtual_pad

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voice-gamepad/mappings"
)

// Pad owns the controller state: the set of held buttons, the pending
// auto-release timer per button, and the last value of each analog axis.
// Every mutation, including timer expiry callbacks which arrive on their
// own goroutines, is serialized by one mutex.
type Pad struct {
	driver Driver
	logger *zap.Logger

	mu     sync.Mutex
	held   map[string]struct{}
	timers map[string]*time.Timer
	axes   map[string]float64
}

func New(driver Driver, logger *zap.Logger) (*Pad, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is nil")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pad{
		driver: driver,
		logger: logger,
		held:   make(map[string]struct{}),
		timers: make(map[string]*time.Timer),
		axes:   make(map[string]float64),
	}, nil
}

// Execute dispatches a matched mapping to the driver.
func (p *Pad) Execute(m mappings.Mapping) {
	duration := time.Duration(m.DurationMs) * time.Millisecond

	switch m.Action {
	case mappings.ActionTap:
		p.Tap(m.TargetInput, duration)
	case mappings.ActionHold:
		p.Hold(m.TargetInput, duration)
	case mappings.ActionRelease:
		p.Release(m.TargetInput)
	case mappings.ActionAnalog:
		p.SetAnalog(m.TargetInput, m.AnalogValue)
	default:
		p.logger.Warn("unknown action type", zap.String("action", string(m.Action)))
	}
}

// Tap presses a button and unconditionally schedules its release.
func (p *Pad) Tap(button string, duration time.Duration) {
	if !p.knownButton(button) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.driver.Press(button)
	p.driver.Commit()
	p.held[button] = struct{}{}

	p.scheduleReleaseLocked(button, duration)
}

// Hold presses a button; a positive duration schedules an auto-release,
// zero leaves the button pressed until an explicit Release.
func (p *Pad) Hold(button string, duration time.Duration) {
	if !p.knownButton(button) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.driver.Press(button)
	p.driver.Commit()
	p.held[button] = struct{}{}

	if duration > 0 {
		p.scheduleReleaseLocked(button, duration)
	} else {
		p.cancelTimerLocked(button)
	}
}

// Release cancels any pending auto-release and releases the button.
// Releasing an idle button is a harmless no-op.
func (p *Pad) Release(button string) {
	if !p.knownButton(button) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelTimerLocked(button)
	p.driver.Release(button)
	p.driver.Commit()
	delete(p.held, button)
}

// SetAnalog sets an axis immediately. Trigger values clamp to [0,1];
// stick values pass through, their range is enforced at validation time.
func (p *Pad) SetAnalog(axis string, value float64) {
	if !mappings.IsAxis(axis) {
		p.logger.Warn("unknown axis", zap.String("axis", axis))
		return
	}

	if mappings.IsTriggerAxis(axis) {
		if value < 0 {
			value = 0
		} else if value > 1 {
			value = 1
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.axes[axis] = value
	p.driver.SetAxis(axis, value)
	p.driver.Commit()
}

// ReleaseAll cancels every pending timer, releases every held button,
// zeroes every axis and resets the device. Used on profile switch, stop
// and teardown so no input stays asserted across a transition.
func (p *Pad) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for button, timer := range p.timers {
		timer.Stop()
		delete(p.timers, button)
	}

	for button := range p.held {
		p.driver.Release(button)
		delete(p.held, button)
	}

	for axis := range p.axes {
		p.axes[axis] = 0
	}

	p.driver.Reset()
	p.driver.Commit()
}

// Held reports whether the button is currently pressed.
func (p *Pad) Held(button string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.held[button]

	return ok
}

// AxisValue returns the last value set on an axis, zero if never set.
func (p *Pad) AxisValue(axis string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.axes[axis]
}

// PendingTimers returns the number of scheduled auto-releases.
func (p *Pad) PendingTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.timers)
}

func (p *Pad) knownButton(button string) bool {
	if mappings.IsButton(button) {
		return true
	}

	p.logger.Warn("unknown button", zap.String("button", button))

	return false
}

// scheduleReleaseLocked replaces any pending timer for the button. The
// old timer is canceled first so two releases never compete; a timer
// already mid-fire is defused by the identity check in expire.
func (p *Pad) scheduleReleaseLocked(button string, duration time.Duration) {
	p.cancelTimerLocked(button)

	var timer *time.Timer
	timer = time.AfterFunc(duration, func() {
		p.expire(button, timer)
	})
	p.timers[button] = timer
}

func (p *Pad) cancelTimerLocked(button string) {
	if timer, ok := p.timers[button]; ok {
		timer.Stop()
		delete(p.timers, button)
	}
}

// expire runs on the timer goroutine. A timer that was superseded or
// canceled between firing and acquiring the lock releases nothing.
func (p *Pad) expire(button string, self *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timers[button] != self {
		return
	}

	delete(p.timers, button)
	p.driver.Release(button)
	p.driver.Commit()
	delete(p.held, button)
}

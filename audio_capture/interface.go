package audio_capture

// Frame is one normalized chunk of captured audio: mono 16-bit PCM at the
// target rate, with its instantaneous loudness in [0,1].
type Frame struct {
	Samples []int16
	Level   float64
}

// Interface is a capture source producing normalized frames. Open
// negotiates a device configuration and must succeed before Read is
// called; Read blocks for one hardware buffer.
type Interface interface {
	Open() error
	Read() (Frame, error)
	Close() error
}

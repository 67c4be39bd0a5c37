package virtual_pad

// Driver is the virtual controller device. Implementations translate
// button and axis identifiers to whatever the underlying driver speaks;
// Commit flushes pending state to the device and Reset returns it to
// hardware-neutral.
type Driver interface {
	Press(button string)
	Release(button string)
	SetAxis(axis string, value float64)
	Commit()
	Reset()
}

// NoopDriver discards every call. It lets the pipeline run end to end on
// machines without a virtual controller device installed.
type NoopDriver struct{}

func (NoopDriver) Press(string)            {}
func (NoopDriver) Release(string)          {}
func (NoopDriver) SetAxis(string, float64) {}
func (NoopDriver) Commit()                 {}
func (NoopDriver) Reset()                  {}

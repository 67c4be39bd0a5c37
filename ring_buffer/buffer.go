package ring_buffer

// Buffer is a fixed-size ring of int16 samples. It keeps the most recent
// writes, so the pipeline can prepend a short pre-roll to a recording and
// not lose the first words of an utterance.
type Buffer struct {
	samples []int16
	head    int
	filled  int
}

func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}

	return &Buffer{
		samples: make([]int16, size),
	}
}

func (b *Buffer) Add(samples []int16) {
	for _, s := range samples {
		b.samples[b.head] = s
		b.head = (b.head + 1) % len(b.samples)

		if b.filled < len(b.samples) {
			b.filled++
		}
	}
}

// Read returns the buffered samples oldest-first. Until the ring wraps,
// only the samples actually written are returned.
func (b *Buffer) Read() []int16 {
	out := make([]int16, b.filled)
	start := (b.head - b.filled + len(b.samples)) % len(b.samples)

	for i := 0; i < b.filled; i++ {
		out[i] = b.samples[(start+i)%len(b.samples)]
	}

	return out
}

func (b *Buffer) Len() int {
	return b.filled
}

func (b *Buffer) Clear() {
	b.head = 0
	b.filled = 0
}

package speech_to_text

// Result is one recognition event. Partial results are advisory text for
// feedback; only final results trigger command matching.
type Result struct {
	Text  string
	Final bool
}

// Interface is a continuous-speech recognizer consuming normalized mono
// 16-bit PCM frames. Accept reports whether the frame produced a result.
type Interface interface {
	Accept(samples []int16) (Result, bool)
	// Flush returns the final result for any buffered audio, used when
	// the pipeline stops mid-utterance.
	Flush() (Result, bool)
	Close()
}

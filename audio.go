package kaiku

// AudioSource yields interleaved float32 frames at the pace of the caller.
// ReadAudio fills buf completely, substituting silence when the engine has
// not produced enough frames, and returns the number of samples written.
type AudioSource interface {
	ReadAudio(buf []float32) int
	SampleRate() int
	Channels() int
}

// AudioContext is an audio output backend. Play starts pulling from the
// source until the context is closed.
type AudioContext interface {
	Play(src AudioSource) error
	Close() error
}

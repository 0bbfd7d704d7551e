package synth

import "context"

// Request contains parameters for one chunk's synthesis.
type Request struct {
	Text     string
	Language string
	Voice    string
}

// Synthesizer is the contract with the neural speech backend. The
// returned bytes are one complete WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// VoiceCloner is implemented by backends that accept reference audio
// for voice registration.
type VoiceCloner interface {
	CloneVoice(ctx context.Context, name string, sample []byte) error
}

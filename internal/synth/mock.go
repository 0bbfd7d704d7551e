package synth

import (
	"context"
	"sync"
	"time"

	"github.com/narrata-labs/narrata-core/internal/wavutil"
)

// mockSynth renders silence sized by the text length: ten milliseconds
// of audio per rune. Deterministic, which the assembly tests rely on.
type mockSynth struct {
	sampleRate int
	channels   int

	mu     sync.Mutex
	voices map[string][]byte
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{
		sampleRate: sampleRate,
		channels:   channels,
		voices:     make(map[string][]byte),
	}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runes := len([]rune(req.Text))
	if runes == 0 {
		runes = 1
	}
	buf := wavutil.Silence(m.sampleRate, m.channels, time.Duration(runes)*10*time.Millisecond)
	return wavutil.Encode(buf)
}

func (m *mockSynth) CloneVoice(_ context.Context, name string, sample []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices[name] = sample
	return nil
}

package assemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"

	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/wavutil"
)

// Assembler concatenates a complete chunk set into one WAV artifact.
// Chunks are ordered by chunk index, never by arrival. A longer pause
// follows the opening chunk of a section; a fixed shorter pause
// separates the remaining chunks; no pause trails the last chunk.
type Assembler struct {
	interPause   time.Duration
	headingPause time.Duration
}

func NewAssembler(cfg config.AssemblyConfig) *Assembler {
	return &Assembler{
		interPause:   time.Duration(cfg.InterPauseMS) * time.Millisecond,
		headingPause: time.Duration(cfg.HeadingPauseMS) * time.Millisecond,
	}
}

// Assemble decodes the ordered chunks and renders a single WAV file.
// The output is deterministic for a given chunk set: same ordering,
// same pad placement, same bytes.
func (a *Assembler) Assemble(set *ChunkSet) ([]byte, error) {
	if set == nil || len(set.Chunks) == 0 {
		return nil, errors.New("empty chunk set")
	}

	decoded := make([]*audio.IntBuffer, len(set.Chunks))
	for i, raw := range set.Chunks {
		buf, err := wavutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		decoded[i] = buf
	}

	format := decoded[0].Format
	bitDepth := decoded[0].SourceBitDepth
	for i, buf := range decoded[1:] {
		if buf.Format.SampleRate != format.SampleRate || buf.Format.NumChannels != format.NumChannels {
			return nil, fmt.Errorf("chunk %d format %dHz/%dch does not match %dHz/%dch",
				i+1, buf.Format.SampleRate, buf.Format.NumChannels, format.SampleRate, format.NumChannels)
		}
	}

	combined := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.NumChannels},
		SourceBitDepth: bitDepth,
	}
	for i, buf := range decoded {
		combined.Data = append(combined.Data, buf.Data...)
		if i == len(decoded)-1 {
			break
		}
		pause := a.interPause
		if i == 0 {
			pause = a.headingPause
		}
		pad := wavutil.Silence(format.SampleRate, format.NumChannels, pause)
		combined.Data = append(combined.Data, pad.Data...)
	}

	out, err := wavutil.Encode(combined)
	if err != nil {
		return nil, fmt.Errorf("encode assembled audio: %w", err)
	}
	return out, nil
}

// Package wavutil holds the WAV encode/decode helpers shared by the
// assembler and the mock synthesizer.
package wavutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Decode parses WAV bytes into a PCM buffer.
func Decode(data []byte) (*audio.IntBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(dec.BitDepth)
	}
	return buf, nil
}

// Encode renders a PCM buffer as WAV bytes. The wav encoder needs a
// seekable writer to patch the header, so encoding goes through a
// temporary file.
func Encode(buf *audio.IntBuffer) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, errors.New("nil PCM buffer")
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}

	f, err := os.CreateTemp("", "narrata-wav-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	return os.ReadFile(f.Name())
}

// Silence returns a zeroed PCM buffer of the given duration.
func Silence(sampleRate, channels int, d time.Duration) *audio.IntBuffer {
	frames := int(float64(sampleRate) * d.Seconds())
	if frames < 0 {
		frames = 0
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
		Data:           make([]int, frames*channels),
	}
}

package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpSynth talks to the neural synthesis backend over HTTP. Any
// non-2xx response is a chunk failure for the caller to surface.
type httpSynth struct {
	endpoint string
	client   *http.Client
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type cloneRequest struct {
	VoiceName   string `json:"voice_name"`
	SampleAudio []byte `json:"sample_audio"`
}

func NewHTTPSynth(endpoint string, timeout time.Duration) Synthesizer {
	return &httpSynth{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:     req.Text,
		Language: req.Language,
		Voice:    req.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call synthesis backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("synthesis backend returned %s", resp.Status)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}

func (h *httpSynth) CloneVoice(ctx context.Context, name string, sample []byte) error {
	body, err := json.Marshal(cloneRequest{VoiceName: name, SampleAudio: sample})
	if err != nil {
		return fmt.Errorf("marshal clone request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/clone_speaker", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build clone request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call synthesis backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("synthesis backend returned %s", resp.Status)
	}
	return nil
}

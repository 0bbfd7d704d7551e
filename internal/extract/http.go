package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// httpExtractor uploads the file to the extraction backend and decodes
// the returned section tree. An unsupported extension is rejected
// client-side before any upload.
type httpExtractor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPExtractor(endpoint string, timeout time.Duration) Extractor {
	return &httpExtractor{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *httpExtractor) Extract(ctx context.Context, filename string, data []byte) (Document, error) {
	if !SupportedExtension(filename) {
		return Document{}, fmt.Errorf("unsupported file extension %q", filename)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Document{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Document{}, fmt.Errorf("write upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Document{}, fmt.Errorf("finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/extract", &body)
	if err != nil {
		return Document{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("call extraction backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, fmt.Errorf("extraction backend returned %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("read extraction response: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode extraction response: %w", err)
	}
	return doc, nil
}

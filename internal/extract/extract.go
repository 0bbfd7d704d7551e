// Package extract is the boundary to the document conversion backend:
// a file goes in, a structured section tree comes out.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/narrata-labs/narrata-core/internal/segment"
)

// Document is the extraction result for one uploaded file.
type Document struct {
	Title    string            `json:"title"`
	Sections []segment.Section `json:"sections"`
}

// Extractor converts a raw document into a section tree.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (Document, error)
}

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".epub": true,
	".odt":  true,
	".html": true,
	".md":   true,
	".json": true,
}

// SupportedExtension reports whether the backend accepts the file type.
func SupportedExtension(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// inlineExtractor decodes an already-structured JSON document. Used by
// the submission CLI and in tests; there is no conversion step.
type inlineExtractor struct{}

func NewInlineExtractor() Extractor {
	return inlineExtractor{}
}

func (inlineExtractor) Extract(_ context.Context, filename string, data []byte) (Document, error) {
	if !SupportedExtension(filename) {
		return Document{}, fmt.Errorf("unsupported file extension %q", filepath.Ext(filename))
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", filename, err)
	}
	return doc, nil
}

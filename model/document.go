package model

import (
	"os"
	"path/filepath"
	"time"
)

// Document is a source document, addressed by a caller-supplied id.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDocumentFromFile reads a file and creates a Document using the
// filename (without extension) as the id, merging a "source" field into
// the given metadata.
func NewDocumentFromFile(filePath string, metadata Metadata) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	id := filename[:len(filename)-len(filepath.Ext(filename))]
	if id == "" {
		id = filename
	}

	if metadata == nil {
		metadata = Metadata{}
	}
	metadata["source"] = filePath

	return &Document{
		ID:       id,
		Content:  string(content),
		Metadata: metadata,
	}, nil
}

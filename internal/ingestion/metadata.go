package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Metadata describes an uploaded file
type Metadata struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Hash        string    `json:"hash"` // SHA256 hex digest of the raw bytes
	ExtractedAt time.Time `json:"extracted_at"`
}

// NewMetadata describes data as uploaded under filename
func NewMetadata(filename, contentType string, data []byte) *Metadata {
	return &Metadata{
		Filename:    filename,
		ContentType: contentType,
		Size:        len(data),
		Hash:        computeHash(data),
		ExtractedAt: time.Now().UTC(),
	}
}

// computeHash computes SHA256 hash of content and returns hex string
func computeHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

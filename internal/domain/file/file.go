package file

import (
	"slices"
	"time"
)

// Categories that are always stored encrypted, whatever the client asks for.
var SensitiveCategories = []string{"medical", "financial", "identity"}

const CategoryGeneral = "general"

type StoredFile struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	StorageKey string     `json:"-"`
	MimeType   string     `json:"mimeType"`
	Size       int64      `json:"size"`
	Category   string     `json:"category"`
	Encrypted  bool       `json:"encrypted"`
	IV         []byte     `json:"-"`
	AuthTag    []byte     `json:"-"`
	Metadata   string     `json:"-"` // encrypted (or plain JSON) metadata blob
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Metadata is the descriptive part of an upload kept in StoredFile.Metadata.
type Metadata struct {
	OriginalName string `json:"originalName"`
	Category     string `json:"category"`
	UploadedBy   string `json:"uploadedBy"`
	MimeType     string `json:"mimeType"`
}

// Map returns the metadata keyed by its JSON field names, the shape field
// level encryption works on.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		"originalName": m.OriginalName,
		"uploadedBy":   m.UploadedBy,
		"category":     m.Category,
		"mimeType":     m.MimeType,
	}
}

// MustEncrypt reports whether an upload must be encrypted.
func MustEncrypt(category string, requested bool) bool {
	return requested || slices.Contains(SensitiveCategories, category)
}

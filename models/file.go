package models

import (
	"strings"
	"time"
)

// ArchiveName is the fixed display name given to zip bundles built by the
// client before upload.
const ArchiveName = "zip-share-app.zip"

// File records one uploaded blob and the policy that governs access to it.
// Rows are write-once: nothing updates a File after creation, and the
// request path never deletes one. Access is denied by timestamp comparison
// once ExpiresAt has passed.
type File struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FileName    string    `gorm:"size:512;not null" json:"fileName"` // display name only, never used as a path
	FilePath    string    `gorm:"size:255;uniqueIndex;not null" json:"filePath"`
	ContentType string    `gorm:"size:255" json:"contentType"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `gorm:"index" json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Expired reports whether access to the blob must be refused at the given
// instant. Expiry is inclusive: a download exactly at ExpiresAt is refused.
func (f *File) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// IsZip reports whether a file name carries the zip suffix.
func IsZip(name string) bool {
	return strings.HasSuffix(name, ".zip")
}

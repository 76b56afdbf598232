// Package upload validates attachment references before the approval core
// stores them. The core never inspects file bytes; it keeps a name and a
// retrievable URL supplied by the upload collaborator.
package upload

import (
	"path/filepath"
	"strings"

	"github.com/pesio-ai/be-ap-approvals/internal/errors"
)

// MaxFileSize is the attachment size ceiling.
const MaxFileSize = 10 << 20 // 10 MB

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".pdf":  true,
}

// Attachment is the opaque file reference the core stores.
type Attachment struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
}

// Validate checks the file name extension and declared size against the
// upload policy.
func Validate(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedExtensions[ext] {
		return errors.InvalidInput("file", "only jpeg, jpg, png and pdf files are allowed")
	}
	if size > MaxFileSize {
		return errors.InvalidInput("file", "file exceeds the 10 MB limit")
	}
	if size < 0 {
		return errors.InvalidInput("file", "invalid file size")
	}
	return nil
}

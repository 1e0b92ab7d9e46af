package filestore

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrFileTooLarge means the upload exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file size exceeds limit")
	// ErrInvalidFileType means the MIME type is not on the allowlist.
	ErrInvalidFileType = errors.New("invalid file type")
	// ErrBlockedExtension means the extension is on the executable blocklist.
	ErrBlockedExtension = errors.New("blocked file extension")
	// ErrFileNameTooLong means the name exceeds the length bound.
	ErrFileNameTooLong = errors.New("file name too long")
)

// invalidNameChars are stripped from uploaded names before they touch disk.
var invalidNameChars = regexp.MustCompile(`[\x00-\x1f<>:"/\\|?*]+`)

// ValidationConfig is the upload policy, also served to clients over
// /api/files/config so they can pre-check before sending bytes.
type ValidationConfig struct {
	MaxFileSize       int64               `json:"maxFileSize"`
	AllowedMimeTypes  []string            `json:"allowedMimeTypes"`
	MimeExtensionMap  map[string][]string `json:"mimeExtensionMap"`
	BlockedExtensions []string            `json:"blockedExtensions"`
	FileNameMaxLength int                 `json:"fileNameMaxLength"`
}

// DefaultValidationConfig mirrors the hub's stock policy: common document,
// archive and media types, no executables, 10 GB cap.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxFileSize: 10000 << 20,
		AllowedMimeTypes: []string{
			"image/jpeg", "image/png", "image/gif",
			"application/pdf", "application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/zip", "application/x-rar-compressed",
			"text/plain", "audio/mpeg", "video/mp4",
		},
		MimeExtensionMap: map[string][]string{
			"image/jpeg":      {"jpg", "jpeg"},
			"image/png":       {"png"},
			"image/gif":       {"gif"},
			"application/pdf": {"pdf"},
			"application/msword": {"doc"},
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {"docx"},
			"application/vnd.ms-excel": {"xls"},
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {"xlsx"},
			"application/zip":              {"zip"},
			"application/x-rar-compressed": {"rar"},
			"text/plain":                   {"txt"},
			"audio/mpeg":                   {"mp3"},
			"video/mp4":                    {"mp4"},
		},
		BlockedExtensions: []string{
			"exe", "bat", "cmd", "sh", "php", "jsp", "asp", "aspx", "js", "vbs", "ps1", "py",
		},
		FileNameMaxLength: 255,
	}
}

// Validate checks one upload against the policy. A zero MaxFileSize
// disables the size check; an empty allowlist admits every MIME type.
func (v ValidationConfig) Validate(name string, size int64, mimeType string) error {
	if v.MaxFileSize > 0 && size > v.MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}
	if v.FileNameMaxLength > 0 && len(name) > v.FileNameMaxLength {
		return ErrFileNameTooLong
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, blocked := range v.BlockedExtensions {
		if ext == blocked {
			return fmt.Errorf("%w: .%s", ErrBlockedExtension, ext)
		}
	}

	if len(v.AllowedMimeTypes) > 0 && mimeType != "" {
		allowed := false
		for _, t := range v.AllowedMimeTypes {
			if t == mimeType {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrInvalidFileType, mimeType)
		}
		if exts, ok := v.MimeExtensionMap[mimeType]; ok && ext != "" {
			match := false
			for _, e := range exts {
				if e == ext {
					match = true
					break
				}
			}
			if !match {
				return fmt.Errorf("%w: extension .%s does not match %s", ErrInvalidFileType, ext, mimeType)
			}
		}
	}
	return nil
}

// SanitizeFileName strips path components and control/reserved characters.
// An empty result gets a timestamped placeholder.
func SanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("file-%d", time.Now().UnixMilli())
	}
	return name
}

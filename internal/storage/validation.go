// validation.go - upload name validation and sanitisation helpers
package storage

import (
	"path"
	"strings"
)

// allowedExtensions lists the document types accepted for upload.
var allowedExtensions = map[string]bool{
	".doc":  true,
	".docx": true,
}

var contentTypes = map[string]string{
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ValidateExtension accepts .doc and .docx names, case-insensitively.
func ValidateExtension(filename string) error {
	ext := strings.ToLower(path.Ext(baseName(filename)))
	if !allowedExtensions[ext] {
		return ErrUnsupportedType
	}
	return nil
}

// ContentType returns the MIME type served for a stored file.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SanitizeFilename reduces a client supplied name to its last path element,
// dropping NUL bytes and surrounding blanks/dots.
func SanitizeFilename(filename string) string {
	filename = baseName(filename)
	filename = strings.ReplaceAll(filename, "\x00", "")
	filename = strings.Trim(filename, " .")

	if len(filename) > 255 {
		ext := path.Ext(filename)
		if len(ext) > 32 {
			ext = ""
		}
		name := filename[:len(filename)-len(ext)]
		filename = strings.ToValidUTF8(name[:255-len(ext)], "") + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// baseName strips any directory part, treating both separators alike since
// some browsers send Windows paths.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

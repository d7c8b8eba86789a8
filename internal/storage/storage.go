// Package storage persists uploaded contract documents under date-partitioned
// keys (yyyy/MM/dd/<uuid>.<ext>) and serves them back after checking that the
// requested path stays inside the storage root.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrUnsupportedType = errors.New("only .doc and .docx files are supported")
	ErrPathTraversal   = errors.New("path escapes storage root")
	ErrNotFound        = errors.New("file not found")
)

// StoredFile describes a file after it has been written.
type StoredFile struct {
	Path     string // slash-separated, relative to the storage root
	Name     string // original client file name
	Size     int64
	Checksum string // xxhash64, hex
}

// Object is an open stored file. Callers must close Body.
type Object struct {
	Body io.ReadCloser
	Name string
	Size int64
}

// Backend is implemented by the local filesystem and MinIO stores.
type Backend interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, originalName string, r io.Reader) (StoredFile, error)
	Open(ctx context.Context, relPath string) (*Object, error)
	Ping(ctx context.Context) error
	Name() string
}

// DatePath returns the yyyy/MM/dd partition for t.
func DatePath(t time.Time) string {
	return t.Format("2006/01/02")
}

// NewFileName returns a 32 hex character UUID carrying the original extension.
func NewFileName(originalName string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id + strings.ToLower(path.Ext(baseName(originalName)))
}

// objectKey validates originalName and builds the relative key it will be stored under.
func objectKey(originalName string, now time.Time) (string, error) {
	if err := ValidateExtension(originalName); err != nil {
		return "", err
	}
	return DatePath(now) + "/" + NewFileName(originalName), nil
}

// CleanRelPath normalises a client supplied relative path and rejects
// anything that is absolute or climbs out of the root.
func CleanRelPath(rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", ErrPathTraversal
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") || (len(rel) > 1 && rel[1] == ':') {
		return "", ErrPathTraversal
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrPathTraversal
	}
	return clean, nil
}

// uploadReader enforces the size limit and checksums the bytes it passes on.
type uploadReader struct {
	r        io.Reader
	max      int64
	n        int64
	exceeded bool
	sum      hash.Hash64
}

func newUploadReader(r io.Reader, max int64) *uploadReader {
	return &uploadReader{
		r:   io.LimitReader(r, max+1),
		max: max,
		sum: xxhash.New(),
	}
}

func (u *uploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	u.n += int64(n)
	if u.n > u.max {
		u.exceeded = true
		return 0, ErrTooLarge
	}
	u.sum.Write(p[:n])
	return n, err
}

func (u *uploadReader) checksum() string {
	return hex.EncodeToString(u.sum.Sum(nil))
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"contract-diff/internal/logging"
)

// Local stores files on the filesystem below BaseDir.
type Local struct {
	baseDir  string
	maxBytes int64
	now      func() time.Time
}

func NewLocal(baseDir string, maxBytes int64) *Local {
	return &Local{
		baseDir:  filepath.Clean(baseDir),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

func (l *Local) Name() string { return "local" }

// Init creates the storage root if it does not exist yet.
func (l *Local) Init(ctx context.Context) error {
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", l.baseDir, err)
	}
	logging.Info("storage directory ready", logging.Fields{"dir": l.baseDir})
	return nil
}

// Ping checks that the storage root is a writable directory.
func (l *Local) Ping(ctx context.Context) error {
	fi, err := os.Stat(l.baseDir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", l.baseDir)
	}
	f, err := os.CreateTemp(l.baseDir, ".ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Store writes r to <base>/<yyyy/MM/dd>/<uuid>.<ext>. The partial file is
// removed when the content is empty, too large or the copy fails.
func (l *Local) Store(ctx context.Context, originalName string, r io.Reader) (StoredFile, error) {
	key, err := objectKey(originalName, l.now())
	if err != nil {
		return StoredFile{}, err
	}

	dest := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("create date dir: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create %s: %w", key, err)
	}

	ur := newUploadReader(&ctxReader{ctx: ctx, r: r}, l.maxBytes)
	n, copyErr := io.Copy(f, ur)
	closeErr := f.Close()

	switch {
	case ur.exceeded:
		err = ErrTooLarge
	case copyErr != nil:
		err = fmt.Errorf("write %s: %w", key, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close %s: %w", key, closeErr)
	case n == 0:
		err = ErrEmptyFile
	}
	if err != nil {
		_ = os.Remove(dest)
		return StoredFile{}, err
	}

	logging.Info("file stored", logging.Fields{"path": key, "size": n})
	return StoredFile{
		Path:     key,
		Name:     SanitizeFilename(originalName),
		Size:     n,
		Checksum: ur.checksum(),
	}, nil
}

// Open returns the file at relPath after verifying it resolves inside the
// storage root, symlinks included.
func (l *Local) Open(ctx context.Context, relPath string) (*Object, error) {
	clean, err := CleanRelPath(relPath)
	if err != nil {
		return nil, err
	}

	full := filepath.Join(l.baseDir, filepath.FromSlash(clean))
	if !isSub(l.baseDir, full) {
		return nil, ErrPathTraversal
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	root, err := filepath.EvalSymlinks(l.baseDir)
	if err != nil {
		return nil, err
	}
	if !isSub(root, resolved) {
		return nil, ErrPathTraversal
	}

	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	return &Object{Body: f, Name: path.Base(clean), Size: fi.Size()}, nil
}

// isSub reports whether child is strictly below parent.
func isSub(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, max int64) *Local {
	t.Helper()
	l := NewLocal(t.TempDir(), max)
	l.now = func() time.Time { return time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, l.Init(context.Background()))
	return l
}

func TestValidateExtension(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"contract.docx", false},
		{"contract.doc", false},
		{"CONTRACT.DOCX", false},
		{`C:\fakepath\old.Doc`, false},
		{"contract.pdf", true},
		{"contract.docx.exe", true},
		{"docx", true},
		{"", true},
		{"archive/contract.docx/", true},
	}
	for _, tt := range tests {
		err := ValidateExtension(tt.name)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedType, tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
	}
}

func TestDatePath(t *testing.T) {
	assert.Equal(t, "2024/01/05", DatePath(time.Date(2024, 1, 5, 23, 59, 0, 0, time.UTC)))
}

func TestNewFileName(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{32}\.docx$`)
	a := NewFileName("My Contract.DOCX")
	b := NewFileName("My Contract.DOCX")
	assert.Regexp(t, re, a)
	assert.NotEqual(t, a, b)
}

func TestCleanRelPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024/03/07/abc.docx", "2024/03/07/abc.docx", false},
		{"2024/03/../03/abc.docx", "2024/03/abc.docx", false},
		{`2024\03\07\abc.docx`, "2024/03/07/abc.docx", false},
		{"../secret.docx", "", true},
		{"2024/../../secret.docx", "", true},
		{"..", "", true},
		{".", "", true},
		{"", "", true},
		{"/etc/passwd", "", true},
		{`\\server\share`, "", true},
		{"C:/Windows/win.ini", "", true},
		{"a\x00b", "", true},
	}
	for _, tt := range tests {
		got, err := CleanRelPath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrPathTraversal, "%q", tt.in)
			continue
		}
		assert.NoError(t, err, "%q", tt.in)
		assert.Equal(t, tt.want, got, "%q", tt.in)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "old.doc", SanitizeFilename(`C:\fakepath\old.doc`))
	assert.Equal(t, "a.docx", SanitizeFilename("../../a.docx"))
	assert.Equal(t, "unnamed", SanitizeFilename("  .. "))
	assert.Equal(t, "ab.docx", SanitizeFilename("a\x00b.docx"))

	long := strings.Repeat("x", 300) + ".docx"
	got := SanitizeFilename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".docx"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ContentType("a.docx"))
	assert.Equal(t, "application/msword", ContentType("a.DOC"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
}

func TestLocal_StoreAndOpen(t *testing.T) {
	l := newTestLocal(t, 1024)
	content := []byte("PK\x03\x04 fake docx body")

	sf, err := l.Store(context.Background(), "Contract A.docx", bytes.NewReader(content))
	require.NoError(t, err)

	assert.Regexp(t, `^2024/03/07/[0-9a-f]{32}\.docx$`, sf.Path)
	assert.Equal(t, "Contract A.docx", sf.Name)
	assert.Equal(t, int64(len(content)), sf.Size)

	want := xxhash.Sum64(content)
	assert.Equal(t, want, parseHex64(t, sf.Checksum))

	onDisk, err := os.ReadFile(filepath.Join(l.baseDir, filepath.FromSlash(sf.Path)))
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	obj, err := l.Open(context.Background(), sf.Path)
	require.NoError(t, err)
	defer obj.Body.Close()

	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, filepath.Base(sf.Path), obj.Name)
	assert.Equal(t, int64(len(content)), obj.Size)
}

func TestLocal_StoreRejectsWrongExtension(t *testing.T) {
	l := newTestLocal(t, 1024)

	_, err := l.Store(context.Background(), "notes.txt", strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	// nothing should have been created for the rejected upload
	_, statErr := os.Stat(filepath.Join(l.baseDir, "2024"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestLocal_StoreRejectsEmpty(t *testing.T) {
	l := newTestLocal(t, 1024)

	_, err := l.Store(context.Background(), "empty.docx", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)
	assertDirEmpty(t, filepath.Join(l.baseDir, "2024", "03", "07"))
}

func TestLocal_StoreRejectsOversized(t *testing.T) {
	l := newTestLocal(t, 8)

	_, err := l.Store(context.Background(), "big.docx", strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assertDirEmpty(t, filepath.Join(l.baseDir, "2024", "03", "07"))

	// exactly at the limit is accepted
	sf, err := l.Store(context.Background(), "fits.docx", strings.NewReader("01234567"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), sf.Size)
}

func TestLocal_StoreHonoursCancelledContext(t *testing.T) {
	l := newTestLocal(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Store(ctx, "a.docx", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_OpenRejectsTraversal(t *testing.T) {
	parent := t.TempDir()
	base := filepath.Join(parent, "contracts")
	require.NoError(t, os.MkdirAll(base, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.docx"), []byte("secret"), 0o644))

	l := NewLocal(base, 1024)

	for _, p := range []string{"../secret.docx", "2024/../../secret.docx", "/etc/passwd", ""} {
		_, err := l.Open(context.Background(), p)
		assert.ErrorIs(t, err, ErrPathTraversal, "%q", p)
	}
}

func TestLocal_OpenRejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	base := filepath.Join(parent, "contracts")
	require.NoError(t, os.MkdirAll(base, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.docx"), []byte("secret"), 0o644))
	if err := os.Symlink(filepath.Join(parent, "secret.docx"), filepath.Join(base, "link.docx")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	l := NewLocal(base, 1024)
	_, err := l.Open(context.Background(), "link.docx")
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestLocal_OpenMissingAndDirectory(t *testing.T) {
	l := newTestLocal(t, 1024)
	require.NoError(t, os.MkdirAll(filepath.Join(l.baseDir, "2024", "03"), 0o755))

	_, err := l.Open(context.Background(), "2024/03/07/missing.docx")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Open(context.Background(), "2024/03")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_Ping(t *testing.T) {
	l := newTestLocal(t, 1024)
	assert.NoError(t, l.Ping(context.Background()))

	missing := NewLocal(filepath.Join(t.TempDir(), "nope"), 1024)
	assert.Error(t, missing.Ping(context.Background()))
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://minio:9000", "minio:9000", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"http://minio:9000/foo", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for input %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if ep != tt.wantEndpoint || secure != tt.wantSecure {
			t.Fatalf("normaliseEndpoint(%q) = (%q,%v), want (%q,%v)", tt.in, ep, secure, tt.wantEndpoint, tt.wantSecure)
		}
	}
}

func parseHex64(t *testing.T, s string) uint64 {
	t.Helper()
	require.Len(t, s, 16)
	var v uint64
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint64(c-'a') + 10
		default:
			t.Fatalf("bad hex %q", s)
		}
	}
	return v
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "expected %s to be empty", dir)
}

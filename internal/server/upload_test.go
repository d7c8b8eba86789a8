package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/contract/upload", body)
	req.Header.Set("Content-Type", ct)
	return req
}

func TestUploadHandler_Success(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(uploadRequest(t, "Lease Agreement.DOCX", []byte("hello")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decodeResult(t, rr)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "success", res.Message)

	var data uploadResp
	require.NoError(t, json.Unmarshal(res.Data, &data))
	assert.Regexp(t, `^\d{4}/\d{2}/\d{2}/[0-9a-f]{32}\.docx$`, data.Path)
	assert.Equal(t, "Lease Agreement.DOCX", data.Name)
	assert.Equal(t, "5", data.Size)
	assert.Len(t, data.Checksum, 16)

	stored, err := os.ReadFile(filepath.Join(env.dir, filepath.FromSlash(data.Path)))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(stored))

	snap := env.srv.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.UploadsTotal)
	assert.Equal(t, int64(5), snap.UploadBytesTotal)
}

func TestUploadHandler_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{"wrong extension", "contract.pdf", []byte("%PDF"), http.StatusBadRequest},
		{"no extension", "contract", []byte("data"), http.StatusBadRequest},
		{"empty file", "contract.doc", nil, http.StatusBadRequest},
		{"too large", "contract.docx", bytes.Repeat([]byte("x"), 64), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 32 })

			rr := env.do(uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Equal(t, tt.want, decodeResult(t, rr).Code)

			// Nothing may be left behind.
			var files []string
			_ = filepath.WalkDir(env.dir, func(p string, d os.DirEntry, err error) error {
				if err == nil && !d.IsDir() {
					files = append(files, p)
				}
				return nil
			})
			assert.Empty(t, files)
			assert.Equal(t, int64(1), env.srv.metrics.Snapshot().UploadErrorsTotal)
		})
	}
}

func TestUploadHandler_MissingFilePart(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "attachment", "contract.docx", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/contract/upload", body)
	req.Header.Set("Content-Type", ct)

	rr := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadHandler_NotMultipart(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/contract/upload", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	rr := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "request must be multipart/form-data", decodeResult(t, rr).Message)
}

func TestUploadHandler_InvalidMethod(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/contract/upload", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("Allow = %q, want POST", got)
	}
}

func TestUploadThenStream(t *testing.T) {
	env := newTestEnv(t)

	content := []byte("PK\x03\x04 pretend docx")
	rr := env.do(uploadRequest(t, "nda.docx", content))
	require.Equal(t, http.StatusOK, rr.Code)

	var data uploadResp
	require.NoError(t, json.Unmarshal(decodeResult(t, rr).Data, &data))

	rr = env.do(httptest.NewRequest(http.MethodGet, "/contract/file/stream?path="+data.Path, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestTooLargeMessage(t *testing.T) {
	s := &Server{maxUpload: 50 << 20}
	assert.Equal(t, "file size must not exceed 50MB", s.tooLargeMessage())

	s.maxUpload = 1000
	assert.Equal(t, "file size must not exceed 1000 bytes", s.tooLargeMessage())
}

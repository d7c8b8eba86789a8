package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"contract-diff/internal/logging"
	"contract-diff/internal/storage"
)

// multipartOverhead is the slack allowed on top of the file limit for
// boundaries and part headers.
const multipartOverhead = 1 << 20

// uploadResp is the data returned after a successful upload. Size is a
// decimal string to match what existing clients parse.
type uploadResp struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Size     string `json:"size"`
	Checksum string `json:"checksum"`
}

// uploadHandler handles POST /contract/upload. The multipart field "file" is
// streamed straight to storage; nothing is buffered in memory.
func (s *Server) uploadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		start := time.Now()
		rid := RequestIDFromContext(r.Context())
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

		mr, err := r.MultipartReader()
		if err != nil {
			writeError(w, http.StatusBadRequest, "request must be multipart/form-data")
			return
		}

		part, err := nextFilePart(mr)
		if err != nil {
			s.metrics.RecordUploadError()
			if isMaxBytesError(err) {
				writeError(w, http.StatusRequestEntityTooLarge, s.tooLargeMessage())
				return
			}
			writeError(w, http.StatusBadRequest, "bad multipart body")
			return
		}
		if part == nil {
			writeError(w, http.StatusBadRequest, "file must not be empty")
			return
		}
		defer func() { _ = part.Close() }()

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		sf, err := s.store.Store(ctx, part.FileName(), part)
		if err != nil {
			s.metrics.RecordUploadError()
			switch {
			case errors.Is(err, storage.ErrUnsupportedType):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, storage.ErrEmptyFile):
				writeError(w, http.StatusBadRequest, "file must not be empty")
			case errors.Is(err, storage.ErrTooLarge), isMaxBytesError(err):
				writeError(w, http.StatusRequestEntityTooLarge, s.tooLargeMessage())
			default:
				logging.Error("upload failed", logging.Fields{"rid": rid, "name": part.FileName()}, err)
				writeError(w, http.StatusInternalServerError, "file upload failed")
			}
			return
		}

		s.metrics.RecordUpload(sf.Size, time.Since(start))
		logging.Info("file uploaded", logging.Fields{
			"rid":      rid,
			"name":     sf.Name,
			"path":     sf.Path,
			"size":     sf.Size,
			"checksum": sf.Checksum,
		})

		writeOK(w, uploadResp{
			Path:     sf.Path,
			Name:     sf.Name,
			Size:     strconv.FormatInt(sf.Size, 10),
			Checksum: sf.Checksum,
		})
	})
}

// nextFilePart returns the first part named "file" that carries a file name,
// or nil when the body has none.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *Server) tooLargeMessage() string {
	if s.maxUpload%(1<<20) == 0 {
		return fmt.Sprintf("file size must not exceed %dMB", s.maxUpload>>20)
	}
	return fmt.Sprintf("file size must not exceed %d bytes", s.maxUpload)
}

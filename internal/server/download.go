package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"contract-diff/internal/logging"
	"contract-diff/internal/storage"
)

// streamHandler handles GET /contract/file/stream?path=<relative path>.
func (s *Server) streamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		rid := RequestIDFromContext(r.Context())
		relPath := r.URL.Query().Get("path")
		if relPath == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		start := time.Now()
		obj, err := s.store.Open(ctx, relPath)
		if err != nil {
			s.metrics.RecordDownloadError()
			switch {
			case errors.Is(err, storage.ErrPathTraversal):
				logging.Warn("illegal path access", logging.Fields{"rid": rid, "path": relPath, "ip": getClientIP(r)})
				writeError(w, http.StatusBadRequest, "illegal path")
			case errors.Is(err, storage.ErrNotFound):
				writeError(w, http.StatusNotFound, "file not found")
			default:
				logging.Error("file read failed", logging.Fields{"rid": rid, "path": relPath}, err)
				writeError(w, http.StatusInternalServerError, "file read failed")
			}
			return
		}
		defer func() { _ = obj.Body.Close() }()

		w.Header().Set("Content-Type", storage.ContentType(obj.Name))
		if obj.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, obj.Name))
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, obj.Body)
		if err != nil {
			// Headers are gone already; all we can do is log.
			s.metrics.RecordDownloadError()
			logging.Warn("stream interrupted", logging.Fields{"rid": rid, "path": relPath, "bytes": n, "err": err.Error()})
			return
		}
		s.metrics.RecordDownload(n, time.Since(start))
	})
}

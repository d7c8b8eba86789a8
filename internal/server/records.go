package server

import (
	"encoding/json"
	"net/http"
	"time"

	"contract-diff/internal/db"
	"contract-diff/internal/logging"
)

const maxRecordBody = 1 << 20

// recordHandler handles POST /contract/record. The server stamps create time
// and client IP; a missing batch id starts a new batch.
func (s *Server) recordHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		rid := RequestIDFromContext(r.Context())
		r.Body = http.MaxBytesReader(w, r.Body, maxRecordBody)

		var req recordReq
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			if isMaxBytesError(err) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := req.normalize(); err != nil {
			writeError(w, http.StatusBadRequest, badRequestMessage(err))
			return
		}

		rec := db.Record{
			BatchID:          req.BatchID,
			OriginalFilename: req.OriginalFilename,
			OriginalFilePath: req.OriginalFilePath,
			TargetFilename:   req.TargetFilename,
			TargetFilePath:   req.TargetFilePath,
			CreateTime:       time.Now(),
			ClientIP:         getClientIP(r),
		}
		if rec.BatchID == "" {
			rec.BatchID = db.NewBatchID()
		}

		if err := s.records.Insert(r.Context(), &rec); err != nil {
			s.metrics.RecordComparison(false)
			if r.Context().Err() != nil {
				logging.Warn("record insert cancelled", logging.Fields{"rid": rid, "batch_id": rec.BatchID})
			} else {
				logging.Error("record insert failed", logging.Fields{"rid": rid, "batch_id": rec.BatchID}, err)
			}
			writeError(w, repositoryStatus(err), "failed to save comparison record")
			return
		}

		s.metrics.RecordComparison(true)
		logging.Info("comparison recorded", logging.Fields{
			"rid":      rid,
			"id":       rec.ID,
			"batch_id": rec.BatchID,
			"original": rec.OriginalFilename,
			"target":   rec.TargetFilename,
		})
		writeOK(w, true)
	})
}

package server

import (
	"net/http"
	"strings"

	"contract-diff/internal/db"
	"contract-diff/internal/logging"
)

// historyPage is the paginated body of GET /contract/history.
type historyPage struct {
	Records []db.HistoryEntry `json:"records"`
	Total   int64             `json:"total"`
	Current int               `json:"current"`
	Size    int               `json:"size"`
	Pages   int64             `json:"pages"`
}

// historyHandler handles GET /contract/history. Batches are listed newest
// first; filters narrow which records count toward a batch.
func (s *Server) historyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		q, err := parseHistoryQuery(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, badRequestMessage(err))
			return
		}

		rid := RequestIDFromContext(r.Context())
		total, err := s.records.HistoryCount(r.Context(), q.Filter)
		if err != nil {
			s.metrics.RecordHistoryQuery(false)
			logging.Error("history count failed", logging.Fields{"rid": rid}, err)
			writeError(w, repositoryStatus(err), "failed to query history")
			return
		}

		page := historyPage{
			Records: []db.HistoryEntry{},
			Total:   total,
			Current: q.Page,
			Size:    q.Size,
			Pages:   totalPages(total, q.Size),
		}

		if int64(q.offset()) < total {
			entries, err := s.records.History(r.Context(), q.Filter, q.offset(), q.Size)
			if err != nil {
				s.metrics.RecordHistoryQuery(false)
				logging.Error("history query failed", logging.Fields{"rid": rid, "page": q.Page, "size": q.Size}, err)
				writeError(w, repositoryStatus(err), "failed to query history")
				return
			}
			if entries != nil {
				page.Records = entries
			}
		}

		s.metrics.RecordHistoryQuery(true)
		writeOK(w, page)
	})
}

// historyDetailHandler handles GET /contract/history/{batchId}.
func (s *Server) historyDetailHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		batchID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/contract/history/"))
		if !validBatchID(batchID) {
			writeError(w, http.StatusBadRequest, "invalid batch id")
			return
		}

		records, err := s.records.ByBatch(r.Context(), batchID)
		if err != nil {
			s.metrics.RecordHistoryQuery(false)
			logging.Error("history detail failed", logging.Fields{
				"rid":      RequestIDFromContext(r.Context()),
				"batch_id": batchID,
			}, err)
			writeError(w, repositoryStatus(err), "failed to query history")
			return
		}
		if records == nil {
			records = []db.Record{}
		}

		s.metrics.RecordHistoryQuery(true)
		writeOK(w, records)
	})
}

// validation.go - Request parameter parsing and validation helpers
package server

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"contract-diff/internal/db"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 1_000_000
	maxFilenameLen  = 255
	maxPathLen      = 512
	dateLayout      = "2006-01-02"
)

var errBadRequest = errors.New("bad request")

// historyQuery is the parsed form of GET /contract/history parameters.
type historyQuery struct {
	Page   int
	Size   int
	Filter db.HistoryFilter
}

func (q historyQuery) offset() int {
	return (q.Page - 1) * q.Size
}

// parseHistoryQuery applies defaults and rejects values a caller got wrong.
// Oversized page sizes are clamped rather than rejected.
func parseHistoryQuery(v url.Values) (historyQuery, error) {
	q := historyQuery{Page: 1, Size: defaultPageSize}

	if raw := strings.TrimSpace(v.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPage {
			return q, fmt.Errorf("%w: page must be between 1 and %d", errBadRequest, maxPage)
		}
		q.Page = n
	}

	if raw := strings.TrimSpace(v.Get("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, fmt.Errorf("%w: size must be a positive integer", errBadRequest)
		}
		q.Size = min(n, maxPageSize)
	}

	q.Filter.Filename = strings.TrimSpace(v.Get("filename"))
	switch {
	case !isStorableText(q.Filter.Filename):
		return q, fmt.Errorf("%w: filename filter contains invalid characters", errBadRequest)
	case utf8.RuneCountInString(q.Filter.Filename) > maxFilenameLen:
		return q, fmt.Errorf("%w: filename filter too long", errBadRequest)
	}

	var err error
	if q.Filter.StartDate, err = parseDate(v.Get("startDate")); err != nil {
		return q, fmt.Errorf("%w: startDate must be YYYY-MM-DD", errBadRequest)
	}
	if q.Filter.EndDate, err = parseDate(v.Get("endDate")); err != nil {
		return q, fmt.Errorf("%w: endDate must be YYYY-MM-DD", errBadRequest)
	}
	if !q.Filter.StartDate.IsZero() && !q.Filter.EndDate.IsZero() && q.Filter.StartDate.After(q.Filter.EndDate) {
		return q, fmt.Errorf("%w: startDate must not be after endDate", errBadRequest)
	}

	return q, nil
}

// parseDate reads a calendar day in server local time. Empty input is the
// zero time.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, raw, time.Local)
}

// totalPages is ceil(total/size).
func totalPages(total int64, size int) int64 {
	if size <= 0 {
		return 0
	}
	return (total + int64(size) - 1) / int64(size)
}

// recordReq is the JSON body of POST /contract/record.
type recordReq struct {
	BatchID          string `json:"batchId"`
	OriginalFilename string `json:"originalFilename"`
	OriginalFilePath string `json:"originalFilePath"`
	TargetFilename   string `json:"targetFilename"`
	TargetFilePath   string `json:"targetFilePath"`
}

// normalize trims every field and checks the required ones and lengths.
func (r *recordReq) normalize() error {
	r.BatchID = strings.TrimSpace(r.BatchID)
	r.OriginalFilename = strings.TrimSpace(r.OriginalFilename)
	r.OriginalFilePath = strings.TrimSpace(r.OriginalFilePath)
	r.TargetFilename = strings.TrimSpace(r.TargetFilename)
	r.TargetFilePath = strings.TrimSpace(r.TargetFilePath)

	switch {
	case r.OriginalFilename == "" || r.TargetFilename == "":
		return fmt.Errorf("%w: originalFilename and targetFilename are required", errBadRequest)
	case !isStorableText(r.BatchID), !isStorableText(r.OriginalFilename), !isStorableText(r.TargetFilename),
		!isStorableText(r.OriginalFilePath), !isStorableText(r.TargetFilePath):
		return fmt.Errorf("%w: fields must be valid UTF-8 without NUL characters", errBadRequest)
	case len(r.BatchID) > 64:
		return fmt.Errorf("%w: batchId too long", errBadRequest)
	case utf8.RuneCountInString(r.OriginalFilename) > maxFilenameLen,
		utf8.RuneCountInString(r.TargetFilename) > maxFilenameLen:
		return fmt.Errorf("%w: file name too long", errBadRequest)
	case len(r.OriginalFilePath) > maxPathLen, len(r.TargetFilePath) > maxPathLen:
		return fmt.Errorf("%w: file path too long", errBadRequest)
	}
	return nil
}

// isStorableText reports whether s can be stored in a PostgreSQL text
// column: valid UTF-8 with no NUL bytes.
func isStorableText(s string) bool {
	return utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}

// validBatchID accepts a non-empty id of at most 64 bytes with no slash.
func validBatchID(id string) bool {
	return id != "" && len(id) <= 64 && !strings.Contains(id, "/") && isStorableText(id)
}

// badRequestMessage strips the sentinel prefix for the response body.
func badRequestMessage(err error) string {
	return strings.TrimPrefix(err.Error(), errBadRequest.Error()+": ")
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"contract-diff/internal/db"
)

func recordRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/contract/record", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRecordHandler_GeneratesBatchID(t *testing.T) {
	env := newTestEnv(t)

	var saved *db.Record
	env.records.On("Insert", mock.Anything, mock.AnythingOfType("*db.Record")).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*db.Record)
			saved.ID = 42
		}).
		Return(nil).Once()

	req := recordRequest(`{
		"originalFilename": "  v1.docx ",
		"originalFilePath": "2024/03/07/aaaa.docx",
		"targetFilename": "v2.docx",
		"targetFilePath": "2024/03/07/bbbb.docx"
	}`)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	before := time.Now()
	rr := env.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decodeResult(t, rr)
	assert.Equal(t, "success", res.Message)
	assert.JSONEq(t, `true`, string(res.Data))

	require.NotNil(t, saved)
	assert.Regexp(t, `^[0-9a-f]{32}$`, saved.BatchID)
	assert.Equal(t, "v1.docx", saved.OriginalFilename)
	assert.Equal(t, "2024/03/07/bbbb.docx", saved.TargetFilePath)
	assert.Equal(t, "203.0.113.9", saved.ClientIP)
	assert.False(t, saved.CreateTime.Before(before))
	assert.Equal(t, int64(1), env.srv.metrics.Snapshot().RecordsTotal)
}

func TestRecordHandler_KeepsBatchID(t *testing.T) {
	env := newTestEnv(t)

	env.records.On("Insert", mock.Anything, mock.MatchedBy(func(r *db.Record) bool {
		return r.BatchID == "session-1" && r.ClientIP == "192.0.2.1"
	})).Return(nil).Twice()

	for i := 0; i < 2; i++ {
		rr := env.do(recordRequest(`{"batchId":"session-1","originalFilename":"a.doc","targetFilename":"b.doc"}`))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRecordHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"invalid json", `{"originalFilename":`, "invalid JSON body"},
		{"not an object", `[1,2]`, "invalid JSON body"},
		{"missing original", `{"targetFilename":"b.docx"}`, "originalFilename and targetFilename are required"},
		{"blank target", `{"originalFilename":"a.docx","targetFilename":"   "}`, "originalFilename and targetFilename are required"},
		{"long batch id", `{"batchId":"` + strings.Repeat("b", 65) + `","originalFilename":"a","targetFilename":"b"}`, "batchId too long"},
		{"long name", `{"originalFilename":"` + strings.Repeat("n", 256) + `","targetFilename":"b"}`, "file name too long"},
		{"NUL in name", `{"originalFilename":"a\u0000b.docx","targetFilename":"b.docx"}`, "fields must be valid UTF-8 without NUL characters"},
		{"NUL in path", `{"originalFilename":"a.docx","targetFilename":"b.docx","targetFilePath":"2024/03/07/\u0000.docx"}`, "fields must be valid UTF-8 without NUL characters"},
		{"NUL in batch id", `{"batchId":"x\u0000","originalFilename":"a.docx","targetFilename":"b.docx"}`, "fields must be valid UTF-8 without NUL characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rr := env.do(recordRequest(tt.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.msg, decodeResult(t, rr).Message)
			env.records.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestRecordHandler_InsertFailure(t *testing.T) {
	env := newTestEnv(t)
	env.records.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	rr := env.do(recordRequest(`{"originalFilename":"a.docx","targetFilename":"b.docx"}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "failed to save comparison record", decodeResult(t, rr).Message)
	assert.Equal(t, int64(1), env.srv.metrics.Snapshot().RecordErrorsTotal)
}

func TestRecordHandler_UnparseableForwardedFor(t *testing.T) {
	env := newTestEnv(t)

	env.records.On("Insert", mock.Anything, mock.MatchedBy(func(r *db.Record) bool {
		return r.ClientIP == "192.0.2.1"
	})).Return(nil).Twice()

	for _, xff := range []string{"\xff\xfe-not-an-ip", strings.Repeat("x", 100)} {
		req := recordRequest(`{"originalFilename":"a.docx","targetFilename":"b.docx"}`)
		req.Header.Set("X-Forwarded-For", xff)
		rr := env.do(req)
		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestRecordHandler_RejectedValuesKeepCircuitClosed(t *testing.T) {
	recs := new(MockRecords)
	breaker := db.NewCircuitBreaker(5, 30*time.Second)
	env := newTestEnv(t, func(c *Config) { c.Records = db.NewGuardedRecords(recs, breaker) })

	badBytes := fmt.Errorf("error inserting comparison record: %w", &pgconn.PgError{Code: "22021"})
	recs.On("Insert", mock.Anything, mock.Anything).Return(badBytes).Times(6)
	recs.On("HistoryCount", mock.Anything, mock.Anything).Return(int64(0), nil).Once()

	for i := 0; i < 6; i++ {
		rr := env.do(recordRequest(`{"originalFilename":"a.docx","targetFilename":"b.docx"}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	}
	assert.Equal(t, db.StateClosed, breaker.State())

	rr := env.do(httptest.NewRequest(http.MethodGet, "/contract/history", nil))
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	recs.AssertExpectations(t)
}

func TestRecordHandler_InvalidMethod(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/contract/record", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

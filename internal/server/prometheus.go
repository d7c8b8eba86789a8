// prometheus.go - Prometheus text exposition of the server counters.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type promMetric struct {
	name, help, kind string
	value            float64
}

// prometheusHandler serves GET /metrics in the text exposition format.
func (s *Server) prometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		snap := s.metrics.Snapshot()

		var out strings.Builder
		out.WriteString("# HELP contractdiff_info Application version info\n")
		out.WriteString("# TYPE contractdiff_info gauge\n")
		fmt.Fprintf(&out, "contractdiff_info{version=\"%s\",commit=\"%s\"} 1\n\n",
			prometheusLabel(s.build.Version), prometheusLabel(s.build.Commit))

		for _, m := range []promMetric{
			{"contractdiff_requests_total", "Total number of HTTP requests", "counter", float64(snap.RequestsTotal)},
			{"contractdiff_request_errors_4xx_total", "HTTP requests answered with a 4xx status", "counter", float64(snap.RequestErrors4xx)},
			{"contractdiff_request_errors_5xx_total", "HTTP requests answered with a 5xx status", "counter", float64(snap.RequestErrors5xx)},
			{"contractdiff_uploads_total", "Total number of stored uploads", "counter", float64(snap.UploadsTotal)},
			{"contractdiff_upload_bytes_total", "Bytes written by uploads", "counter", float64(snap.UploadBytesTotal)},
			{"contractdiff_upload_errors_total", "Rejected or failed uploads", "counter", float64(snap.UploadErrorsTotal)},
			{"contractdiff_upload_avg_duration_ms", "Mean upload duration in milliseconds", "gauge", snap.UploadAvgDurationMs},
			{"contractdiff_streams_total", "Total number of completed file streams", "counter", float64(snap.DownloadsTotal)},
			{"contractdiff_stream_bytes_total", "Bytes sent by file streams", "counter", float64(snap.DownloadBytesTotal)},
			{"contractdiff_stream_errors_total", "Rejected or failed file streams", "counter", float64(snap.DownloadErrorsTotal)},
			{"contractdiff_records_total", "Comparison records persisted", "counter", float64(snap.RecordsTotal)},
			{"contractdiff_record_errors_total", "Comparison record inserts that failed", "counter", float64(snap.RecordErrorsTotal)},
			{"contractdiff_history_queries_total", "History list and detail lookups", "counter", float64(snap.HistoryQueriesTotal)},
			{"contractdiff_history_errors_total", "History lookups that failed", "counter", float64(snap.HistoryErrorsTotal)},
			{"contractdiff_uptime_seconds", "Seconds since the server was created", "counter", time.Since(s.started).Seconds()},
		} {
			fmt.Fprintf(&out, "# HELP %s %s\n# TYPE %s %s\n%s %s\n\n",
				m.name, m.help, m.name, m.kind, m.name, formatPromValue(m.value))
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out.String()))
	})
}

func formatPromValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// prometheusLabel escapes quotes and backslashes in a label value.
func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "\\n")
}

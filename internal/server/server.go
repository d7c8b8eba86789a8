package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"contract-diff/internal/config"
	"contract-diff/internal/db"
	"contract-diff/internal/storage"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr           string // e.g. ":8080"
	Build          config.BuildInfo
	Store          storage.Backend
	Records        db.RecordRepository
	DB             Pinger
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimit      int // requests per minute per IP on write endpoints, 0 disables
}

type Server struct {
	httpServer *http.Server
	store      storage.Backend
	records    db.RecordRepository
	db         Pinger
	build      config.BuildInfo
	maxUpload  int64
	metrics    *Metrics
	limiter    *rateLimiter
	started    time.Time
}

func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		records:   cfg.Records,
		db:        cfg.DB,
		build:     cfg.Build,
		maxUpload: cfg.MaxUploadBytes,
		metrics:   &Metrics{},
		started:   time.Now(),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = config.DefaultMaxUploadBytes
	}

	writeLimit := func(h http.Handler) http.Handler { return h }
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, time.Minute)
		writeLimit = s.limiter.middleware
	}

	gz := compressJSON()
	mux := http.NewServeMux()

	mux.Handle("/contract/upload", writeLimit(s.uploadHandler()))
	mux.Handle("/contract/file/stream", s.streamHandler())
	mux.Handle("/contract/record", writeLimit(s.recordHandler()))
	mux.Handle("/contract/history", gz(s.historyHandler()))
	mux.Handle("/contract/history/", gz(s.historyDetailHandler()))
	mux.HandleFunc("/contract/health", s.handleContractHealth)

	// Operational endpoints
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/ready", s.HandleReady)
	mux.HandleFunc("/live", s.HandleLive)
	mux.Handle("/metrics", s.prometheusHandler())

	// Wrap middleware: requestID -> logging -> security headers -> cors -> mux
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpServer.Shutdown(ctx)
}

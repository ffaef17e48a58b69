// Package server exposes the amount detector over HTTP.
package server

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/zombor/amount-detector/internal/amounts"
	"github.com/zombor/amount-detector/internal/observability"
)

// DefaultMaxUploadBytes is the upload limit used when none is configured
const DefaultMaxUploadBytes = 5 << 20

// Server handles HTTP requests for amount detection
type Server struct {
	detector  *amounts.Detector
	basicAuth BasicAuth
	mux       *http.ServeMux
	handler   http.Handler
	maxUpload int64
	limiter   *rate.Limiter
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Config holds the transport settings for a Server
type Config struct {
	BasicAuth BasicAuth
	// MaxUploadBytes caps the size of an uploaded image
	MaxUploadBytes int64
	// RateLimit is the sustained number of /api requests per second; zero disables limiting
	RateLimit float64
	RateBurst int
}

// NewServer creates a new Server with default mux
func NewServer(detector *amounts.Detector, cfg Config) *Server {
	return NewServerWithMux(detector, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(detector *amounts.Detector, cfg Config, mux *http.ServeMux) *Server {
	s := &Server{
		detector:  detector,
		basicAuth: cfg.BasicAuth,
		mux:       mux,
		maxUpload: cfg.MaxUploadBytes,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.registerRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}).Handler(s.mux)
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Amount Detector"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
			return
		}
		next(w, r)
	}
}

// rateLimit rejects requests beyond the configured rate
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			slog.Warn("Rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under route
func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		observability.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// api wraps an /api handler with instrumentation, rate limiting and auth
func (s *Server) api(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, instrument(pattern, s.rateLimit(s.requireAuth(h))))
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.api("POST /api/ocr", s.handleOCR)
	s.api("POST /api/normalize", s.handleNormalize)
	s.api("POST /api/classify", s.handleClassify)
	s.api("POST /api/final", s.handleFinal)
	s.api("POST /api/detect-amounts", s.handleDetectAmounts)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Catch-all, registered last
	s.mux.HandleFunc("/", instrument("not_found", s.handleNotFound))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

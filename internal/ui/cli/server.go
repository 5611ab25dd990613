package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"scribe/internal/core/app"
	domainerrors "scribe/internal/core/errors"
	"scribe/internal/engine/scribe"
	"scribe/internal/shared/observability"
	"scribe/internal/shared/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

type Server struct {
	addr     string
	engine   *app.Engine
	health   *app.HealthService
	limiters *util.LimiterRegistry
	metrics  bool
	server   *http.Server
}

type runRequest struct {
	Roots []string `json:"roots"`
}

type refactorResponse struct {
	Status   string        `json:"status"`
	RunID    string        `json:"run_id,omitempty"`
	Report   scribe.Report `json:"report"`
	Findings int           `json:"findings"`
}

type errorResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

func NewServer(addr string, engine *app.Engine, limiters *util.LimiterRegistry, metrics bool) *Server {
	return &Server{
		addr:     addr,
		engine:   engine,
		health:   app.NewHealthService(engine),
		limiters: limiters,
		metrics:  metrics,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.HandleFunc("GET /health", s.instrument("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.health.Check(r.Context())
		code := http.StatusOK
		if status.Status != "up" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}))
	mux.HandleFunc("POST /api/audit", s.instrument("/api/audit", s.limited(s.handleAudit)))
	mux.HandleFunc("POST /api/scribe/refactor", s.instrument("/api/scribe/refactor", s.limited(s.handleRefactor)))
	mux.HandleFunc("GET /api/runs", s.instrument("/api/runs", s.handleRuns))
	mux.HandleFunc("GET /api/runs/{id}/findings", s.instrument("/api/runs/findings", s.handleRunFindings))
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("server starting", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	roots, ok := s.decodeRoots(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Audit(r.Context(), roots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditView(result))
}

func (s *Server) handleRefactor(w http.ResponseWriter, r *http.Request) {
	roots, ok := s.decodeRoots(w, r)
	if !ok {
		return
	}
	out, err := s.engine.Refactor(r.Context(), roots)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := refactorResponse{
		Status:   "SUCCESS",
		Report:   out.Report,
		Findings: len(out.Findings),
	}
	if out.Persisted {
		resp.RunID = out.RunID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, domainerrors.New(domainerrors.CodeValidationError, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := s.engine.History(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := s.engine.RunFindings(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

// decodeRoots reads an optional {"roots": [...]} body. Requested roots must
// lie inside the configured roots.
func (s *Server) decodeRoots(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req runRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, domainerrors.Wrap(err, domainerrors.CodeValidationError, "invalid request body"))
		return nil, false
	}
	if len(req.Roots) == 0 {
		return nil, true
	}

	allowed := util.UniqueRoots(s.engine.Config().Scan.Roots)
	for _, root := range util.UniqueRoots(req.Roots) {
		if !withinAny(root, allowed) {
			err := domainerrors.New(domainerrors.CodeValidationError, "root is outside the configured scan roots")
			writeError(w, domainerrors.AddContext(err, domainerrors.CtxRoot, root))
			return nil, false
		}
	}
	return req.Roots, true
}

func withinAny(path string, roots []string) bool {
	for _, root := range roots {
		if util.HasPathPrefix(path, root) {
			return true
		}
	}
	return false
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiters != nil && !s.limiters.Get(clientKey(r)).Allow(1) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Status: "ERROR", Code: "RATE_LIMITED", Error: "too many requests"})
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		observability.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

func statusFor(err error) int {
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodeValidationError:
		return http.StatusBadRequest
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeNotSupported:
		return http.StatusNotImplemented
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{
		Status: "ERROR",
		Code:   string(domainerrors.CodeOf(err)),
		Error:  err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// Package server exposes the facilitator over HTTP: the three protocol
// endpoints plus health and metrics.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	facilitator "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/compliance"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/types"
)

// maxBodyBytes caps request bodies; payment payloads are small.
const maxBodyBytes = 1 << 20

type Server struct {
	f   *facilitator.Facilitator
	log logger.Logger
	srv *http.Server
}

func New(f *facilitator.Facilitator, addr string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NoopLogger{}
	}
	s := &Server{f: f, log: log}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/verify", s.handleVerify)
	r.Post("/settle", s.handleSettle)
	r.Get("/supported", s.handleSupported)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", map[string]any{"addr": s.srv.Addr})
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &types.VerifyResponse{
			IsValid:       false,
			InvalidReason: types.ReasonInvalidPayload,
		})
		return
	}
	req, err := s.f.Normalizer().DecodeRequest(body)
	if err != nil {
		s.log.Debug("verify request rejected", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadRequest, &types.VerifyResponse{
			IsValid:       false,
			InvalidReason: types.ReasonInvalidPayload,
		})
		return
	}

	resp, err := s.f.Verify(r.Context(), req)
	if err != nil {
		s.internalError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &types.SettleResponse{
			Success:     false,
			ErrorReason: types.ReasonInvalidPayload,
		})
		return
	}
	req, err := s.f.Normalizer().DecodeRequest(body)
	if err != nil {
		s.log.Debug("settle request rejected", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadRequest, &types.SettleResponse{
			Success:     false,
			ErrorReason: types.ReasonInvalidPayload,
		})
		return
	}

	resp, err := s.f.Settle(r.Context(), req)
	if err != nil {
		s.internalError(w, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, s.f.Normalizer().EncodeSettleResponse(resp, req.Version))
}

func (s *Server) handleSupported(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.f.Supported())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{"status": "ok"}
	switch gate := s.f.Gate().(type) {
	case *compliance.ListGate:
		health["blocklist"] = map[string]any{"status": "loaded", "entries": gate.EntryCount()}
	case compliance.DenyAllGate:
		// Screening is down; payments are refused until it recovers.
		health["status"] = "degraded"
		health["blocklist"] = map[string]any{"status": "unavailable"}
	case compliance.AllowAllGate:
		health["blocklist"] = map[string]any{"status": "disabled"}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", map[string]any{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request served", map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(started).Milliseconds(),
			"requestId":  r.Context().Value(requestIDKey),
		})
	})
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callaudit/internal/app"
	"callaudit/internal/filename"
	"callaudit/internal/ratelimit"
	"callaudit/internal/servicetoken"
	"callaudit/internal/upload"
	"callaudit/internal/util"
	"callaudit/pkg/storage"
	"callaudit/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Store          store.Store
	Uploads        *upload.Reassembler
	UploadLimiter  ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
	// Archive enables the presigned audio download endpoint when set.
	Archive storage.Archive
	// TokenVerifier guards destructive and stage-trigger endpoints when set.
	TokenVerifier *servicetoken.Verifier
}

// Server exposes the call QA HTTP API.
type Server struct {
	app            *app.App
	store          store.Store
	uploads        *upload.Reassembler
	limiter        ratelimit.Limiter
	trusted        *util.TrustedProxies
	maxUploadBytes int64
	archive        storage.Archive
	tokenVerifier  *servicetoken.Verifier
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Store == nil || cfg.Uploads == nil {
		return nil, errors.New("app, store and uploads are required")
	}
	s := &Server{
		app:            cfg.App,
		store:          cfg.Store,
		uploads:        cfg.Uploads,
		limiter:        cfg.UploadLimiter,
		trusted:        cfg.TrustedProxies,
		maxUploadBytes: cfg.MaxUploadBytes,
		archive:        cfg.Archive,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware stack applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/calls", s.handleCalls)
	s.mux.HandleFunc("/api/calls/", s.handleCallSubtree)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	calls, err := s.store.ListCalls()
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": calls,
		"count": len(calls),
	})
}

// handleCallSubtree dispatches /api/calls/upload-chunk and /api/calls/{id}[/...].
func (s *Server) handleCallSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/calls/")
	if rest == "upload-chunk" {
		s.handleUploadChunk(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(sub, "/") {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		s.handleCallByID(w, r, id)
	case "transcript":
		s.handleTranscript(w, r, id)
	case "analysis":
		s.handleAnalysis(w, r, id)
	case "audio":
		s.handleAudio(w, r, id)
	case "transcribe":
		s.withToken(w, r, func() { s.handleTranscribe(w, r, id) })
	case "analyze":
		s.withToken(w, r, func() { s.handleAnalyze(w, r, id) })
	default:
		http.NotFound(w, r)
	}
}

// withToken enforces the service token when a verifier is configured.
func (s *Server) withToken(w http.ResponseWriter, r *http.Request, next func()) {
	if s.tokenVerifier == nil {
		next()
		return
	}
	token, ok := servicetoken.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if _, err := s.tokenVerifier.Verify(token); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	next()
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		// Cancelling releases the buffered chunks for the filename.
		name := strings.TrimSpace(r.URL.Query().Get("fileName"))
		if name == "" {
			writeError(w, http.StatusBadRequest, "fileName is required")
			return
		}
		s.uploads.Abort(name)
		writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
		return
	default:
		methodNotAllowed(w)
		return
	}
	if s.limiter != nil {
		if !s.limiter.Allow(util.ClientIP(r, s.trusted)) {
			writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
			return
		}
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	name := strings.TrimSpace(r.FormValue("fileName"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}
	chunkIndex, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunkIndex must be an integer")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "totalChunks must be an integer")
		return
	}
	file, header, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk is required (field: chunk)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable chunk")
		return
	}

	rec, err := s.app.UploadChunk(r.Context(), name, chunkIndex, totalChunks, header.Header.Get("Content-Type"), data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrSizeExceeded):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, upload.ErrTypeRejected), errors.Is(err, upload.ErrChunkOutOfRange),
			errors.Is(err, filename.ErrInvalidFormat), errors.Is(err, filename.ErrInvalidTimestamp):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			internalError(w, r, err)
		}
		return
	}
	if rec == nil {
		received, total, _ := s.uploads.Pending(name)
		writeJSON(w, http.StatusOK, map[string]any{
			"received": received,
			"total":    total,
		})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, ok, err := s.store.GetCall(id)
		if err != nil {
			internalError(w, r, err)
			return
		}
		if !ok {
			notFound(w, "call not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		s.withToken(w, r, func() {
			if err := s.app.DeleteCall(r.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					notFound(w, "call not found")
					return
				}
				internalError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	t, ok, err := s.store.GetTranscript(id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !ok {
		notFound(w, "transcript not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	a, ok, err := s.store.GetAnalysis(id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !ok {
		notFound(w, "analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAudio returns a time-limited download link for the archived copy of
// the recording. 404 unless an archive is configured and the call exists.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.archive == nil {
		notFound(w, "audio archive not configured")
		return
	}
	_, ok, err := s.store.GetCall(id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !ok {
		notFound(w, "call not found")
		return
	}
	url, err := s.archive.PresignAudio(r.Context(), id, 15*time.Minute)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	force := strings.EqualFold(r.URL.Query().Get("force"), "true")
	var err error
	var rec any
	if force {
		rec, err = s.app.Retranscribe(r.Context(), id)
	} else {
		rec, err = s.app.StartProcessing(r.Context(), id)
	}
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rec, err := s.app.StartAnalysis(r.Context(), id)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(w, "call not found")
	case errors.Is(err, app.ErrAlreadyProcessing), errors.Is(err, app.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		internalError(w, r, err)
	}
}

// internalError logs the cause with the request-scoped logger and hides it
// from the response body.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/datakeep/pkg/auth"
	"github.com/Mindburn-Labs/datakeep/pkg/container"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/registry"
)

// maxContainerBytes bounds a single container upload.
const maxContainerBytes = 256 << 20

// maxJSONBytes bounds JSON request bodies.
const maxJSONBytes = 1 << 20

// Server wires the registry onto HTTP routes.
type Server struct {
	registry      *registry.Registry
	log           *slog.Logger
	metrics       *Metrics
	hideForbidden bool
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithHiddenForbidden presents permission failures as 404 instead of 403 so
// callers without read access cannot probe for dataset existence.
func WithHiddenForbidden() ServerOption {
	return func(s *Server) { s.hideForbidden = true }
}

// WithMetrics enables request instrumentation.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(reg *registry.Registry, opts ...ServerOption) *Server {
	s := &Server{registry: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the request multiplexer. Authentication and rate limiting
// middleware wrap the returned handler at server assembly.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	// Whole-container upload.
	mux.HandleFunc("POST /api/datasets", s.handleUploadContainer)

	// Staged upload.
	mux.HandleFunc("POST /api/uploads", s.handleBeginUpload)
	mux.HandleFunc("POST /api/uploads/{id}/files/{name...}", s.handleAppendFile)
	mux.HandleFunc("POST /api/uploads/{id}/complete", s.handleCompleteUpload)

	mux.HandleFunc("GET /api/datasets", s.handleList)
	mux.HandleFunc("GET /api/datasets/{id}", s.handleGet)
	mux.HandleFunc("GET /api/datasets/{id}/files/{name...}", s.handleGetFile)
	mux.HandleFunc("GET /api/datasets/{id}/chain", s.handleChain)
	mux.HandleFunc("DELETE /api/datasets/{id}", s.handleInvalidate)
	mux.HandleFunc("GET /api/datasets/{id}/permissions", s.handleGetPermissions)
	mux.HandleFunc("PUT /api/datasets/{id}/permissions", s.handlePutPermissions)

	var handler http.Handler = mux
	handler = s.logRequests(handler)
	if s.metrics != nil {
		handler = s.metrics.Middleware(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// handleUploadContainer ingests a complete .zdc container in one request:
// the archive is parsed, every member staged, and the dataset sealed against
// the hash declared in content.json.
func (s *Server) handleUploadContainer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContainerBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "container exceeds upload limit")
		return
	}

	parsed, err := container.Parse(body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	ds, err := s.registry.BeginUpload(r.Context(), actor, parsed.Dataset, parsed.Replaces)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	for _, f := range parsed.Files {
		if _, err := s.registry.AppendFile(r.Context(), actor, ds.ID, f.Name, f.Data); err != nil {
			s.abandonUpload(r, actor, ds.ID)
			s.writeDomainError(w, r, err)
			return
		}
	}
	sealed, err := s.registry.CompleteUpload(r.Context(), actor, ds.ID, parsed.Hash)
	if err != nil {
		s.abandonUpload(r, actor, ds.ID)
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sealed)
}

// abandonUpload tombstones a partially ingested container so it never shows
// up in listings.
func (s *Server) abandonUpload(r *http.Request, actor, id string) {
	if err := s.registry.Invalidate(r.Context(), actor, id); err != nil {
		s.log.Error("abandoning failed upload", "dataset", id, "err", err)
	}
}

type beginUploadRequest struct {
	Dataset  *dataset.Dataset `json:"dataset"`
	Replaces string           `json:"replaces,omitempty"`
}

func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req beginUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if req.Dataset == nil {
		WriteBadRequest(w, "Missing required field: dataset")
		return
	}

	ds, err := s.registry.BeginUpload(r.Context(), actor, req.Dataset, req.Replaces)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) handleAppendFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContainerBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "file exceeds upload limit")
		return
	}

	entry, err := s.registry.AppendFile(r.Context(), actor, r.PathValue("id"), r.PathValue("name"), data)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type completeUploadRequest struct {
	Hash string `json:"hash,omitempty"`
}

func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req completeUploadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}

	ds, err := s.registry.CompleteUpload(r.Context(), actor, r.PathValue("id"), req.Hash)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	datasets, err := s.registry.ListVisible(r.Context(), actor)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	ds, err := s.registry.Read(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")
	data, err := s.registry.ReadFile(r.Context(), actor, r.PathValue("id"), name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	seq, err := s.registry.Chain(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": seq})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	if err := s.registry.Invalidate(r.Context(), actor, r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	acl, err := s.registry.Permissions(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acl)
}

type updatePermissionsRequest struct {
	Grants  []dataset.Grant `json:"grants"`
	Revokes []dataset.Grant `json:"revokes"`
}

func (s *Server) handlePutPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req updatePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if err := s.registry.UpdatePermissions(r.Context(), actor, r.PathValue("id"), req.Grants, req.Revokes); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actor resolves the acting user from the authenticated principal. Writes a
// 401 and returns false when the request carries none.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := auth.ActorID(r.Context())
	if actor == "" {
		WriteUnauthorized(w, "")
		return "", false
	}
	return actor, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusOf(err, s.hideForbidden)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		WriteInternal(w, err)
		return
	}
	WriteErrorR(w, r, status, title, err.Error())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

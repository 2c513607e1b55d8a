package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/index"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/session"
)

// AskRequest is the body of POST /api/sessions/{id}/ask
type AskRequest struct {
	Question  string `json:"question"`
	Model     string `json:"model"`
	ReturnAll bool   `json:"return_all"`
}

// SourceView is one retrieved chunk as returned to clients
type SourceView struct {
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Chunk    int     `json:"chunk"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
}

// AskResponse is the answer to one question
type AskResponse struct {
	Answer    string       `json:"answer"`
	Citations string       `json:"citations"`
	Sources   []SourceView `json:"sources"`
}

// DocumentView is one uploaded document rendered for display
type DocumentView struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
	HTML  string `json:"html"`
}

// Server exposes the session manager over HTTP
type Server struct {
	cfg     *config.Config
	manager *session.Manager
}

func NewServer(cfg *config.Config, manager *session.Manager) *Server {
	return &Server{cfg: cfg, manager: manager}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreate)
	mux.HandleFunc("POST /api/sessions/{id}/upload", s.handleUpload)
	mux.HandleFunc("POST /api/sessions/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/sessions/{id}/documents", s.handleDocuments)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting document QA server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := s.manager.Create()
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			sendError(w, err)
			return
		}
		sendError(w, &models.ConfigError{Field: "files", Reason: fmt.Sprintf("invalid multipart upload: %v", err)})
		return
	}

	var files []index.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			sendError(w, &models.ReadError{File: fh.Filename, Reason: "cannot open upload", Err: err})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			sendError(w, &models.ReadError{File: fh.Filename, Reason: "cannot read upload", Err: err})
			return
		}
		files = append(files, index.File{Name: fh.Filename, Data: data})
	}

	res, err := s.manager.Upload(r.Context(), r.PathValue("id"), files, r.FormValue("model"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, &models.ConfigError{Field: "body", Reason: "invalid JSON request body"})
		return
	}

	answer, err := s.manager.Ask(r.Context(), r.PathValue("id"), req.Question, session.AskOptions{
		Model:     req.Model,
		ReturnAll: req.ReturnAll,
	})
	if err != nil {
		sendError(w, err)
		return
	}

	resp := AskResponse{Answer: answer.Text, Citations: answer.Citations, Sources: make([]SourceView, 0, len(answer.Result.Sources))}
	for _, src := range answer.Result.Sources {
		resp.Sources = append(resp.Sources, SourceView{
			Document: src.Chunk.SourceDocument,
			Page:     src.Chunk.PageNumber,
			Chunk:    src.Chunk.ChunkIndex,
			Score:    src.Score,
			Text:     src.Chunk.Text,
		})
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Reset(r.PathValue("id")); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.manager.History(r.PathValue("id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, history)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.manager.Documents(r.PathValue("id"))
	if err != nil {
		sendError(w, err)
		return
	}
	views := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		html, err := parser.RenderHTML(d)
		if err != nil {
			sendError(w, err)
			return
		}
		views = append(views, DocumentView{Name: d.Name, Pages: len(d.Pages), HTML: html})
	}
	sendJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("Handled request")
	})
}

func statusFor(err error) int {
	var (
		readErr *models.ReadError
		cfgErr  *models.ConfigError
		embErr  *models.EmbeddingError
		genErr  *models.GenerationError
		tooBig  *http.MaxBytesError
	)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoIndex), errors.As(err, &readErr), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &embErr), errors.As(err, &genErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Warn().Err(err).Int("status", status).Msg("Request rejected")
	}
	sendJSON(w, status, map[string]string{"error": strings.TrimSpace(err.Error())})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sanonone/kektortree/pkg/embeddings"
	"github.com/sanonone/kektortree/pkg/engine"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

// registerHTTPHandlers sets up the routes of the REST API.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	// --- Tree ---
	mux.HandleFunc("POST /tree/insert", s.handleInsert)
	mux.HandleFunc("POST /tree/insert-text", s.handleInsertText)
	mux.HandleFunc("POST /tree/search", s.handleSearch)
	mux.HandleFunc("POST /tree/search-text", s.handleSearchText)
	mux.HandleFunc("GET /tree/stats", s.handleStats)
	mux.HandleFunc("GET /tree/labels", s.handleLabels)
	mux.HandleFunc("GET /tree/dump", s.handleDump)

	// --- System ---
	mux.HandleFunc("POST /system/save", s.handleSave)
	mux.HandleFunc("POST /system/export", s.handleExport)
	mux.HandleFunc("POST /system/ingest", s.handleIngest)
	mux.HandleFunc("GET /system/tasks/{id}", s.handleGetTask)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tree handlers ---

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if !s.decode(w, r, &req) {
		return
	}
	label, err := s.Engine.Insert(req.Vector, req.URL)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, InsertResponse{URL: label})
}

func (s *Server) handleInsertText(w http.ResponseWriter, r *http.Request) {
	var req InsertTextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "text is required")
		return
	}
	label, err := s.Engine.InsertText(r.Context(), req.Text, req.URL)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, InsertResponse{URL: label})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	threshold, maxResults := s.searchParams(req.Threshold, req.MaxResults)
	report, err := s.Engine.Search(req.Vector, threshold, maxResults)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, report)
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	var req SearchTextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "query is required")
		return
	}
	threshold, maxResults := s.searchParams(req.Threshold, req.MaxResults)
	rewrite := s.opts.Rewrite
	if req.Rewrite != nil {
		rewrite = *req.Rewrite
	}
	res, err := s.Engine.SearchText(r.Context(), req.Query, threshold, maxResults, rewrite)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.Engine.Stats())
}

// handleLabels lists labels; ?prefix= filters and ?limit= bounds the list.
func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeHTTPError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	labels := s.Engine.Labels(r.URL.Query().Get("prefix"), limit)
	s.writeHTTPResponse(w, http.StatusOK, LabelsResponse{Labels: labels})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.Engine.Dump(w); err != nil {
		slog.Error("dump failed", "error", err)
	}
}

// --- System handlers ---

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Save(); err != nil {
		slog.Error("CRITICAL: save via HTTP failed", "error", err)
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK", "message": "snapshot saved"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	path, err := s.Engine.ExportJSON("")
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ExportResponse{Path: path})
}

// handleIngest starts an ingestion task and answers 202 with its state.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pipeline == nil {
		s.writeHTTPError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "path is required")
		return
	}

	task := s.taskManager.NewTask("ingest")
	s.taskManager.Go(task, func(t *Task) (any, error) {
		t.SetProgress("scanning " + req.Path)
		rep, err := s.opts.Pipeline.Run(s.baseCtx, req.Path)
		if err != nil {
			return nil, err
		}
		t.SetProgress(fmt.Sprintf("%d files, %d chunks", rep.Files, rep.Chunks))
		return rep, nil
	})
	w.Header().Set("Location", "/system/tasks/"+task.ID())
	s.writeHTTPResponse(w, http.StatusAccepted, task.Info())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskManager.GetTask(r.PathValue("id"))
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.Info())
}

// --- Helpers for HTTP responses ---

func (s *Server) searchParams(threshold *float64, maxResults *int) (float64, int) {
	t, m := s.opts.Threshold, s.opts.MaxResults
	if threshold != nil {
		t = *threshold
	}
	if maxResults != nil {
		m = *maxResults
	}
	return t, m
}

// decode reads a JSON body into v. It writes a 400 and returns false on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeEngineError maps engine errors to HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var statusErr *embeddings.StatusError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidVector),
		errors.Is(err, engine.ErrDimensionMismatch),
		errors.Is(err, engine.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNoEmbedder):
		status = http.StatusNotImplemented
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &statusErr), errors.Is(err, embeddings.ErrNoEmbedding):
		status = http.StatusBadGateway
	}
	s.writeHTTPError(w, status, err.Error())
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}

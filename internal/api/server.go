package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/zapvault/zapvault/internal/ingest"
	"github.com/zapvault/zapvault/internal/store"
)

// Submitter accepts an archive for background ingestion.
type Submitter interface {
	Submit(ctx context.Context, archiveName, groupHint string, data []byte) (uuid.UUID, error)
}

// RunGetter loads run records for the status endpoint.
type RunGetter interface {
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
}

type Server struct {
	router         *chi.Mux
	port           int
	pipeline       Submitter
	runs           RunGetter
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewServer(port int, pipeline Submitter, runs RunGetter, maxUploadBytes int64, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:         router,
		port:           port,
		pipeline:       pipeline,
		runs:           runs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}

	router.Get("/health", s.health)
	router.Post("/api/v1/ingest", s.ingest)
	router.Get("/api/v1/runs/{id}", s.run)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ingest accepts a zip export and hands it to the pipeline. The response is
// only an acknowledgment: outcome is observable via the run record.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		writeError(w, http.StatusBadRequest, "invalid file type, only .zip is accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	runID, err := s.pipeline.Submit(r.Context(), header.Filename, r.FormValue("group_hint"), data)
	if err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "ingestion queue is full, retry later")
			return
		}
		s.logger.Error("submit failed", "archive", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to accept archive")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":   runID.String(),
		"status":   "accepted",
		"filename": header.Filename,
	})
}

type runResponse struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	ArchiveName  string     `json:"archive_name"`
	GroupID      string     `json:"group_id,omitempty"`
	GroupName    string     `json:"group_name,omitempty"`
	MessageCount int        `json:"message_count"`
	MediaCount   int        `json:"media_count"`
	Warnings     []string   `json:"warnings,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		ID:           run.ID.String(),
		State:        run.State,
		ArchiveName:  run.ArchiveName,
		GroupID:      run.GroupID,
		GroupName:    run.GroupName,
		MessageCount: run.MessageCount,
		MediaCount:   run.MediaCount,
		Warnings:     run.Warnings,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"rowforge/internal/api"
	"rowforge/internal/broker"
	"rowforge/internal/config"
	"rowforge/internal/logging"
	"rowforge/internal/logs"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	jobSvc  *api.JobService
	logPath string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is empty")
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logging.WithComponent(logger, "api-server"),
		daemon:  d,
		jobSvc:  api.NewJobService(d.store),
		logPath: filepath.Join(cfg.Paths.LogDir, logging.FileName),
	}

	router := chi.NewRouter()
	router.Get("/api/status", srv.handleStatus)
	router.Get("/api/logs", srv.handleLogs)
	router.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", srv.handleJobList)
		r.Post("/clear", srv.handleClear)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", srv.handleJob)
			r.Get("/progress", srv.handleProgress)
			r.Post("/cancel", srv.handleCancel)
		})
	})

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	stats, err := s.jobSvc.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		BrokerDBPath: status.BrokerDBPath,
		LockFilePath: status.LockFilePath,
		Workers:      status.Workers,
		QueueStats:   stats,
	})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	opts := logs.TailOptions{Offset: -1, Limit: 50}
	query := r.URL.Query()
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid offset %q", raw))
			return
		}
		opts.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		opts.Limit = limit
	}

	result, err := logs.Tail(s.logPath, opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleJobList(w http.ResponseWriter, r *http.Request) {
	var statuses []broker.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := broker.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.jobSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	detail, err := s.jobSvc.Describe(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *detail})
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := s.jobSvc.Progress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prog == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, prog)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	cancelled, err := s.jobSvc.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{JobID: jobID, Cancelled: cancelled})
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.jobSvc.ClearTerminal(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

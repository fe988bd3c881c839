package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perturblabs/perturb/internal/config"
	"github.com/perturblabs/perturb/internal/logging"
	"github.com/perturblabs/perturb/internal/metrics"
	"github.com/perturblabs/perturb/internal/optimization/objectives"
)

// Logger is the logging interface used by the server, satisfied by
// *logging.Logger.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server exposes the optimization service over HTTP: start a run, poll its
// status, cancel it. Runs execute in the background; the registry is safe for
// concurrent access.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics

	jobsMu sync.RWMutex
	jobs   map[string]*Job
}

// NewServer creates a server with the given configuration, logger and
// metrics.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]*Job),
	}
}

// RegisterRoutes mounts the API routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/objectives", s.handleObjectives)
	})
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, job := range s.jobs {
		job.cancel()
	}
	return nil
}

// OptimizeRequest is the body of POST /api/v1/optimize. Omitted tuning fields
// fall back to the configured defaults.
type OptimizeRequest struct {
	// Objective names a registered objective function.
	Objective string `json:"objective"`
	// Initial is the starting value of the optimized variable.
	Initial []float64 `json:"initial"`
	// Algorithm selects the optimizer, evolutionary by default.
	Algorithm string `json:"algorithm,omitempty"`

	LearningRate float64 `json:"learning_rate,omitempty"`
	Epsilon      float64 `json:"epsilon,omitempty"`
	NumSamples   int     `json:"num_samples,omitempty"`
	NumSteps     int     `json:"num_steps,omitempty"`
	UnrollLoop   *bool   `json:"unroll_loop,omitempty"`
	Seed         int64   `json:"seed,omitempty"`
	Iterations   int     `json:"iterations,omitempty"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Initial) == 0 {
		s.respondError(w, http.StatusBadRequest, "initial values are required")
		return
	}
	builder, err := objectives.ByName(req.Objective)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Algorithm {
	case "", AlgorithmEvolutionary, AlgorithmDescent:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown algorithm: "+req.Algorithm)
		return
	}

	params := s.runParams(req)
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		StartTime: time.Now(),
		cancel:    cancel,
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.logger.Info("Optimization started", map[string]interface{}{
		"job_id":      job.ID,
		"objective":   req.Objective,
		"algorithm":   params.Algorithm,
		"dimensions":  len(req.Initial),
		"num_samples": params.NumSamples,
		"num_steps":   params.NumSteps,
		"iterations":  params.Iterations,
	})

	go s.runJob(ctx, job, builder, req.Initial, params)

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     job.ID,
		"status": job.Status,
	})
}

// runParams merges request fields with the configured defaults.
func (s *Server) runParams(req OptimizeRequest) RunParams {
	opt := s.cfg.Optimization
	params := RunParams{
		Algorithm:    opt.Algorithm,
		LearningRate: opt.LearningRate,
		Epsilon:      opt.Epsilon,
		NumSamples:   opt.NumSamples,
		NumSteps:     opt.NumSteps,
		UnrollLoop:   opt.UnrollLoop,
		Seed:         opt.Seed,
		Iterations:   opt.MaxIterations,
	}
	if params.Algorithm == "" {
		params.Algorithm = AlgorithmEvolutionary
	}
	if req.Algorithm != "" {
		params.Algorithm = req.Algorithm
	}
	if req.LearningRate > 0 {
		params.LearningRate = req.LearningRate
	}
	if req.Epsilon > 0 {
		params.Epsilon = req.Epsilon
	}
	if req.NumSamples > 0 {
		params.NumSamples = req.NumSamples
	}
	if req.NumSteps > 0 {
		params.NumSteps = req.NumSteps
	}
	if req.UnrollLoop != nil {
		params.UnrollLoop = *req.UnrollLoop
	}
	if req.Seed != 0 {
		params.Seed = req.Seed
	}
	if req.Iterations > 0 {
		params.Iterations = req.Iterations
	}
	return params
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "optimization not found")
		return
	}

	s.respondJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "optimization not found")
		return
	}

	if !job.Cancel() {
		s.respondError(w, http.StatusConflict, "optimization already finished")
		return
	}

	s.logger.Info("Optimization cancelled", map[string]interface{}{"job_id": id})
	s.respondJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"objectives": objectives.Names(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{"error": message})
}

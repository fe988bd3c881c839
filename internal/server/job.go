package server

import (
	"context"
	"sync"
	"time"

	"github.com/perturblabs/perturb/internal/logging"
	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/descent"
	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/evolutionary"
	"github.com/perturblabs/perturb/internal/optimization/multistep"
	"github.com/perturblabs/perturb/internal/optimization/objectives"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Algorithms selectable per run.
const (
	AlgorithmEvolutionary = "evolutionary"
	AlgorithmDescent      = "descent"
)

// RunParams are the resolved tuning parameters of one optimization run.
type RunParams struct {
	Algorithm    string
	LearningRate float64
	Epsilon      float64
	NumSamples   int
	NumSteps     int
	UnrollLoop   bool
	Seed         int64
	Iterations   int
}

// Job tracks one optimization run. All fields behind mu are updated by the
// run goroutine and read by status handlers.
type Job struct {
	ID        string
	StartTime time.Time

	cancel context.CancelFunc

	mu         sync.Mutex
	Status     string
	EndTime    *time.Time
	Iterations int
	Progress   float64
	BestLoss   float64
	BestValues []float64
	Err        string
}

// JobSnapshot is the JSON view of a job's state.
type JobSnapshot struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Iterations int       `json:"iterations"`
	Progress   float64   `json:"progress"`
	BestLoss   float64   `json:"best_loss"`
	BestValues []float64 `json:"best_values,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot returns a consistent copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:         j.ID,
		Status:     j.Status,
		StartTime:  j.StartTime,
		EndTime:    j.EndTime,
		Iterations: j.Iterations,
		Progress:   j.Progress,
		BestLoss:   j.BestLoss,
		BestValues: append([]float64(nil), j.BestValues...),
		Error:      j.Err,
	}
}

// Cancel moves the job to cancelled unless it already finished. Returns
// whether the cancellation took effect.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	j.cancel()
	j.finishLocked(StatusCancelled, "")
	return true
}

func (j *Job) finishLocked(status, errMsg string) {
	now := time.Now()
	j.Status = status
	j.EndTime = &now
	j.Err = errMsg
}

func (j *Job) finish(status, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusCancelled {
		return false
	}
	j.finishLocked(status, errMsg)
	return true
}

// runJob executes an optimization run to completion, updating the job state
// after every step.
func (s *Server) runJob(ctx context.Context, job *Job, builder objectives.Builder, initial []float64, params RunParams) {
	start := time.Now()
	defer func() {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	variable := optimization.NewVariable("x", initial)
	variables := []*optimization.Variable{variable}
	loss := builder(variables)

	eng := engine.New()
	defer eng.Close()

	stepLogger := logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{
		"job_id": job.ID,
	}))

	var opt optimization.Optimizer
	var err error
	switch params.Algorithm {
	case AlgorithmDescent:
		opt, err = descent.New(descent.Config{
			LearningRate: params.LearningRate,
			Epsilon:      params.Epsilon,
			Engine:       eng,
			Logger:       stepLogger,
		})
	default:
		opt, err = evolutionary.New(evolutionary.Config{
			LearningRate: params.LearningRate,
			NumSamples:   params.NumSamples,
			UnrollLoop:   params.UnrollLoop,
			Seed:         params.Seed,
			Engine:       eng,
			Logger:       stepLogger,
		})
	}
	if err == nil && params.NumSteps > 1 {
		opt, err = multistep.New(multistep.Config{
			Optimizer:  opt,
			NumSteps:   params.NumSteps,
			UnrollLoop: params.UnrollLoop,
		})
	}
	if err != nil {
		s.metrics.RunsTotal.WithLabelValues(StatusFailed).Inc()
		job.finish(StatusFailed, err.Error())
		return
	}

	initialLoss, err := loss(ctx, nil)
	if err != nil {
		s.metrics.RunsTotal.WithLabelValues(StatusFailed).Inc()
		job.finish(StatusFailed, err.Error())
		return
	}

	job.mu.Lock()
	job.Status = StatusRunning
	job.BestLoss = initialLoss
	job.BestValues = append([]float64(nil), variable.Value.Data()...)
	job.mu.Unlock()

	for i := 0; i < params.Iterations; i++ {
		if ctx.Err() != nil {
			// Cancelled via the API; Cancel already moved the job state.
			s.metrics.RunsTotal.WithLabelValues(StatusCancelled).Inc()
			return
		}

		if _, err := opt.Step(ctx, optimization.StepRequest{
			Time:      int64(i),
			Variables: variables,
			Arguments: optimization.Arguments{},
			Loss:      loss,
		}); err != nil {
			if ctx.Err() != nil {
				s.metrics.RunsTotal.WithLabelValues(StatusCancelled).Inc()
				return
			}
			s.logger.Error("Optimization step failed", map[string]interface{}{
				"job_id": job.ID,
				"error":  err.Error(),
			})
			s.metrics.RunsTotal.WithLabelValues(StatusFailed).Inc()
			job.finish(StatusFailed, err.Error())
			return
		}
		s.metrics.StepsTotal.WithLabelValues(opt.Name()).Inc()

		current, err := loss(ctx, nil)
		if err != nil {
			s.metrics.RunsTotal.WithLabelValues(StatusFailed).Inc()
			job.finish(StatusFailed, err.Error())
			return
		}

		job.mu.Lock()
		job.Iterations = i + 1
		job.Progress = float64(i+1) / float64(params.Iterations)
		if current < job.BestLoss {
			job.BestLoss = current
			job.BestValues = append(job.BestValues[:0], variable.Value.Data()...)
		}
		job.mu.Unlock()
	}

	if job.finish(StatusCompleted, "") {
		s.metrics.RunsTotal.WithLabelValues(StatusCompleted).Inc()
		s.metrics.BestLoss.Observe(job.Snapshot().BestLoss)
		s.logger.Info("Optimization completed", map[string]interface{}{
			"job_id":    job.ID,
			"best_loss": job.Snapshot().BestLoss,
		})
	} else {
		s.metrics.RunsTotal.WithLabelValues(StatusCancelled).Inc()
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/persistence"
)

// JobPusher is the producing side of the job queue.
type JobPusher interface {
	Push(ctx context.Context, job *persistence.Job) error
}

// JobPopper is the consuming side of the job queue.
type JobPopper interface {
	Pop(ctx context.Context, timeout time.Duration) (*persistence.Job, error)
}

// QueueSubmitter pushes jobs onto a queue drained by Worker.
type QueueSubmitter struct {
	Queue     JobPusher
	Bootstrap string
	Env       map[string]string
}

// Submit enqueues spec.
func (s *QueueSubmitter) Submit(ctx context.Context, spec JobSpec) (JobReceipt, error) {
	if spec.Goal == "" {
		return JobReceipt{}, ErrGoalRequired
	}
	job := &persistence.Job{
		Goal:    spec.Goal,
		Command: CommandLine(s.Bootstrap, spec.Goal),
		Env:     mergeEnv(s.Env, spec.Env),
	}
	if err := s.Queue.Push(ctx, job); err != nil {
		return JobReceipt{}, fmt.Errorf("enqueue job: %w", err)
	}
	return JobReceipt{ID: job.ID, Backend: "queue"}, nil
}

// DefaultPopTimeout bounds one blocking read of the queue.
const DefaultPopTimeout = 5 * time.Second

// Worker executes queued jobs one at a time.
type Worker struct {
	Queue      JobPopper
	Runner     framework.CommandRunner
	Workdir    string
	PopTimeout time.Duration
	Metrics    *framework.Metrics
	Logger     *zap.Logger
}

// NewWorker wires a queue and a runner.
func NewWorker(queue JobPopper, runner framework.CommandRunner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		Queue:      queue,
		Runner:     runner,
		PopTimeout: DefaultPopTimeout,
		Logger:     logger.With(zap.String("component", "worker")),
	}
}

// Run processes jobs until ctx is done. A failed job is logged and the
// worker moves on.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Info("worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.Logger.Info("worker stopped")
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Logger.Error("job failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits for a single job and runs it. It reports false when the
// queue stayed empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	timeout := w.PopTimeout
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	job, err := w.Queue.Pop(ctx, timeout)
	if errors.Is(err, persistence.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop job: %w", err)
	}
	logger := w.Logger.With(zap.String("job_id", job.ID), zap.String("goal", job.Goal))
	if len(job.Command) == 0 {
		err := errors.New("job has no command")
		w.Metrics.ObserveJob("worker", err)
		return true, err
	}
	logger.Info("running job")
	start := time.Now()
	stdout, stderr, err := w.Runner.Run(ctx, framework.CommandRequest{
		Workdir: w.Workdir,
		Args:    job.Command,
		Env:     EnvList(job.Env),
	})
	w.Metrics.ObserveJob("worker", err)
	if err != nil {
		return true, fmt.Errorf("job %s: %w: %s", job.ID, err, strings.TrimSpace(stderr))
	}
	logger.Info("job finished", zap.Duration("elapsed", time.Since(start)), zap.Int("output_bytes", len(stdout)))
	return true, nil
}

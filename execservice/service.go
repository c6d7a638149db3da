package execservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/sandbox"
)

// Outcome labels recorded for every execution.
const (
	OutcomeSuccess        = "success"
	OutcomeFault          = "fault"
	OutcomeTimeout        = "timeout"
	OutcomeInfrastructure = "infrastructure"
)

// Service runs one submission per call in a fresh isolated runtime.
// It holds no mutable state besides metrics and is safe for concurrent use.
type Service struct {
	logger   *zap.Logger
	executor sandbox.SandboxExecutor
	metrics  *Metrics
	newID    func() string
}

// NewService creates a Service on top of an executor
func NewService(logger *zap.Logger, executor sandbox.SandboxExecutor, metrics *Metrics) *Service {
	return &Service{
		logger:   logger,
		executor: executor,
		metrics:  metrics,
		newID:    uuid.NewString,
	}
}

// Run executes code. A failing program is a successful run with its error in
// Stderr. The error is sandbox.ErrTimeout or an *sandbox.InfrastructureError;
// a panic below this call is converted into the latter.
func (s *Service) Run(ctx context.Context, code string) (result sandbox.ExecuteResult, err error) {
	id := s.newID()
	log := s.logger.With(zap.String("execution_id", id))
	start := time.Now()

	s.metrics.started()
	defer func() {
		if r := recover(); r != nil {
			log.Error("execution panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = sandbox.ExecuteResult{}
			err = &sandbox.InfrastructureError{Op: "execute", Err: fmt.Errorf("panic: %v", r)}
		}

		outcome := classify(result, err)
		s.metrics.finished(outcome, time.Since(start))
		log.Info("execution finished",
			zap.String("outcome", outcome),
			zap.Duration("duration", time.Since(start)),
			zap.Int("code_len", len(code)),
			zap.Int("stdout_len", len(result.Stdout)),
			zap.Int("stderr_len", len(result.Stderr)))
	}()

	result, err = s.executor.Execute(ctx, sandbox.ExecuteRequest{ID: id, Code: code})
	if err != nil && !errors.Is(err, sandbox.ErrTimeout) && !sandbox.IsInfrastructure(err) {
		err = &sandbox.InfrastructureError{Op: "execute", Err: err}
	}
	return result, err
}

func classify(result sandbox.ExecuteResult, err error) string {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return OutcomeTimeout
	case err != nil:
		return OutcomeInfrastructure
	case result.Stderr != "":
		return OutcomeFault
	default:
		return OutcomeSuccess
	}
}

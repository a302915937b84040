// Package stages implements C9: the specialist analysis stages that run in
// sequence over a SharedContext — vulnerability, reputation, code analysis,
// supply-chain, and synthesis. Each stage is an explicit, named type
// implementing Stage; stages are wired into the orchestrator's fixed
// sequence by construction, not discovered via reflection or a plugin
// registry (spec.md §9's explicit-wiring redesign direction).
package stages

import (
	"context"
	"time"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
	"github.com/container-kit/depguard/internal/retry"
	"github.com/container-kit/depguard/pkg/model"
)

// Stage is one specialist analysis step.
type Stage interface {
	// Name identifies the stage for logging, metrics, and StageResult.StageName.
	Name() string
	// Run executes the stage against sc, returning its typed result data.
	// A non-nil error means the stage failed outright (not degraded); the
	// orchestrator decides whether that's fatal to the run.
	Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error)
}

// Run wraps a Stage.Run call with the shared retry-on-transient policy,
// timing, metrics, and StageResult bookkeeping common to every stage
// invocation. The orchestrator calls this rather than Stage.Run directly.
func Run(ctx context.Context, s Stage, sc *model.SharedContext, metrics *Metrics, retryCoordinator *retry.Coordinator) model.StageResult {
	start := time.Now()

	var data model.StageData
	err := retryCoordinator.Execute(ctx, s.Name(), func(ctx context.Context) error {
		var runErr error
		data, runErr = s.Run(ctx, sc)
		return runErr
	})
	duration := time.Since(start)

	result := model.StageResult{
		StageName: s.Name(),
		StartedAt: start,
		Duration:  duration,
		Data:      data,
	}

	switch {
	case err == nil:
		result.Success = true
		result.Status = model.StageStatusSuccess
		result.Confidence = 1.0
	case ctx.Err() != nil:
		result.Success = false
		result.Status = model.StageStatusTimeout
		result.Error = &model.StageError{Code: "timeout", Message: err.Error()}
	default:
		result.Success = false
		result.Status = model.StageStatusFailed
		result.Error = &model.StageError{Code: string(depguarderrors.CodeOf(err)), Message: err.Error()}
	}

	status := string(result.Status)
	if metrics != nil {
		metrics.RecordStage(s.Name(), status, duration)
	}

	sc.SetStageResult(result)
	return result
}

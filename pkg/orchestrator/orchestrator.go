// Package orchestrator implements C10: running the five specialist stages
// under a strict sequential protocol, applying the stage-level retry
// policy, and computing the run's overall degradation level.
package orchestrator

import (
	"context"
	"time"

	"github.com/container-kit/depguard/internal/retry"
	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/stages"
)

// stageSpec pairs a Stage with its default deadline and whether it is
// required for the degradation ladder.
type stageSpec struct {
	stage    stages.Stage
	deadline time.Duration
	required bool
}

// conditional is implemented by stages whose execution depends on signals
// raised by earlier stages (code, supply-chain).
type conditional interface {
	ShouldRun(sc *model.SharedContext) bool
}

// Deadlines holds the per-stage default deadlines from spec.md §4.10,
// overridable via configuration.
type Deadlines struct {
	Vulnerability time.Duration
	Reputation    time.Duration
	Code          time.Duration
	SupplyChain   time.Duration
	Synthesis     time.Duration
}

// Orchestrator runs the fixed stage sequence over one SharedContext.
type Orchestrator struct {
	retry   *retry.Coordinator
	metrics *stages.Metrics
	specs   []stageSpec
}

// New builds an Orchestrator wired with the five stages in spec.md §4.9's
// fixed order: vulnerability, reputation, code, supply-chain, synthesis.
func New(retryCoordinator *retry.Coordinator, metrics *stages.Metrics, deadlines Deadlines, vuln, reputation, code, supplyChain, synthesis stages.Stage) *Orchestrator {
	return &Orchestrator{
		retry:   retryCoordinator,
		metrics: metrics,
		specs: []stageSpec{
			{stage: vuln, deadline: deadlines.Vulnerability, required: true},
			{stage: reputation, deadline: deadlines.Reputation, required: true},
			{stage: code, deadline: deadlines.Code, required: false},
			{stage: supplyChain, deadline: deadlines.SupplyChain, required: false},
			{stage: synthesis, deadline: deadlines.Synthesis, required: true},
		},
	}
}

// Outcome is the orchestrator's run-level verdict, independent of the final
// Report (which pkg/report assembles from the same SharedContext).
type Outcome struct {
	Status           model.AnalysisStatus
	Confidence       float64
	RetryRecommended bool
}

// Run executes every stage in sequence against sc, honoring each stage's
// deadline and the retry-on-transient policy, and returns the computed
// degradation outcome. It never returns an error: a failing stage degrades
// the outcome rather than aborting the run.
func (o *Orchestrator) Run(ctx context.Context, sc *model.SharedContext) Outcome {
	retryRecommended := false

	for _, spec := range o.specs {
		if c, ok := spec.stage.(conditional); ok && !c.ShouldRun(sc) {
			sc.SetStageResult(model.StageResult{
				StageName: spec.stage.Name(),
				Status:    model.StageStatusSkipped,
				StartedAt: time.Now(),
			})
			continue
		}

		result := o.runWithDeadline(ctx, sc, spec)
		if result.Error != nil && isNetworkClass(result.Error.Code) {
			retryRecommended = true
		}
	}

	status, confidence := degradationLevel(o.specs, sc)
	return Outcome{Status: status, Confidence: confidence, RetryRecommended: retryRecommended}
}

// runWithDeadline bounds one stage's execution to its default deadline,
// retrying transient failures through the shared retry coordinator. The
// StageResult is recorded on sc by stages.Run itself. A required stage's
// failure does not abort the loop: synthesis still runs against whatever
// partial StageResults are present, per spec.md §4.10.
func (o *Orchestrator) runWithDeadline(ctx context.Context, sc *model.SharedContext, spec stageSpec) model.StageResult {
	stageCtx, cancel := context.WithTimeout(ctx, spec.deadline)
	defer cancel()

	return stages.Run(stageCtx, spec.stage, sc, o.metrics, o.retry)
}

// isNetworkClass reports whether a stage error code is network-class,
// meaning a retry later might succeed.
func isNetworkClass(code string) bool {
	return code == "network_transient" || code == "timeout"
}

// degradationLevel implements the §4.10 table: required = {vulnerability,
// reputation, synthesis}, optional = {code, supply-chain}.
func degradationLevel(specs []stageSpec, sc *model.SharedContext) (model.AnalysisStatus, float64) {
	requiredTotal, requiredOK := 0, 0
	optionalAttempted, optionalOK := 0, 0

	for _, spec := range specs {
		result, ok := sc.StageResultFor(spec.stage.Name())
		if spec.required {
			requiredTotal++
			if ok && result.Success {
				requiredOK++
			}
			continue
		}
		if ok && result.Status != model.StageStatusSkipped {
			optionalAttempted++
			if result.Success {
				optionalOK++
			}
		}
	}

	switch {
	case requiredOK == requiredTotal && optionalAttempted == optionalOK:
		return model.AnalysisFull, 0.95
	case requiredOK == requiredTotal:
		return model.AnalysisPartial, 0.75
	case requiredOK > 0:
		return model.AnalysisBasic, 0.55
	default:
		return model.AnalysisMinimal, 0.35
	}
}

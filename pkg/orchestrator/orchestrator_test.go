package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/container-kit/depguard/internal/retry"
	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/stages"
)

type fakeStage struct {
	name      string
	shouldRun *bool // nil means "not conditional"
	fail      bool
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	if f.fail {
		return model.StageData{}, context.DeadlineExceeded
	}
	return model.StageData{Reputation: &model.ReputationStageData{}}, nil
}

func (f *fakeStage) ShouldRun(sc *model.SharedContext) bool {
	if f.shouldRun == nil {
		return true
	}
	return *f.shouldRun
}

func newSC() *model.SharedContext {
	sc := model.NewSharedContext(context.Background(), time.Now().Add(time.Minute))
	sc.Graph = &model.Graph{}
	sc.Graph.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "root"}})
	sc.Graph.RootID = 0
	return sc
}

func testDeadlines() Deadlines {
	return Deadlines{
		Vulnerability: 5 * time.Second,
		Reputation:    5 * time.Second,
		Code:          5 * time.Second,
		SupplyChain:   5 * time.Second,
		Synthesis:     5 * time.Second,
	}
}

func TestRunFullSuccessYieldsFullStatus(t *testing.T) {
	no := false
	vuln := &fakeStage{name: "vulnerability"}
	reputation := &fakeStage{name: "reputation"}
	code := &fakeStage{name: "code", shouldRun: &no}
	supplyChain := &fakeStage{name: "supplychain", shouldRun: &no}
	synthesis := &fakeStage{name: "synthesis"}

	o := New(retry.New(), nil, testDeadlines(), vuln, reputation, code, supplyChain, synthesis)
	outcome := o.Run(context.Background(), newSC())

	if outcome.Status != model.AnalysisFull {
		t.Fatalf("expected full status when all required stages succeed and no optional stage runs, got %s", outcome.Status)
	}
	if outcome.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %v", outcome.Confidence)
	}
}

func TestRunSkipsConditionalStagesExplicitly(t *testing.T) {
	no := false
	vuln := &fakeStage{name: "vulnerability"}
	reputation := &fakeStage{name: "reputation"}
	code := &fakeStage{name: "code", shouldRun: &no}
	supplyChain := &fakeStage{name: "supplychain", shouldRun: &no}
	synthesis := &fakeStage{name: "synthesis"}

	sc := newSC()
	o := New(retry.New(), nil, testDeadlines(), vuln, reputation, code, supplyChain, synthesis)
	o.Run(context.Background(), sc)

	result, ok := sc.StageResultFor("code")
	if !ok {
		t.Fatalf("expected a recorded stage result even for a skipped stage")
	}
	if result.Status != model.StageStatusSkipped {
		t.Fatalf("expected skipped status, got %s", result.Status)
	}
}

func TestRunRequiredFailureDegradesToBasic(t *testing.T) {
	no := false
	vuln := &fakeStage{name: "vulnerability", fail: true}
	reputation := &fakeStage{name: "reputation"}
	code := &fakeStage{name: "code", shouldRun: &no}
	supplyChain := &fakeStage{name: "supplychain", shouldRun: &no}
	synthesis := &fakeStage{name: "synthesis"}

	o := New(retry.New(), nil, testDeadlines(), vuln, reputation, code, supplyChain, synthesis)
	outcome := o.Run(context.Background(), newSC())

	if outcome.Status != model.AnalysisBasic {
		t.Fatalf("expected basic status with two of three required stages succeeding, got %s", outcome.Status)
	}
}

func TestRunAllRequiredFailYieldsMinimal(t *testing.T) {
	no := false
	vuln := &fakeStage{name: "vulnerability", fail: true}
	reputation := &fakeStage{name: "reputation", fail: true}
	code := &fakeStage{name: "code", shouldRun: &no}
	supplyChain := &fakeStage{name: "supplychain", shouldRun: &no}
	synthesis := &fakeStage{name: "synthesis", fail: true}

	o := New(retry.New(), nil, testDeadlines(), vuln, reputation, code, supplyChain, synthesis)
	outcome := o.Run(context.Background(), newSC())

	if outcome.Status != model.AnalysisMinimal {
		t.Fatalf("expected minimal status when no required stage succeeds, got %s", outcome.Status)
	}
}

func TestRunOptionalStageRunsWhenConditionMet(t *testing.T) {
	yes := true
	no := false
	vuln := &fakeStage{name: "vulnerability"}
	reputation := &fakeStage{name: "reputation"}
	code := &fakeStage{name: "code", shouldRun: &yes}
	supplyChain := &fakeStage{name: "supplychain", shouldRun: &no}
	synthesis := &fakeStage{name: "synthesis"}

	sc := newSC()
	o := New(retry.New(), nil, testDeadlines(), vuln, reputation, code, supplyChain, synthesis)
	o.Run(context.Background(), sc)

	result, ok := sc.StageResultFor("code")
	if !ok || result.Status == model.StageStatusSkipped {
		t.Fatalf("expected the code stage to actually run, got %+v", result)
	}
}

var _ stages.Stage = (*fakeStage)(nil)

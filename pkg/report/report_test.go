package report

import (
	"context"
	"testing"
	"time"

	"github.com/container-kit/depguard/pkg/model"
)

func scWithGraph(refs ...model.PackageRef) *model.SharedContext {
	sc := model.NewSharedContext(context.Background(), time.Now().Add(time.Minute))
	g := &model.Graph{}
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "root"}})
	g.RootID = 0
	for _, r := range refs {
		g.AddNode(model.DependencyNode{Ref: r})
	}
	sc.Graph = g
	sc.AnalysisID = "test-run"
	return sc
}

func TestAssembleDedupesIdenticalFindings(t *testing.T) {
	ref := model.PackageRef{Name: "left-pad", Version: "1.0.0", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref)

	finding := model.Finding{
		PackageRef:  ref,
		FindingType: model.FindingMaliciousPackage,
		Severity:    model.SeverityCritical,
		Evidence:    []string{"matched seed list"},
	}
	sc.AddRuleFindings(finding, finding) // duplicate on purpose

	r := Assemble(sc, model.AnalysisFull)
	if len(r.Findings) != 1 {
		t.Fatalf("expected duplicate findings to be deduped, got %d", len(r.Findings))
	}
}

func TestAssembleMaliciousPackageForcesBlock(t *testing.T) {
	ref := model.PackageRef{Name: "evil-pkg", Version: "1.0.0", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref)
	sc.AddRuleFindings(model.Finding{
		PackageRef:  ref,
		FindingType: model.FindingMaliciousPackage,
		Severity:    model.SeverityLow, // even a low severity malicious finding should block
		Evidence:    []string{"matched seed list"},
	})

	r := Assemble(sc, model.AnalysisFull)
	if len(r.Verdicts) != 1 {
		t.Fatalf("expected one verdict, got %d", len(r.Verdicts))
	}
	if r.Verdicts[0].Action != model.ActionBlock {
		t.Fatalf("expected malicious_package to force block regardless of severity, got %s", r.Verdicts[0].Action)
	}
}

func TestAssembleVulnerabilityStageFeedsFindingsViaBundle(t *testing.T) {
	ref := model.PackageRef{Name: "lodash", Version: "4.17.15", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref)

	sc.SetStageResult(model.StageResult{
		StageName: "vulnerability",
		Success:   true,
		Status:    model.StageStatusSuccess,
		Data: model.StageData{
			Vulnerability: &model.VulnerabilityStageData{
				PerPackage: map[string]model.PackageVulnerabilities{
					ref.CacheKey(): {
						PackageRef: ref,
						Vulnerabilities: []model.Vulnerability{
							{ID: "CVE-2020-8203", Severity: model.SeverityHigh, Status: model.VulnStatusActive, Summary: "prototype pollution"},
						},
					},
				},
			},
		},
	})

	r := Assemble(sc, model.AnalysisFull)
	if len(r.Findings) != 1 {
		t.Fatalf("expected one vulnerability finding, got %d", len(r.Findings))
	}
	if r.Findings[0].PackageRef != ref {
		t.Fatalf("expected the finding's PackageRef to be recovered from the bundle, got %+v", r.Findings[0].PackageRef)
	}
	if r.Findings[0].FindingType != model.FindingVulnerability {
		t.Fatalf("expected a vulnerability finding type, got %s", r.Findings[0].FindingType)
	}
}

func TestAssembleSkipsFixedAndNotApplicableVulnerabilities(t *testing.T) {
	ref := model.PackageRef{Name: "lodash", Version: "4.17.21", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref)

	sc.SetStageResult(model.StageResult{
		StageName: "vulnerability",
		Success:   true,
		Status:    model.StageStatusSuccess,
		Data: model.StageData{
			Vulnerability: &model.VulnerabilityStageData{
				PerPackage: map[string]model.PackageVulnerabilities{
					ref.CacheKey(): {
						PackageRef: ref,
						Vulnerabilities: []model.Vulnerability{
							{ID: "CVE-2020-8203", Severity: model.SeverityHigh, Status: model.VulnStatusFixed},
							{ID: "CVE-2019-0001", Severity: model.SeverityHigh, Status: model.VulnStatusNotApplicable},
						},
					},
				},
			},
		},
	})

	r := Assemble(sc, model.AnalysisFull)
	if len(r.Findings) != 0 {
		t.Fatalf("fixed/not_applicable vulnerabilities should not produce findings, got %d", len(r.Findings))
	}
}

func TestAssembleSkipsFailedStageResults(t *testing.T) {
	ref := model.PackageRef{Name: "pkg", Version: "1.0.0", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref)

	sc.SetStageResult(model.StageResult{
		StageName: "reputation",
		Success:   false,
		Status:    model.StageStatusFailed,
		Data: model.StageData{
			Reputation: &model.ReputationStageData{
				PerPackage: map[string]model.ReputationAssessment{
					ref.CacheKey(): {PackageRef: ref, RiskLevel: model.RiskHigh},
				},
			},
		},
	})

	r := Assemble(sc, model.AnalysisPartial)
	if len(r.Findings) != 0 {
		t.Fatalf("a failed stage's data must not contribute findings, got %d", len(r.Findings))
	}
}

func TestAssembleIncludesCycleAsGraphWarningAndFinding(t *testing.T) {
	sc := model.NewSharedContext(context.Background(), time.Now().Add(time.Minute))
	g := &model.Graph{}
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "root"}, Children: map[string]model.NodeID{"a": 1}})
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "a"}, Children: map[string]model.NodeID{"b": 2}})
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "b"}, Children: map[string]model.NodeID{"a": 1}})
	g.RootID = 0
	sc.Graph = g

	r := Assemble(sc, model.AnalysisFull)
	if len(r.GraphWarnings) != 1 {
		t.Fatalf("expected one graph warning for the cycle, got %d", len(r.GraphWarnings))
	}

	foundCycleFinding := false
	for _, f := range r.Findings {
		if f.FindingType == model.FindingCircularDependency {
			foundCycleFinding = true
		}
	}
	if !foundCycleFinding {
		t.Fatalf("expected a circular_dependency finding alongside the graph warning")
	}
}

func TestBuildSummaryCountsBySeverity(t *testing.T) {
	ref := model.PackageRef{Name: "pkg", Version: "1.0.0", Ecosystem: model.EcosystemNPM}
	sc := scWithGraph(ref, model.PackageRef{Name: "pkg2", Version: "2.0.0", Ecosystem: model.EcosystemNPM})
	sc.AddRuleFindings(
		model.Finding{PackageRef: ref, FindingType: model.FindingTyposquat, Severity: model.SeverityHigh},
		model.Finding{PackageRef: ref, FindingType: model.FindingLowReputation, Severity: model.SeverityMedium, Evidence: []string{"distinct"}},
	)

	r := Assemble(sc, model.AnalysisFull)
	if r.Summary.TotalPackagesScanned != 2 {
		t.Fatalf("expected 2 packages scanned (root excluded), got %d", r.Summary.TotalPackagesScanned)
	}
	if r.Summary.HighestSeverity != model.SeverityHigh {
		t.Fatalf("expected highest severity high, got %s", r.Summary.HighestSeverity)
	}
	if r.Summary.FindingsBySeverity[model.SeverityHigh] != 1 {
		t.Fatalf("expected 1 high-severity finding counted, got %d", r.Summary.FindingsBySeverity[model.SeverityHigh])
	}
}

func TestAssembleCarriesNarrativeThrough(t *testing.T) {
	sc := scWithGraph()
	sc.SetNarrative("no significant risk detected")

	r := Assemble(sc, model.AnalysisFull)
	if r.Narrative != "no significant risk detected" {
		t.Fatalf("expected narrative to flow through to the report, got %q", r.Narrative)
	}
}

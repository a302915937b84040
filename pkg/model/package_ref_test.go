package model

import (
	"context"
	"testing"
	"time"
)

func TestPackageRefCacheKeyNormalization(t *testing.T) {
	a := PackageRef{Name: "Lodash", Version: "^4.17.21", Ecosystem: "NPM"}
	b := PackageRef{Name: "lodash", Version: "4.17.21", Ecosystem: "npm"}
	if a.CacheKey() != b.CacheKey() {
		t.Fatalf("expected equivalent refs to normalize to the same cache key")
	}

	c := PackageRef{Name: "lodash", Version: "4.17.20", Ecosystem: "npm"}
	if a.CacheKey() == c.CacheKey() {
		t.Fatalf("expected different versions to produce different cache keys")
	}
}

func TestSeverityFromCVSS(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{9.8, SeverityCritical},
		{9.0, SeverityCritical},
		{7.5, SeverityHigh},
		{7.0, SeverityHigh},
		{5.0, SeverityMedium},
		{4.0, SeverityMedium},
		{3.9, SeverityLow},
		{0, SeverityLow},
	}
	for _, c := range cases {
		if got := SeverityFromCVSS(c.score); got != c.want {
			t.Errorf("SeverityFromCVSS(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestMoreSevereAndPromoteOne(t *testing.T) {
	if !MoreSevere(SeverityCritical, SeverityLow) {
		t.Error("critical should be more severe than low")
	}
	if MoreSevere(SeverityLow, SeverityLow) {
		t.Error("equal severities should not be more severe")
	}
	if PromoteOne(SeverityCritical) != SeverityCritical {
		t.Error("promoting critical should stay critical")
	}
	if PromoteOne(SeverityMedium) != SeverityHigh {
		t.Error("promoting medium should yield high")
	}
}

func TestRiskLevelFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskHigh},
		{0.29, RiskHigh},
		{0.3, RiskMedium},
		{0.59, RiskMedium},
		{0.6, RiskLow},
		{0.79, RiskLow},
		{0.8, RiskTrusted},
		{1.0, RiskTrusted},
	}
	for _, c := range cases {
		if got := RiskLevelFromScore(c.score); got != c.want {
			t.Errorf("RiskLevelFromScore(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestReputationFactorsWeightedMean(t *testing.T) {
	f := ReputationFactors{Age: 1.0, Downloads: 1.0, Author: 1.0, Maintenance: 1.0}
	if got := f.WeightedMean(); got != 1.0 {
		t.Fatalf("all-1.0 factors should weighted-mean to 1.0, got %v", got)
	}

	f = ReputationFactors{Age: 0, Downloads: 0, Author: 0, Maintenance: 0}
	if got := f.WeightedMean(); got != 0 {
		t.Fatalf("all-0 factors should weighted-mean to 0, got %v", got)
	}
}

func TestFindingEvidenceHashStableAndDistinguishing(t *testing.T) {
	f1 := Finding{
		PackageRef:  PackageRef{Name: "left-pad", Version: "1.0.0", Ecosystem: EcosystemNPM},
		FindingType: FindingMaliciousPackage,
		Evidence:    []string{"matched seed list"},
	}
	f2 := f1
	if f1.EvidenceHash("") != f2.EvidenceHash("") {
		t.Fatalf("identical findings must hash identically")
	}

	f3 := f1
	f3.Evidence = []string{"different evidence"}
	if f1.EvidenceHash("") == f3.EvidenceHash("") {
		t.Fatalf("differing evidence must hash differently")
	}
}

func TestSharedContextHighRiskTracking(t *testing.T) {
	sc := NewSharedContext(context.Background(), time.Now().Add(time.Minute))

	ref := PackageRef{Name: "evil-pkg", Version: "1.0.0", Ecosystem: EcosystemNPM}
	if sc.IsHighRisk(ref) {
		t.Fatalf("package should not start high-risk")
	}
	if sc.AnyHighRisk() {
		t.Fatalf("AnyHighRisk should be false before any mark")
	}

	sc.MarkHighRisk(ref)
	if !sc.IsHighRisk(ref) {
		t.Fatalf("package should be high-risk after MarkHighRisk")
	}
	if !sc.AnyHighRisk() {
		t.Fatalf("AnyHighRisk should be true after a mark")
	}
}

func TestSharedContextStageResults(t *testing.T) {
	sc := NewSharedContext(context.Background(), time.Now().Add(time.Minute))

	if _, ok := sc.StageResultFor("vulnerability"); ok {
		t.Fatalf("no stage result should exist yet")
	}

	sc.SetStageResult(StageResult{StageName: "vulnerability", Success: true, Status: StageStatusSuccess})
	r, ok := sc.StageResultFor("vulnerability")
	if !ok || !r.Success {
		t.Fatalf("expected a recorded successful vulnerability stage result")
	}

	all := sc.AllStageResults()
	if len(all) != 1 {
		t.Fatalf("expected one recorded stage result, got %d", len(all))
	}
}

func TestSharedContextNarrative(t *testing.T) {
	sc := NewSharedContext(context.Background(), time.Now().Add(time.Minute))
	if sc.Narrative() != "" {
		t.Fatalf("narrative should start empty")
	}
	sc.SetNarrative("three packages flagged for review")
	if sc.Narrative() != "three packages flagged for review" {
		t.Fatalf("narrative should round-trip through SetNarrative/Narrative")
	}
}

func TestSharedContextCancellation(t *testing.T) {
	sc := NewSharedContext(context.Background(), time.Now().Add(time.Minute))
	if sc.Cancelled() {
		t.Fatalf("fresh context should not be cancelled")
	}
	sc.Cancel()
	if !sc.Cancelled() {
		t.Fatalf("context should report cancelled after Cancel()")
	}
}

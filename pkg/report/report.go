// Package report implements C11: assembling the terminal Report from a
// completed run's SharedContext, deduplicating findings across the stages
// that contributed them and giving each package an action derived from its
// findings (actionForSeverity). No prioritised run-level recommendation list
// is produced.
package report

import (
	"sort"
	"time"

	"github.com/container-kit/depguard/pkg/graph"
	"github.com/container-kit/depguard/pkg/model"
)

// Assemble builds the final Report from every finding and stage result
// recorded on sc. It never fails: a run with only partial stage success
// still produces a schema-valid Report, degraded per the orchestrator's
// AnalysisStatus.
func Assemble(sc *model.SharedContext, status model.AnalysisStatus) model.Report {
	findings := collectFindings(sc)
	findings = dedupeFindings(findings)

	verdicts := buildVerdicts(sc, findings)
	summary := buildSummary(sc, findings, status)

	return model.Report{
		AnalysisID:    sc.AnalysisID,
		GeneratedAt:   now(),
		Root:          sc.Root,
		Summary:       summary,
		Findings:      findings,
		Verdicts:      verdicts,
		StageResults:  sc.AllStageResults(),
		GraphWarnings: graphWarnings(sc),
		Narrative:     sc.Narrative(),
	}
}

// now is overridable in tests; production code always uses wall-clock time.
var now = time.Now

func collectFindings(sc *model.SharedContext) []model.Finding {
	findings := append([]model.Finding(nil), sc.RuleFindings...)

	for _, result := range sc.AllStageResults() {
		if !result.Success {
			continue
		}
		data := result.Data
		switch {
		case data.Vulnerability != nil:
			findings = append(findings, vulnerabilityFindings(data.Vulnerability)...)
		case data.Reputation != nil:
			findings = append(findings, reputationFindings(data.Reputation)...)
		case data.Code != nil:
			findings = append(findings, codeFindings(data.Code)...)
		case data.SupplyChain != nil:
			findings = append(findings, supplyChainFindings(data.SupplyChain)...)
		}
	}

	if sc.Graph != nil {
		cycles := graph.DetectCycles(sc.Graph)
		findings = append(findings, graph.FindingsForCycles(sc.Graph, cycles)...)
		conflicts := graph.DetectVersionConflicts(sc.Graph)
		findings = append(findings, graph.FindingsForConflicts(sc.Graph, conflicts)...)
	}

	return findings
}

func vulnerabilityFindings(data *model.VulnerabilityStageData) []model.Finding {
	var out []model.Finding
	for _, pv := range data.PerPackage {
		ref := pv.PackageRef
		for _, v := range pv.Vulnerabilities {
			if v.Status == model.VulnStatusNotApplicable || v.Status == model.VulnStatusFixed {
				continue
			}
			out = append(out, model.Finding{
				PackageRef:      ref,
				FindingType:     model.FindingVulnerability,
				Severity:        v.Severity,
				Confidence:      1.0,
				Evidence:        []string{v.Summary},
				Source:          "osv",
				References:      v.References,
				DetectionMethod: model.DetectionRuleBased,
			})
		}
	}
	return out
}

func reputationFindings(data *model.ReputationStageData) []model.Finding {
	var out []model.Finding
	for _, assessment := range data.PerPackage {
		if assessment.RiskLevel != model.RiskHigh && assessment.RiskLevel != model.RiskMedium {
			continue
		}
		severity := model.SeverityMedium
		if assessment.RiskLevel == model.RiskHigh {
			severity = model.SeverityHigh
		}
		evidence := make([]string, 0, len(assessment.Flags))
		for _, f := range assessment.Flags {
			evidence = append(evidence, string(f))
		}
		out = append(out, model.Finding{
			PackageRef:      assessment.PackageRef,
			FindingType:     model.FindingLowReputation,
			Severity:        severity,
			Confidence:      assessment.Confidence,
			Evidence:        evidence,
			Source:          "reputation",
			DetectionMethod: model.DetectionRuleBased,
		})
	}
	return out
}

func codeFindings(data *model.CodeStageData) []model.Finding {
	out := make([]model.Finding, 0, len(data.Issues))
	for _, issue := range data.Issues {
		findingType := model.FindingSuspiciousBehavior
		if issue.Family == "obfuscation" {
			findingType = model.FindingObfuscatedCode
		}
		method := model.DetectionRuleBased
		if issue.Pattern == "llm_assessment" {
			method = model.DetectionAgentBased
		}
		out = append(out, model.Finding{
			PackageRef:      issue.PackageRef,
			FindingType:     findingType,
			Severity:        issue.Severity,
			Confidence:      0.8,
			Evidence:        []string{issue.Evidence},
			Source:          "code_analysis",
			DetectionMethod: method,
		})
	}
	return out
}

func supplyChainFindings(data *model.SupplyChainStageData) []model.Finding {
	out := make([]model.Finding, 0, len(data.Indicators))
	for _, ind := range data.Indicators {
		if ind.Likelihood == model.AttackNone {
			continue
		}
		out = append(out, model.Finding{
			PackageRef:      ind.PackageRef,
			FindingType:     model.FindingSupplyChainAttack,
			Severity:        severityForAttackLikelihood(ind.Likelihood),
			Confidence:      ind.Overlap,
			Evidence:        []string{ind.Pattern + ": " + ind.Evidence},
			Source:          "supply_chain",
			DetectionMethod: model.DetectionRuleBased,
		})
	}
	return out
}

func severityForAttackLikelihood(l model.AttackLikelihood) model.Severity {
	switch l {
	case model.AttackCritical:
		return model.SeverityCritical
	case model.AttackHigh:
		return model.SeverityHigh
	case model.AttackMedium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// dedupeFindings collapses findings matching on (package_ref, finding_type,
// evidence-hash) to the first occurrence, per spec.md §4.11.
func dedupeFindings(findings []model.Finding) []model.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		key := f.EvidenceHash("")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func buildVerdicts(sc *model.SharedContext, findings []model.Finding) []model.PackageVerdict {
	byPackage := make(map[string][]model.Finding)
	var order []string
	for _, f := range findings {
		key := f.PackageRef.CacheKey()
		if _, ok := byPackage[key]; !ok {
			order = append(order, key)
		}
		byPackage[key] = append(byPackage[key], f)
	}
	sort.Strings(order)

	verdicts := make([]model.PackageVerdict, 0, len(order))
	for _, key := range order {
		packageFindings := byPackage[key]
		highest := model.SeverityInfo
		for _, f := range packageFindings {
			if model.MoreSevere(f.Severity, highest) {
				highest = f.Severity
			}
		}
		verdicts = append(verdicts, model.PackageVerdict{
			PackageRef:      packageFindings[0].PackageRef,
			HighestSeverity: highest,
			Action:          actionForSeverity(highest, packageFindings),
			FindingCount:    len(packageFindings),
		})
	}
	return verdicts
}

func actionForSeverity(highest model.Severity, findings []model.Finding) model.RecommendationAction {
	for _, f := range findings {
		if f.FindingType == model.FindingSupplyChainAttack || f.FindingType == model.FindingMaliciousPackage {
			return model.ActionBlock
		}
	}
	switch highest {
	case model.SeverityCritical:
		return model.ActionBlock
	case model.SeverityHigh:
		return model.ActionUpgrade
	case model.SeverityMedium:
		return model.ActionReview
	case model.SeverityLow:
		return model.ActionMonitor
	default:
		return model.ActionAllow
	}
}

// buildSummary counts findings per severity, records the highest severity
// seen, and counts scanned packages (excluding the root). It selects no
// recommendations.
func buildSummary(sc *model.SharedContext, findings []model.Finding, status model.AnalysisStatus) model.Summary {
	counts := make(map[model.Severity]int)
	highest := model.SeverityInfo
	for _, f := range findings {
		counts[f.Severity]++
		if model.MoreSevere(f.Severity, highest) {
			highest = f.Severity
		}
	}

	scanned := 0
	if sc.Graph != nil {
		scanned = sc.Graph.Len() - 1 // exclude the root
		if scanned < 0 {
			scanned = 0
		}
	}

	return model.Summary{
		TotalPackagesScanned: scanned,
		FindingsBySeverity:   counts,
		HighestSeverity:      highest,
		AnalysisStatus:       status,
	}
}

func graphWarnings(sc *model.SharedContext) []string {
	if sc.Graph == nil {
		return nil
	}
	var warnings []string
	for _, c := range graph.DetectCycles(sc.Graph) {
		warnings = append(warnings, graph.RenderCycle(sc.Graph, c))
	}
	return warnings
}

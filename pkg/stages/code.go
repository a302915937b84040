package stages

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"github.com/container-kit/depguard/pkg/llm"
	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/registry"
)

// codePattern is one obfuscation/suspicious-behavior regex matched against
// install-script bodies.
type codePattern struct {
	family   string // "obfuscation" | "suspicious_behavior"
	pattern  string
	severity model.Severity
	re       *regexp.Regexp
}

var codePatterns = []codePattern{
	{family: "obfuscation", pattern: "base64_decode_exec", severity: model.SeverityHigh,
		re: regexp.MustCompile(`(?i)(atob|base64)[^\n]{0,40}(eval|exec|Function)`)},
	{family: "obfuscation", pattern: "eval_call", severity: model.SeverityMedium,
		re: regexp.MustCompile(`\beval\s*\(`)},
	{family: "obfuscation", pattern: "dynamic_exec_spawn", severity: model.SeverityMedium,
		re: regexp.MustCompile(`(?i)(child_process\.(exec|spawn)|os\.(system|popen)|subprocess\.(call|Popen))\s*\(`)},
	{family: "suspicious_behavior", pattern: "network_access", severity: model.SeverityMedium,
		re: regexp.MustCompile(`(?i)(require\(['"]https?['"]\)|import\s+(requests|urllib)|fetch\(|axios\.)`)},
	{family: "suspicious_behavior", pattern: "filesystem_access", severity: model.SeverityLow,
		re: regexp.MustCompile(`(?i)(fs\.(readFile|writeFile|unlink)|os\.(remove|rename)|shutil\.)`)},
	{family: "suspicious_behavior", pattern: "process_spawn", severity: model.SeverityMedium,
		re: regexp.MustCompile(`(?i)(child_process|subprocess|os\.fork)\b`)},
	{family: "suspicious_behavior", pattern: "env_access", severity: model.SeverityLow,
		re: regexp.MustCompile(`(?i)(process\.env|os\.environ)\b`)},
	{family: "suspicious_behavior", pattern: "crypto_usage", severity: model.SeverityLow,
		re: regexp.MustCompile(`(?i)(crypto\.createCipher|hashlib\.|Crypto\.Cipher)`)},
}

const lowReputationThreshold = 0.4

// CodeStage inspects install scripts of packages already flagged high-risk
// by the vulnerability or reputation stages, looking for obfuscation and
// suspicious-behavior patterns, and optionally escalates ambiguous evidence
// to an LLM for a natural-language assessment.
type CodeStage struct {
	registryClient *registry.Client
	llmClient      llm.Client
}

// NewCodeStage builds the code-analysis stage.
func NewCodeStage(registryClient *registry.Client, llmClient llm.Client) *CodeStage {
	if llmClient == nil {
		llmClient = llm.NullClient{}
	}
	return &CodeStage{registryClient: registryClient, llmClient: llmClient}
}

func (s *CodeStage) Name() string { return "code" }

func (s *CodeStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	var (
		issues      []model.CodeIssue
		complexity  = make(map[string]model.ComplexitySummary)
		llmAssisted bool
	)

	sc.Graph.Walk(func(id model.NodeID, n *model.DependencyNode) bool {
		if id == sc.Graph.RootID {
			return true
		}
		if !sc.IsHighRisk(n.Ref) {
			return true
		}

		meta, err := s.registryClient.Fetch(ctx, n.Ref)
		if err != nil || meta.NotFound {
			return true
		}

		for _, script := range meta.InstallScripts {
			matches := matchCodePatterns(script)
			for _, m := range matches {
				issues = append(issues, model.CodeIssue{
					PackageRef: n.Ref,
					Family:     m.family,
					Pattern:    m.pattern,
					Evidence:   excerpt(script, m.re),
					Severity:   m.severity,
				})
			}
			complexity[n.Ref.CacheKey()] = summarizeComplexity(script)

			if len(matches) > 0 && ambiguous(matches) {
				if assessed, used := s.escalate(ctx, n.Ref, script); used {
					llmAssisted = true
					issues = append(issues, assessed...)
				}
			}
		}
		return true
	})

	return model.StageData{Code: &model.CodeStageData{
		Issues:      issues,
		Complexity:  complexity,
		LLMAssisted: llmAssisted,
	}}, nil
}

// ShouldRun implements the conditional trigger for the code stage: any
// package already flagged high-risk (a malicious or remote-code-exec rule
// finding, a high or critical vulnerability, or a reputation score below
// 0.3), or a malicious_package or obfuscated_code rule finding. A reputation
// score from 0.3 up to lowReputationThreshold does not trigger it. The
// orchestrator checks this before invoking Run.
func (s *CodeStage) ShouldRun(sc *model.SharedContext) bool {
	if sc.AnyHighRisk() {
		return true
	}
	for _, f := range sc.RuleFindings {
		if f.FindingType == model.FindingMaliciousPackage || f.FindingType == model.FindingObfuscatedCode {
			return true
		}
	}
	return false
}

func matchCodePatterns(script string) []codePattern {
	var out []codePattern
	for _, p := range codePatterns {
		if p.re.MatchString(script) {
			out = append(out, p)
		}
	}
	return out
}

// ambiguous reports whether the matched patterns are weak enough (no
// obfuscation-family match and no high-severity match) to warrant an
// LLM second opinion rather than a confident local verdict.
func ambiguous(matches []codePattern) bool {
	for _, m := range matches {
		if m.family == "obfuscation" || m.severity == model.SeverityHigh {
			return false
		}
	}
	return true
}

const codeAssessmentSchema = `{
	"type": "object",
	"required": ["malicious", "explanation"],
	"properties": {
		"malicious": {"type": "boolean"},
		"explanation": {"type": "string"}
	}
}`

// escalate asks the configured LLM client whether the script is malicious,
// demoting silently to the local verdict on any error or schema mismatch.
func (s *CodeStage) escalate(ctx context.Context, ref model.PackageRef, script string) ([]model.CodeIssue, bool) {
	req := llm.Request{
		SystemPrompt: "You are a supply-chain security reviewer. Assess whether the given install script is malicious.",
		Prompt:       "Install script for " + ref.Name + "@" + ref.Version + ":\n\n" + script,
	}

	var result struct {
		Malicious   bool   `json:"malicious"`
		Explanation string `json:"explanation"`
	}
	if err := llm.CompleteJSON(ctx, s.llmClient, req, codeAssessmentSchema, &result); err != nil {
		return nil, false
	}
	if !result.Malicious {
		return nil, true
	}
	return []model.CodeIssue{{
		PackageRef: ref,
		Family:     "suspicious_behavior",
		Pattern:    "llm_assessment",
		Evidence:   result.Explanation,
		Severity:   model.SeverityHigh,
	}}, true
}

// excerpt returns the matched line, trimmed, for evidence.
func excerpt(script string, re *regexp.Regexp) string {
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		if re.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return re.FindString(script)
}

var controlFlowRe = regexp.MustCompile(`\b(if|for|while|switch|case|catch)\b`)

func summarizeComplexity(script string) model.ComplexitySummary {
	var summary model.ComplexitySummary
	depth := 0
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		summary.LOC++
		if len(line) > 120 {
			summary.LongLines++
		}
		summary.ControlFlowOps += len(controlFlowRe.FindAllString(line, -1))
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth > summary.MaxNesting {
			summary.MaxNesting = depth
		}
	}
	return summary
}

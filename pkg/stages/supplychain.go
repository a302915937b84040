package stages

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/registry"
)

// attackFingerprint is one known supply-chain attack's signal token set,
// matched against an assembled package's evidence tokens by Jaccard overlap.
type attackFingerprint struct {
	name   string
	tokens map[string]bool
}

func fingerprint(name string, tokens ...string) attackFingerprint {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return attackFingerprint{name: name, tokens: set}
}

var knownFingerprints = []attackFingerprint{
	fingerprint("maintainer_takeover",
		"maintainer_change", "rapid_release", "network_access", "credential_exfiltration"),
	fingerprint("dormant_reactivation",
		"dormant_then_active", "network_access", "env_access", "delayed_activation"),
	fingerprint("credential_harvester",
		"credential_exfiltration", "env_access", "network_access"),
	fingerprint("delayed_payload",
		"delayed_activation", "network_access", "process_spawn"),
}

var (
	delayedActivationRe    = regexp.MustCompile(`(?i)(setTimeout|setInterval)\s*\([^)]*\)|datetime\.now\(\)\s*[<>]=?`)
	credentialExfilRe      = regexp.MustCompile(`(?i)(\.ssh/id_rsa|\.aws/credentials|\.netrc|\.npmrc|AWS_SECRET|API_KEY|process\.env\.\w*(TOKEN|SECRET|KEY))`)
	networkDependencyAddRe = regexp.MustCompile(`(?i)^(axios|node-fetch|requests|socket\.io-client|ws)$`)
)

// rapidReleaseWindow below which back-to-back publishes are suspicious.
const rapidReleaseWindow = 24 * time.Hour

// dormancyThreshold above which a long-quiet package suddenly republishing
// is suspicious.
const dormancyThreshold = 18 * 30 * 24 * time.Hour

// SupplyChainStage looks for sophisticated attack indicators — maintainer
// changes, anomalous publish cadence, and delayed-activation or
// credential-exfiltration code patterns — on packages already flagged
// high-risk earlier in the run (by rule findings, the vulnerability stage,
// or the reputation stage), scoring each against a table of known attack
// fingerprints by set-overlap similarity.
type SupplyChainStage struct {
	registryClient *registry.Client
}

// NewSupplyChainStage builds the supply-chain stage.
func NewSupplyChainStage(registryClient *registry.Client) *SupplyChainStage {
	return &SupplyChainStage{registryClient: registryClient}
}

func (s *SupplyChainStage) Name() string { return "supplychain" }

// ShouldRun implements the conditional trigger for the supply-chain stage:
// at least one package flagged high-risk earlier in the run (by rule
// findings, the vulnerability stage, or the reputation stage; the code stage
// flags none). The orchestrator checks this before invoking Run.
func (s *SupplyChainStage) ShouldRun(sc *model.SharedContext) bool {
	return sc.AnyHighRisk()
}

func (s *SupplyChainStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	var indicators []model.SupplyChainIndicator

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

		tokens := evidenceTokens(meta)
		if len(tokens) == 0 {
			return true
		}

		for _, fp := range knownFingerprints {
			overlap := jaccard(tokens, fp.tokens)
			likelihood := likelihoodFromOverlap(overlap, tokens)
			if likelihood == model.AttackNone {
				continue
			}
			indicators = append(indicators, model.SupplyChainIndicator{
				PackageRef: n.Ref,
				Pattern:    fp.name,
				Evidence:   strings.Join(sortedTokens(tokens), ", "),
				Overlap:    overlap,
				Likelihood: likelihood,
			})
		}
		return true
	})

	return model.StageData{SupplyChain: &model.SupplyChainStageData{Indicators: indicators}}, nil
}

// evidenceTokens derives the attack-signal vocabulary for one package from
// its registry metadata: publish cadence, dependency additions, and
// install-script content.
func evidenceTokens(meta registry.Metadata) map[string]bool {
	tokens := make(map[string]bool)

	if len(meta.Maintainers) == 1 {
		tokens["maintainer_change"] = true
	}
	if !meta.FirstPublishAt.IsZero() && !meta.PublishedAt.IsZero() {
		lifetime := meta.PublishedAt.Sub(meta.FirstPublishAt)
		if lifetime > 0 && lifetime < rapidReleaseWindow {
			tokens["rapid_release"] = true
		}
		if lifetime > dormancyThreshold {
			tokens["dormant_then_active"] = true
		}
	}
	for dep := range meta.Dependencies {
		if networkDependencyAddRe.MatchString(dep) {
			tokens["network_access"] = true
		}
	}
	for _, script := range meta.InstallScripts {
		if delayedActivationRe.MatchString(script) {
			tokens["delayed_activation"] = true
		}
		if credentialExfilRe.MatchString(script) {
			tokens["credential_exfiltration"] = true
		}
		if strings.Contains(script, "process.env") || strings.Contains(script, "os.environ") {
			tokens["env_access"] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for t := range a {
		union[t] = true
		if b[t] {
			intersection++
		}
	}
	for t := range b {
		union[t] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// likelihoodFromOverlap applies the 0.4/0.6/0.8 Jaccard bands, with a floor
// of medium whenever credential exfiltration evidence is present regardless
// of overall overlap.
func likelihoodFromOverlap(overlap float64, tokens map[string]bool) model.AttackLikelihood {
	switch {
	case overlap >= 0.8:
		return model.AttackCritical
	case overlap >= 0.6:
		return model.AttackHigh
	case overlap >= 0.4:
		return model.AttackMedium
	case tokens["credential_exfiltration"]:
		return model.AttackMedium
	case len(tokens) > 0:
		return model.AttackLow
	default:
		return model.AttackNone
	}
}

func sortedTokens(tokens map[string]bool) []string {
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

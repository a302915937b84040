package stages

import (
	"context"

	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/osv"
)

// VulnerabilityStage queries OSV.dev for every resolved package in the
// graph. It degrades to an explicit offline result rather than failing the
// run when OSV is unreachable (spec.md §4.10).
type VulnerabilityStage struct {
	client *osv.Client
}

// NewVulnerabilityStage builds the vulnerability stage.
func NewVulnerabilityStage(client *osv.Client) *VulnerabilityStage {
	return &VulnerabilityStage{client: client}
}

func (s *VulnerabilityStage) Name() string { return "vulnerability" }

func (s *VulnerabilityStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	if err := s.client.Preflight(ctx); err != nil {
		return model.StageData{Vulnerability: &model.VulnerabilityStageData{OSVOffline: true}}, nil
	}

	var refs []model.PackageRef
	sc.Graph.Walk(func(id model.NodeID, n *model.DependencyNode) bool {
		if id == sc.Graph.RootID {
			return true
		}
		refs = append(refs, n.Ref)
		return true
	})

	results, err := s.client.QueryBatch(ctx, refs)
	if err != nil {
		return model.StageData{}, err
	}

	perPackage := make(map[string]model.PackageVulnerabilities, len(results))
	for _, ref := range refs {
		if vulns, ok := results[ref.CacheKey()]; ok && len(vulns) > 0 {
			perPackage[ref.CacheKey()] = model.PackageVulnerabilities{
				PackageRef:      ref,
				Vulnerabilities: vulns,
			}
			if hasHighSeverity(vulns) {
				sc.MarkHighRisk(ref)
			}
		}
	}

	return model.StageData{Vulnerability: &model.VulnerabilityStageData{PerPackage: perPackage}}, nil
}

func hasHighSeverity(vulns []model.Vulnerability) bool {
	for _, v := range vulns {
		if v.Severity == model.SeverityHigh || v.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}

package stages

import (
	"context"
	"time"

	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/registry"
)

// reputationMaxAge is the age beyond which a package is considered fully
// mature for the age factor (spec.md §4.9).
const reputationMaxAge = 2 * 365 * 24 * time.Hour

// ReputationStage scores every resolved package's trustworthiness from
// registry metadata: age, download volume, maintainer identity, and
// maintenance signal (deprecation / absence of a repository link).
type ReputationStage struct {
	client *registry.Client
}

// NewReputationStage builds the reputation stage.
func NewReputationStage(client *registry.Client) *ReputationStage {
	return &ReputationStage{client: client}
}

func (s *ReputationStage) Name() string { return "reputation" }

func (s *ReputationStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	perPackage := make(map[string]model.ReputationAssessment)

	var walkErr error
	sc.Graph.Walk(func(id model.NodeID, n *model.DependencyNode) bool {
		if id == sc.Graph.RootID {
			return true
		}
		if err := ctx.Err(); err != nil {
			walkErr = err
			return false
		}

		meta, err := s.client.Fetch(ctx, n.Ref)
		if err != nil {
			return true // a single unreachable package doesn't fail the whole stage
		}
		if meta.NotFound {
			return true
		}

		assessment := assess(n.Ref, meta)
		perPackage[n.Ref.CacheKey()] = assessment
		if assessment.RiskLevel == model.RiskHigh {
			sc.MarkHighRisk(n.Ref)
		}
		return true
	})

	if walkErr != nil {
		return model.StageData{}, walkErr
	}

	return model.StageData{Reputation: &model.ReputationStageData{PerPackage: perPackage}}, nil
}

func assess(ref model.PackageRef, meta registry.Metadata) model.ReputationAssessment {
	factors := model.ReputationFactors{
		Age:         ageFactor(meta.FirstPublishAt),
		Downloads:   downloadsFactor(meta.WeeklyDownloads),
		Author:      authorFactor(meta.Maintainers),
		Maintenance: maintenanceFactor(meta),
	}
	score := factors.WeightedMean()

	var flags []model.ReputationFlag
	if factors.Age < 0.3 {
		flags = append(flags, model.FlagNewPackage)
	}
	if factors.Downloads < 0.2 {
		flags = append(flags, model.FlagLowDownloads)
	}
	if factors.Author < 0.3 {
		flags = append(flags, model.FlagUnknownAuthor)
	}
	if factors.Maintenance < 0.3 {
		flags = append(flags, model.FlagUnmaintained)
	}

	return model.ReputationAssessment{
		PackageRef: ref,
		Score:      score,
		Factors:    factors,
		Flags:      flags,
		RiskLevel:  model.RiskLevelFromScore(score),
		Confidence: 0.7,
	}
}

func ageFactor(firstPublish time.Time) float64 {
	if firstPublish.IsZero() {
		return 0.5 // unknown: neutral, not penalized
	}
	age := time.Since(firstPublish)
	if age <= 0 {
		return 0
	}
	f := float64(age) / float64(reputationMaxAge)
	if f > 1 {
		f = 1
	}
	return f
}

func downloadsFactor(weekly int64) float64 {
	if weekly <= 0 {
		return 0.5 // unknown (the npm registry document doesn't carry this): neutral
	}
	switch {
	case weekly >= 1_000_000:
		return 1.0
	case weekly >= 100_000:
		return 0.8
	case weekly >= 10_000:
		return 0.6
	case weekly >= 1_000:
		return 0.4
	default:
		return 0.2
	}
}

func authorFactor(maintainers []string) float64 {
	if len(maintainers) == 0 {
		return 0.2
	}
	if len(maintainers) == 1 {
		return 0.6
	}
	return 1.0
}

func maintenanceFactor(meta registry.Metadata) float64 {
	f := 0.5
	if meta.HasRepository {
		f += 0.3
	}
	if meta.Deprecated {
		f = 0.0
	}
	if f > 1 {
		f = 1
	}
	return f
}

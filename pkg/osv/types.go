package osv

import (
	"strconv"

	"github.com/container-kit/depguard/pkg/model"
)

type osvBatchRequest struct {
	Queries []osvQueryItem `json:"queries"`
}

type osvQueryItem struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvBatchResponse struct {
	Results []osvBatchResult `json:"results"`
}

type osvBatchResult struct {
	Vulns []osvBatchVuln `json:"vulns"`
}

type osvBatchVuln struct {
	ID string `json:"id"`
}

type osvVulnerability struct {
	ID       string        `json:"id"`
	Aliases  []string      `json:"aliases"`
	Summary  string        `json:"summary"`
	Details  string        `json:"details"`
	Severity []osvSeverity `json:"severity"`
	Affected []osvAffected `json:"affected"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

type osvSeverity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type osvAffected struct {
	Package osvPackage `json:"package"`
	Ranges  []osvRange `json:"ranges"`
}

type osvRange struct {
	Type   string     `json:"type"`
	Events []osvEvent `json:"events"`
}

type osvEvent struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
}

// toModel converts the raw OSV record into the shared model.Vulnerability.
// The record is not matched against the ref's version: IsCurrentVersionAffected
// is yes whenever any affected range lists a fixed version, and unknown
// otherwise.
func (v *osvVulnerability) toModel(refCacheKey string) model.Vulnerability {
	var cvss *float64
	sev := model.SeverityLow
	for _, s := range v.Severity {
		if s.Type != "CVSS_V3" && len(v.Severity) > 1 {
			continue
		}
		if score, err := strconv.ParseFloat(s.Score, 64); err == nil {
			cvss = &score
			sev = model.SeverityFromCVSS(score)
			break
		}
	}

	var fixed []string
	affected := model.AffectedUnknown
	for _, aff := range v.Affected {
		for _, r := range aff.Ranges {
			for _, e := range r.Events {
				if e.Fixed != "" {
					fixed = append(fixed, e.Fixed)
				}
			}
		}
	}
	if len(fixed) > 0 {
		affected = model.AffectedYes
	}

	var refs []string
	for _, r := range v.References {
		refs = append(refs, r.URL)
	}

	_ = refCacheKey // identity is carried by the caller's map key, not the record itself
	return model.Vulnerability{
		ID:                       v.ID,
		Aliases:                  v.Aliases,
		Summary:                  v.Summary,
		Details:                  v.Details,
		CVSSScore:                cvss,
		Severity:                 sev,
		FixedVersions:            dedupStrings(fixed),
		IsCurrentVersionAffected: affected,
		Status:                   model.VulnStatusActive,
		References:               refs,
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

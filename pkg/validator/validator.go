// Package validator implements C8: proactive validation of a run's inputs
// and intermediate state before expensive stages run, surfacing problems as
// structured issues rather than deep-stack panics or opaque stage failures.
package validator

import (
	"fmt"

	"github.com/container-kit/depguard/pkg/ecosystem"
	"github.com/container-kit/depguard/pkg/model"
)

// IssueLevel distinguishes a hard stop from an advisory.
type IssueLevel string

const (
	IssueLevelError   IssueLevel = "error"
	IssueLevelWarning IssueLevel = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Level   IssueLevel `json:"level"`
	Check   string     `json:"check"`
	Message string     `json:"message"`
}

// Check is one named, sequential validation step. Checks run in a fixed
// order and none short-circuits the others; a check whose input an earlier
// check already rejected returns no issue (e.g. the empty-dependency check
// only fires once a manifest was detected).
type Check func(input Input) []Issue

// Input bundles everything a Check might need.
type Input struct {
	TargetPath  string
	Detections  []ecosystem.Detection
	Direct      []ecosystem.Dependency
	Graph       *model.Graph
}

// Validator runs a fixed, ordered list of Checks.
type Validator struct {
	checks []namedCheck
}

type namedCheck struct {
	name string
	fn   Check
}

// New builds a Validator with the standard check sequence.
func New() *Validator {
	v := &Validator{}
	v.register("manifest_detected", checkManifestDetected)
	v.register("direct_dependencies_present", checkDirectDependenciesPresent)
	v.register("duplicate_direct_dependencies", checkDuplicateDirectDependencies)
	v.register("graph_not_empty", checkGraphNotEmpty)
	return v
}

func (v *Validator) register(name string, fn Check) {
	v.checks = append(v.checks, namedCheck{name: name, fn: fn})
}

// Run executes every registered check in order and collects all issues;
// unlike a short-circuiting validator, every check always runs so the
// caller sees the full picture in one pass.
func (v *Validator) Run(input Input) []Issue {
	var issues []Issue
	for _, c := range v.checks {
		for _, issue := range c.fn(input) {
			issue.Check = c.name
			issues = append(issues, issue)
		}
	}
	return issues
}

// HasErrors reports whether any issue in issues is IssueLevelError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Level == IssueLevelError {
			return true
		}
	}
	return false
}

func checkManifestDetected(in Input) []Issue {
	if len(in.Detections) == 0 {
		return []Issue{{Level: IssueLevelError, Message: fmt.Sprintf("no supported manifest found under %s", in.TargetPath)}}
	}
	return nil
}

func checkDirectDependenciesPresent(in Input) []Issue {
	if len(in.Detections) > 0 && len(in.Direct) == 0 {
		return []Issue{{Level: IssueLevelWarning, Message: "manifest detected but declares no dependencies"}}
	}
	return nil
}

func checkDuplicateDirectDependencies(in Input) []Issue {
	seen := make(map[string]bool)
	var issues []Issue
	for _, d := range in.Direct {
		if seen[d.Name] {
			issues = append(issues, Issue{Level: IssueLevelWarning, Message: fmt.Sprintf("dependency %q declared more than once", d.Name)})
			continue
		}
		seen[d.Name] = true
	}
	return issues
}

func checkGraphNotEmpty(in Input) []Issue {
	if in.Graph == nil {
		return nil
	}
	if in.Graph.Len() <= 1 { // root only
		return []Issue{{Level: IssueLevelWarning, Message: "dependency graph resolved with no transitive packages"}}
	}
	return nil
}

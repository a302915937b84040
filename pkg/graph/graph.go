// Package graph implements C6: dependency-graph analysis over the arena
// built by pkg/resolver — cycle detection, version-conflict detection, and
// textual path rendering for findings and reports.
package graph

import (
	"fmt"
	"strings"

	"github.com/container-kit/depguard/pkg/model"
)

// Cycle is a detected dependency cycle, expressed as the sequence of node
// ids from the first repeated node back to itself.
type Cycle struct {
	Path []model.NodeID
}

// DetectCycles runs a DFS over g from its root and reports every back-edge
// found. A node is only visited once per DFS branch; diamond dependencies
// (the same node reached via two non-overlapping paths) are not cycles.
func DetectCycles(g *model.Graph) []Cycle {
	var cycles []Cycle
	onStack := make(map[model.NodeID]bool)
	visited := make(map[model.NodeID]bool)

	var walk func(id model.NodeID, path []model.NodeID)
	walk = func(id model.NodeID, path []model.NodeID) {
		if onStack[id] {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycles = append(cycles, Cycle{Path: append(append([]model.NodeID{}, path[cycleStart:]...), id)})
			return
		}
		if visited[id] {
			return
		}

		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		node := g.Node(id)
		for _, childID := range node.Children {
			walk(childID, path)
		}

		onStack[id] = false
	}

	walk(g.RootID, nil)
	return cycles
}

// VersionConflict describes a package name resolved to more than one
// distinct version within the same tree.
type VersionConflict struct {
	Name     string
	Versions []string
}

// DetectVersionConflicts groups arena nodes by package name and flags any
// name with more than one distinct resolved version.
func DetectVersionConflicts(g *model.Graph) []VersionConflict {
	versionsByName := make(map[string]map[string]bool)

	g.Walk(func(id model.NodeID, n *model.DependencyNode) bool {
		if id == g.RootID {
			return true
		}
		name := strings.ToLower(n.Ref.Name)
		if versionsByName[name] == nil {
			versionsByName[name] = make(map[string]bool)
		}
		versionsByName[name][n.Ref.Version] = true
		return true
	})

	var conflicts []VersionConflict
	for name, versions := range versionsByName {
		if len(versions) <= 1 {
			continue
		}
		vs := make([]string, 0, len(versions))
		for v := range versions {
			vs = append(vs, v)
		}
		conflicts = append(conflicts, VersionConflict{Name: name, Versions: vs})
	}
	return conflicts
}

// RenderPath renders one parent path (root-exclusive) as "a > b > c".
func RenderPath(g *model.Graph, path []model.NodeID) string {
	parts := make([]string, 0, len(path))
	for _, id := range path {
		if id == g.RootID {
			continue
		}
		parts = append(parts, g.Node(id).Ref.String())
	}
	return strings.Join(parts, " > ")
}

// RenderCycle renders a Cycle as a human-readable "a > b > a" string.
func RenderCycle(g *model.Graph, c Cycle) string {
	parts := make([]string, 0, len(c.Path))
	for _, id := range c.Path {
		parts = append(parts, g.Node(id).Ref.String())
	}
	return strings.Join(parts, " > ")
}

// FindingsForCycles converts detected cycles into model.Findings attributed
// to the first package in each cycle.
func FindingsForCycles(g *model.Graph, cycles []Cycle) []model.Finding {
	findings := make([]model.Finding, 0, len(cycles))
	for _, c := range cycles {
		if len(c.Path) == 0 {
			continue
		}
		ref := g.Node(c.Path[0]).Ref
		findings = append(findings, model.Finding{
			PackageRef:      ref,
			FindingType:     model.FindingCircularDependency,
			Severity:        model.SeverityLow,
			Confidence:      1.0,
			Evidence:        []string{RenderCycle(g, c)},
			Source:          "graph:cycle_detection",
			DetectionMethod: model.DetectionRuleBased,
		})
	}
	return findings
}

// FindingsForConflicts converts detected version conflicts into Findings.
func FindingsForConflicts(g *model.Graph, conflicts []VersionConflict) []model.Finding {
	findings := make([]model.Finding, 0, len(conflicts))
	for _, c := range conflicts {
		id, ok := g.Find(model.PackageRef{Name: c.Name})
		ref := model.PackageRef{Name: c.Name}
		if ok {
			ref = g.Node(id).Ref
		}
		findings = append(findings, model.Finding{
			PackageRef:      ref,
			FindingType:     model.FindingVersionConflict,
			Severity:        model.SeverityInfo,
			Confidence:      1.0,
			Evidence:        []string{fmt.Sprintf("resolved to %d distinct versions: %s", len(c.Versions), strings.Join(c.Versions, ", "))},
			Source:          "graph:version_conflict",
			DetectionMethod: model.DetectionRuleBased,
		})
	}
	return findings
}

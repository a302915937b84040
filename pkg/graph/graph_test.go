package graph

import (
	"testing"

	"github.com/container-kit/depguard/pkg/model"
)

func buildGraph(t *testing.T, names []string, edges map[int][]int) *model.Graph {
	t.Helper()
	g := &model.Graph{}
	for _, n := range names {
		g.AddNode(model.DependencyNode{
			Ref:      model.PackageRef{Name: n, Version: "1.0.0", Ecosystem: model.EcosystemNPM},
			Children: map[string]model.NodeID{},
		})
	}
	for parent, children := range edges {
		node := g.Node(model.NodeID(parent))
		for _, c := range children {
			node.Children[names[c]] = model.NodeID(c)
		}
	}
	g.RootID = 0
	return g
}

func TestDetectCyclesNoFalsePositiveOnDiamond(t *testing.T) {
	// root -> a -> c, root -> b -> c (diamond, not a cycle)
	g := buildGraph(t, []string{"root", "a", "b", "c"}, map[int][]int{
		0: {1, 2},
		1: {3},
		2: {3},
	})

	cycles := DetectCycles(g)
	if len(cycles) != 0 {
		t.Fatalf("diamond dependency must not be reported as a cycle, got %d", len(cycles))
	}
}

func TestDetectCyclesFindsBackEdge(t *testing.T) {
	// root -> a -> b -> a (cycle)
	g := buildGraph(t, []string{"root", "a", "b"}, map[int][]int{
		0: {1},
		1: {2},
		2: {1},
	})

	cycles := DetectCycles(g)
	if len(cycles) != 1 {
		t.Fatalf("expected exactly one cycle, got %d", len(cycles))
	}

	findings := FindingsForCycles(g, cycles)
	if len(findings) != 1 {
		t.Fatalf("expected one finding per cycle")
	}
	if findings[0].FindingType != model.FindingCircularDependency {
		t.Errorf("expected a circular_dependency finding, got %s", findings[0].FindingType)
	}
	if findings[0].Severity != model.SeverityLow {
		t.Errorf("cycle findings should be low severity (tolerated, not blocking), got %s", findings[0].Severity)
	}
}

func TestDetectVersionConflicts(t *testing.T) {
	g := &model.Graph{}
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "root"}})
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "lodash", Version: "4.17.21"}})
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "lodash", Version: "3.0.0"}})
	g.RootID = 0

	conflicts := DetectVersionConflicts(g)
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(conflicts))
	}
	if conflicts[0].Name != "lodash" {
		t.Errorf("expected conflict for lodash, got %s", conflicts[0].Name)
	}
	if len(conflicts[0].Versions) != 2 {
		t.Errorf("expected 2 distinct versions, got %d", len(conflicts[0].Versions))
	}

	findings := FindingsForConflicts(g, conflicts)
	if len(findings) != 1 || findings[0].FindingType != model.FindingVersionConflict {
		t.Fatalf("expected one version_conflict finding")
	}
	if findings[0].Severity != model.SeverityInfo {
		t.Errorf("version conflicts should be info severity, got %s", findings[0].Severity)
	}
}

func TestDetectVersionConflictsIgnoresSingleVersion(t *testing.T) {
	g := &model.Graph{}
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "root"}})
	g.AddNode(model.DependencyNode{Ref: model.PackageRef{Name: "lodash", Version: "4.17.21"}})
	g.RootID = 0

	conflicts := DetectVersionConflicts(g)
	if len(conflicts) != 0 {
		t.Fatalf("a single resolved version must not be a conflict, got %d", len(conflicts))
	}
}

func TestRenderCycle(t *testing.T) {
	g := buildGraph(t, []string{"root", "a", "b"}, map[int][]int{
		0: {1},
		1: {2},
		2: {1},
	})
	cycles := DetectCycles(g)
	rendered := RenderCycle(g, cycles[0])
	if rendered == "" {
		t.Fatalf("expected a non-empty rendered cycle path")
	}
}

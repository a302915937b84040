// Package resolver implements C3: transitive dependency resolution. Starting
// from a manifest's direct dependencies, it walks the dependency tree
// breadth-first, fanning registry lookups out across the shared I/O worker
// pool via errgroup, and stores the result in a model.Graph arena addressed
// by model.NodeID so repeated positions in the logical tree don't require
// reference cycles between nodes.
package resolver

import (
	"context"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/container-kit/depguard/internal/workerpool"
	"github.com/container-kit/depguard/pkg/ecosystem"
	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/registry"
)

// Limits bounds a resolution run, per spec.md §4.3.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// Resolver builds a model.Graph from a set of direct dependencies.
type Resolver struct {
	registry *registry.Client
	pool     *workerpool.Pool
	limits   Limits
}

// New builds a Resolver.
func New(reg *registry.Client, pool *workerpool.Pool, limits Limits) *Resolver {
	return &Resolver{registry: reg, pool: pool, limits: limits}
}

// Warning describes a non-fatal condition hit during resolution (depth cap,
// node cap, unresolved dependency) surfaced to the final report.
type Warning struct {
	Message string
	Ref     model.PackageRef
}

// frontierEntry is one BFS queue item: the dependency to resolve plus the
// path of ids from the root that reached it.
type frontierEntry struct {
	dep    ecosystem.Dependency
	eco    model.Ecosystem
	depth  int
	parent []model.NodeID
}

// Resolve walks direct's transitive closure and returns the resulting graph
// plus any warnings raised while doing so. It never returns an error for
// missing packages or over-budget trees: those degrade to warnings so a
// partial graph is still usable by later stages (spec.md §4.10).
func (r *Resolver) Resolve(ctx context.Context, eco model.Ecosystem, direct []ecosystem.Dependency) (*model.Graph, []Warning, error) {
	graph := &model.Graph{}
	rootRef := model.PackageRef{Name: "__root__", Version: "0.0.0", Ecosystem: eco}
	graph.RootID = graph.AddNode(model.DependencyNode{
		Ref:         rootRef,
		Depth:       0,
		Resolution:  model.ResolutionPinned,
		Children:    make(map[string]model.NodeID),
		ParentPaths: [][]model.NodeID{{}},
	})

	var (
		mu       sync.Mutex
		warnings []Warning
		seen     = map[string]model.NodeID{} // normalized cache-key -> arena id, dedups by identity
	)

	frontier := make([]frontierEntry, 0, len(direct))
	for _, d := range direct {
		frontier = append(frontier, frontierEntry{dep: d, eco: eco, depth: 1, parent: []model.NodeID{graph.RootID}})
	}

	for depth := 1; len(frontier) > 0; depth++ {
		if r.limits.MaxDepth > 0 && depth > r.limits.MaxDepth {
			mu.Lock()
			for _, f := range frontier {
				warnings = append(warnings, Warning{Message: "max depth exceeded, truncated", Ref: model.PackageRef{Name: f.dep.Name, Ecosystem: f.eco}})
			}
			mu.Unlock()
			break
		}
		if r.limits.MaxNodes > 0 && graph.Len() >= r.limits.MaxNodes {
			warnings = append(warnings, Warning{Message: "max node count exceeded, truncated"})
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]*resolvedChild, len(frontier))

		for i, entry := range frontier {
			i, entry := i, entry
			g.Go(func() error {
				return r.pool.Go(gctx, func(ctx context.Context) error {
					child, warn, err := r.resolveOne(ctx, entry)
					if err != nil {
						return err
					}
					if warn != nil {
						mu.Lock()
						warnings = append(warnings, *warn)
						mu.Unlock()
					}
					results[i] = child
					return nil
				})
			})
		}

		if err := g.Wait(); err != nil {
			return graph, warnings, err
		}

		var next []frontierEntry
		for i, entry := range frontier {
			child := results[i]
			if child == nil {
				continue
			}

			key := child.ref.Normalize().CacheKey()
			mu.Lock()
			id, exists := seen[key]
			parentPath := append([]model.NodeID{}, entry.parent...)
			if !exists {
				id = graph.AddNode(model.DependencyNode{
					Ref:         child.ref,
					Depth:       entry.depth,
					Resolution:  child.resolution,
					Children:    make(map[string]model.NodeID),
					ParentPaths: [][]model.NodeID{parentPath},
				})
				seen[key] = id
			} else {
				node := graph.Node(id)
				node.ParentPaths = append(node.ParentPaths, parentPath)
			}
			parentNode := graph.Node(entry.parent[len(entry.parent)-1])
			parentNode.Children[entry.dep.Name] = id
			mu.Unlock()

			if exists {
				continue // already expanded this identity; don't re-walk its children (cycle/diamond guard)
			}

			for _, dep := range child.children {
				next = append(next, frontierEntry{
					dep:    dep,
					eco:    entry.eco,
					depth:  entry.depth + 1,
					parent: append(append([]model.NodeID{}, entry.parent...), id),
				})
			}
		}

		frontier = next
	}

	return graph, warnings, nil
}

type resolvedChild struct {
	ref        model.PackageRef
	resolution model.Resolution
	children   []ecosystem.Dependency
}

// resolveOne fetches metadata for one frontier entry, deciding the resolved
// version per the PyPI-falls-back-to-latest policy (spec.md Open Questions):
// npm honours a pinned specifier if present; PyPI range/unpinned specifiers
// resolve to the registry's reported latest version.
func (r *Resolver) resolveOne(ctx context.Context, entry frontierEntry) (*resolvedChild, *Warning, error) {
	ref := model.PackageRef{Name: entry.dep.Name, Version: entry.dep.Specifier, Ecosystem: entry.eco}

	meta, err := r.registry.Fetch(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if meta.NotFound {
		return nil, &Warning{Message: "package not found in registry", Ref: ref}, nil
	}

	resolution := model.ResolutionPinned
	version := entry.dep.Specifier
	pinned, _ := regexp.MatchString(`^v?\d+\.\d+\.\d+([-+][0-9A-Za-z.+-]+)?$`, version)
	if !pinned || entry.eco == model.EcosystemPyPI {
		version = meta.LatestVersion
		resolution = model.ResolutionLatest
	}
	if version == "" {
		version = meta.LatestVersion
		resolution = model.ResolutionLatest
	}

	resolvedRef := model.PackageRef{Name: entry.dep.Name, Version: version, Ecosystem: entry.eco}

	var children []ecosystem.Dependency
	for name, spec := range meta.Dependencies {
		children = append(children, ecosystem.Dependency{Name: name, Specifier: spec})
	}

	return &resolvedChild{ref: resolvedRef, resolution: resolution, children: children}, nil, nil
}

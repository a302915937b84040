// Package ecosystem implements C1: pluggable package-ecosystem support.
// Each ecosystem (npm, PyPI) provides manifest detection and parsing behind
// a narrow Plugin interface; the Registry is populated by explicit
// registration at startup rather than reflection or side-effect init(), per
// the explicit-wiring style used throughout this codebase for anything that
// runs as part of the critical path.
package ecosystem

import (
	"fmt"

	"github.com/container-kit/depguard/pkg/model"
)

// Dependency is one direct dependency declared by a manifest, prior to
// registry resolution.
type Dependency struct {
	Name       string
	Specifier  string
	Dev        bool
}

// Plugin is the contract an ecosystem must satisfy to participate in a run.
type Plugin interface {
	// Name identifies the ecosystem, e.g. "npm" or "pypi".
	Name() model.Ecosystem

	// Detect reports whether dir contains a manifest this plugin understands,
	// and if so the manifest's path relative to dir.
	Detect(dir string) (manifestPath string, ok bool, err error)

	// ParseManifest reads the manifest at path and returns its direct
	// dependencies.
	ParseManifest(path string) ([]Dependency, error)
}

// Registry holds the set of plugins known to a run, keyed by ecosystem name.
type Registry struct {
	plugins map[model.Ecosystem]Plugin
	order   []model.Ecosystem // detection precedence
}

// NewRegistry creates an empty Registry. Use Register to populate it.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[model.Ecosystem]Plugin)}
}

// Register adds p to the registry. Registering the same ecosystem name
// twice replaces the previous plugin but preserves its detection order.
func (r *Registry) Register(p Plugin) {
	name := p.Name()
	if _, exists := r.plugins[name]; !exists {
		r.order = append(r.order, name)
	}
	r.plugins[name] = p
}

// Get returns the plugin registered for name, if any.
func (r *Registry) Get(name model.Ecosystem) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// DetectAll runs Detect for every registered plugin, in registration order,
// and returns every match found in dir. A project may legitimately contain
// more than one manifest (e.g. a Python service with a bundled frontend).
func (r *Registry) DetectAll(dir string) ([]Detection, error) {
	var out []Detection
	for _, name := range r.order {
		p := r.plugins[name]
		path, ok, err := p.Detect(dir)
		if err != nil {
			return nil, fmt.Errorf("ecosystem %s: detect: %w", name, err)
		}
		if ok {
			out = append(out, Detection{Ecosystem: name, ManifestPath: path})
		}
	}
	return out, nil
}

// Detection is one manifest found during DetectAll.
type Detection struct {
	Ecosystem    model.Ecosystem
	ManifestPath string
}

// Default builds a Registry with the npm and PyPI plugins registered, the
// standard configuration for depguard's two supported ecosystems.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewNPMPlugin())
	r.Register(NewPyPIPlugin())
	return r
}

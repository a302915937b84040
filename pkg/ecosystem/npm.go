package ecosystem

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/container-kit/depguard/pkg/model"
)

// NPMPlugin detects and parses package.json manifests.
type NPMPlugin struct{}

// NewNPMPlugin constructs the npm ecosystem plugin.
func NewNPMPlugin() *NPMPlugin { return &NPMPlugin{} }

func (p *NPMPlugin) Name() model.Ecosystem { return model.EcosystemNPM }

func (p *NPMPlugin) Detect(dir string) (string, bool, error) {
	path := filepath.Join(dir, "package.json")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return "package.json", true, nil
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p *NPMPlugin) ParseManifest(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var manifest packageJSON
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	deps := make([]Dependency, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name, spec := range manifest.Dependencies {
		deps = append(deps, Dependency{Name: name, Specifier: spec, Dev: false})
	}
	for name, spec := range manifest.DevDependencies {
		deps = append(deps, Dependency{Name: name, Specifier: spec, Dev: true})
	}
	return deps, nil
}

package ecosystem

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/container-kit/depguard/pkg/model"
)

// PyPIPlugin detects and parses requirements.txt manifests. pyproject.toml
// is intentionally out of scope: the spec's package universe is pinned
// dependency lists, and requirements.txt is the format every example
// vulnerability scanner in the pack targets for Python.
type PyPIPlugin struct{}

// NewPyPIPlugin constructs the PyPI ecosystem plugin.
func NewPyPIPlugin() *PyPIPlugin { return &PyPIPlugin{} }

func (p *PyPIPlugin) Name() model.Ecosystem { return model.EcosystemPyPI }

func (p *PyPIPlugin) Detect(dir string) (string, bool, error) {
	path := filepath.Join(dir, "requirements.txt")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return "requirements.txt", true, nil
}

// requirementLine matches "name", "name==1.2.3", "name>=1.2,<2", "name[extra]==1.0".
var requirementLine = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[^\]]*\])?\s*(.*)$`)

func (p *PyPIPlugin) ParseManifest(path string) ([]Dependency, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var deps []Dependency
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		deps = append(deps, Dependency{Name: m[1], Specifier: strings.TrimSpace(m[3])})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return deps, nil
}

package registry

import (
	"time"

	"github.com/container-kit/depguard/pkg/model"
)

// npmPackageDocument is the subset of the npm registry's package document
// (GET /{name}) this client reads.
type npmPackageDocument struct {
	Name     string `json:"name"`
	DistTags struct {
		Latest string `json:"latest"`
	} `json:"dist-tags"`
	Time        map[string]string `json:"time"` // version -> RFC3339, plus "created"/"modified"
	Maintainers []struct {
		Name string `json:"name"`
	} `json:"maintainers"`
	Repository struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"repository"`
	Versions map[string]struct {
		Deprecated   string            `json:"deprecated"`
		Scripts      map[string]string `json:"scripts"`
		Dependencies map[string]string `json:"dependencies"`
	} `json:"versions"`
}

func (d npmPackageDocument) toMetadata(ref model.PackageRef) Metadata {
	m := Metadata{
		PackageRef:    ref,
		LatestVersion: d.DistTags.Latest,
		HasRepository: d.Repository.URL != "",
	}

	if raw, ok := d.Time[d.DistTags.Latest]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			m.PublishedAt = t
		}
	}
	if raw, ok := d.Time["created"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			m.FirstPublishAt = t
		}
	}

	for _, mnt := range d.Maintainers {
		if mnt.Name != "" {
			m.Maintainers = append(m.Maintainers, mnt.Name)
		}
	}

	if v, ok := d.Versions[d.DistTags.Latest]; ok {
		m.Deprecated = v.Deprecated != ""
		for _, hook := range []string{"preinstall", "install", "postinstall"} {
			if script, ok := v.Scripts[hook]; ok && script != "" {
				m.InstallScripts = append(m.InstallScripts, script)
			}
		}
		m.Dependencies = v.Dependencies
	}

	return m
}

package registry

import (
	"time"

	"github.com/container-kit/depguard/pkg/model"
)

// pypiPackageDocument is the subset of PyPI's JSON API (GET /{name}/json)
// this client reads.
type pypiPackageDocument struct {
	Info struct {
		Name       string   `json:"name"`
		Version    string   `json:"version"`
		AuthorEmail string  `json:"author_email"`
		Author     string   `json:"author"`
		ProjectURLs map[string]string `json:"project_urls"`
		Yanked     bool     `json:"yanked"`
	} `json:"info"`
	Releases map[string][]struct {
		UploadTime string `json:"upload_time_iso_8601"`
	} `json:"releases"`
}

func (d pypiPackageDocument) toMetadata(ref model.PackageRef) Metadata {
	m := Metadata{
		PackageRef:    ref,
		LatestVersion: d.Info.Version,
		Deprecated:    d.Info.Yanked,
	}

	if d.Info.Author != "" {
		m.Maintainers = append(m.Maintainers, d.Info.Author)
	}

	for key, u := range d.Info.ProjectURLs {
		if u == "" {
			continue
		}
		switch key {
		case "Source", "Source Code", "Repository", "Homepage":
			m.HasRepository = true
		}
	}

	if releases, ok := d.Releases[d.Info.Version]; ok && len(releases) > 0 {
		if t, err := time.Parse(time.RFC3339, releases[0].UploadTime); err == nil {
			m.PublishedAt = t
		}
	}

	var first time.Time
	for _, releases := range d.Releases {
		for _, r := range releases {
			t, err := time.Parse(time.RFC3339, r.UploadTime)
			if err != nil {
				continue
			}
			if first.IsZero() || t.Before(first) {
				first = t
			}
		}
	}
	m.FirstPublishAt = first

	return m
}

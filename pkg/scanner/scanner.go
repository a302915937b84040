// Package scanner implements C4: rule-based scanning of packages before any
// network-bound stage runs. It matches install scripts against a table of
// known attack-family patterns, checks names against a malicious-package
// list, and flags likely typosquats of popular packages by edit distance.
// Rules are a fixed table rather than a pluggable/reflective registry, the
// same explicit style used for security policies in this codebase.
package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/container-kit/depguard/pkg/model"
)

// PatternSeverity pairs a compiled regex with the severity and family it
// represents when matched against an install script body.
type PatternSeverity struct {
	Family   string
	Pattern  *regexp.Regexp
	Severity model.Severity
	Evidence string
}

// installScriptPatterns is the fixed table of install-script attack
// fingerprints: network exfiltration, remote code fetch-and-exec, reverse
// shells, credential harvesting, obfuscated payload decoding, and
// environment/process introspection, the attack families documented for
// npm/PyPI supply-chain incidents.
var installScriptPatterns = []PatternSeverity{
	{"remote_code_execution", regexp.MustCompile(`curl\s+.*\|\s*(sh|bash)`), model.SeverityCritical, "pipes curl output directly into a shell"},
	{"remote_code_execution", regexp.MustCompile(`wget\s+.*\|\s*(sh|bash)`), model.SeverityCritical, "pipes wget output directly into a shell"},
	{"remote_code_execution", regexp.MustCompile(`(?i)\beval\s*\(\s*require\(['"]child_process['"]\)`), model.SeverityCritical, "dynamically evaluates child_process calls"},
	{"remote_code_execution", regexp.MustCompile(`(?i)new\s+Function\s*\(`), model.SeverityHigh, "builds and executes code via the Function constructor"},
	{"credential_harvesting", regexp.MustCompile(`(?i)(AWS_SECRET|AWS_ACCESS_KEY|NPM_TOKEN|GITHUB_TOKEN|\.ssh\/id_rsa|\.npmrc)`), model.SeverityCritical, "references credential material or tokens"},
	{"credential_harvesting", regexp.MustCompile(`(?i)process\.env`), model.SeverityMedium, "reads the full process environment"},
	{"network_exfiltration", regexp.MustCompile(`(?i)https?:\/\/[^\s'"]+\.(tk|ml|ga|cf)\b`), model.SeverityHigh, "contacts a free/disposable top-level domain"},
	{"network_exfiltration", regexp.MustCompile(`(?i)\b(fetch|axios|XMLHttpRequest|http\.request)\s*\(`), model.SeverityMedium, "makes an outbound HTTP request during install"},
	{"obfuscated_payload", regexp.MustCompile(`(?i)Buffer\.from\(['"][A-Za-z0-9+/=]{40,}['"],\s*['"]base64['"]\)`), model.SeverityHigh, "decodes a long inline base64 payload"},
	{"obfuscated_payload", regexp.MustCompile(`(?i)atob\s*\(`), model.SeverityMedium, "decodes base64 content"},
	{"reverse_shell", regexp.MustCompile(`(?i)\/bin\/(ba)?sh\s+-i\b`), model.SeverityCritical, "spawns an interactive shell"},
	{"reverse_shell", regexp.MustCompile(`(?i)nc\s+-e\b`), model.SeverityCritical, "pipes a shell through netcat"},
	{"persistence", regexp.MustCompile(`(?i)(crontab|systemctl\s+enable|launchctl\s+load)`), model.SeverityHigh, "installs a persistence mechanism"},
	{"privilege_escalation", regexp.MustCompile(`(?i)\bsudo\b`), model.SeverityMedium, "invokes sudo during install"},
	{"environment_probing", regexp.MustCompile(`(?i)(os\.uname|platform\.uname|require\(['"]os['"]\)\.(hostname|userInfo))`), model.SeverityLow, "probes host/platform identity"},
}

// popularPackages seeds typosquat comparisons for both ecosystems. A real
// deployment would load this from a larger, periodically refreshed list;
// the run-time behaviour (threshold, scoring) is what's under test here.
var popularPackages = map[model.Ecosystem][]string{
	model.EcosystemNPM:  {"express", "react", "lodash", "axios", "chalk", "request", "commander", "webpack", "babel", "eslint"},
	model.EcosystemPyPI: {"requests", "numpy", "flask", "django", "boto3", "urllib3", "setuptools", "pyyaml", "six", "certifi"},
}

// Scanner runs the rule table against a package's manifest-declared install
// scripts and name.
type Scanner struct {
	maliciousNames map[string]bool
}

// New builds a Scanner. maliciousNames is an explicit deny-list of known-bad
// package identities (lower-cased "ecosystem/name"); it stands in for the
// malicious-package database referenced in spec.md §4.4.
func New(maliciousNames []string) *Scanner {
	set := make(map[string]bool, len(maliciousNames))
	for _, n := range maliciousNames {
		set[strings.ToLower(n)] = true
	}
	return &Scanner{maliciousNames: set}
}

// ScanInstallScripts matches every install script against installScriptPatterns
// and returns one Finding per match.
func (s *Scanner) ScanInstallScripts(ref model.PackageRef, scripts []string) []model.Finding {
	var findings []model.Finding
	for _, script := range scripts {
		for _, p := range installScriptPatterns {
			if p.Pattern.MatchString(script) {
				findings = append(findings, model.Finding{
					PackageRef:      ref,
					FindingType:     findingTypeForFamily(p.Family),
					Severity:        p.Severity,
					Confidence:      0.9,
					Evidence:        []string{p.Evidence},
					Source:          "scanner:install_script:" + p.Family,
					DetectionMethod: model.DetectionRuleBased,
				})
			}
		}
	}
	return findings
}

func findingTypeForFamily(family string) model.FindingType {
	switch family {
	case "remote_code_execution", "reverse_shell":
		return model.FindingRemoteCodeExec
	default:
		return model.FindingInstallScript
	}
}

// CheckMaliciousDB reports whether ref matches a known-malicious identity.
func (s *Scanner) CheckMaliciousDB(ref model.PackageRef) (model.Finding, bool) {
	key := strings.ToLower(string(ref.Ecosystem) + "/" + ref.Name)
	if !s.maliciousNames[key] {
		return model.Finding{}, false
	}
	return model.Finding{
		PackageRef:      ref,
		FindingType:     model.FindingMaliciousPackage,
		Severity:        model.SeverityCritical,
		Confidence:      0.99,
		Evidence:        []string{"package name matches known-malicious database entry"},
		Source:          "scanner:malicious_db",
		DetectionMethod: model.DetectionRuleBased,
	}, true
}

// typosquatMaxDistance and typosquatMinNameLen bound the Levenshtein check
// so short names (e.g. "fs", "os") don't produce false positives against
// every other short name in the seed list.
const (
	typosquatMaxDistance = 2
	typosquatMinNameLen  = 4
)

// CheckTyposquat compares ref.Name against the popular-package seed list for
// its ecosystem and flags a likely typosquat when the edit distance to a
// popular name is between 1 and typosquatMaxDistance; names shorter than
// typosquatMinNameLen are not checked.
func (s *Scanner) CheckTyposquat(ref model.PackageRef) (model.Finding, bool) {
	if len(ref.Name) < typosquatMinNameLen {
		return model.Finding{}, false
	}
	name := strings.ToLower(ref.Name)

	for _, popular := range popularPackages[ref.Ecosystem] {
		if name == popular {
			continue
		}
		dist := levenshtein.ComputeDistance(name, popular)
		if dist > 0 && dist <= typosquatMaxDistance {
			confidence := 1.0 - float64(dist)/float64(len(popular)+1)
			return model.Finding{
				PackageRef:      ref,
				FindingType:     model.FindingTyposquat,
				Severity:        model.SeverityHigh,
				Confidence:      confidence,
				Evidence:        []string{"name is within edit distance " + strconv.Itoa(dist) + " of popular package \"" + popular + "\""},
				Source:          "scanner:typosquat",
				DetectionMethod: model.DetectionRuleBased,
			}, true
		}
	}
	return model.Finding{}, false
}

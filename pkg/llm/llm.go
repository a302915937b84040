// Package llm provides the narrow LLM collaborator contract used by the
// code-analysis and synthesis stages (spec.md §4.11 "External Interfaces").
// Output is always schema-validated JSON with a bounded repair loop, since
// an LLM response is untrusted input the moment it leaves the provider.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	depguarderrors "github.com/container-kit/depguard/internal/errors"
)

// Request is one prompt to the LLM collaborator.
type Request struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Client is the narrow surface every LLM-assisted stage depends on. Stages
// never talk to a provider SDK directly, only this interface, so NullClient
// can stand in whenever DEPGUARD_LLM_ENABLED is false.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NullClient always declines, so a stage's LLM-assisted path degrades to
// "not_available" deterministically instead of branching on a nil check
// at every call site.
type NullClient struct{}

func (NullClient) Complete(ctx context.Context, req Request) (string, error) {
	return "", depguarderrors.New(depguarderrors.CodeNotFound, "llm", "no LLM client configured", nil)
}

const repairAttempts = 2

// CompleteJSON calls client.Complete, then unmarshals and schema-validates
// the response into out, retrying with a repair prompt up to repairAttempts
// times if the first response isn't valid JSON or doesn't satisfy schemaJSON.
// An empty schemaJSON skips validation.
func CompleteJSON(ctx context.Context, client Client, req Request, schemaJSON string, out any) error {
	req.SystemPrompt = strings.TrimSpace(req.SystemPrompt + "\nRespond with ONLY valid JSON. No code fences, no commentary.")

	content, err := client.Complete(ctx, req)
	if err != nil {
		return err
	}

	if tryParse(content, schemaJSON, out) == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= repairAttempts; attempt++ {
		repairReq := Request{
			Prompt:       buildRepairPrompt(schemaJSON, extractJSONCandidate(content), lastErr),
			SystemPrompt: "Output ONLY valid JSON. No commentary, no code fences.",
			MaxTokens:    req.MaxTokens,
			Temperature:  0,
		}
		fixed, err := client.Complete(ctx, repairReq)
		if err != nil {
			lastErr = err
			continue
		}
		content = fixed
		if pErr := tryParse(content, schemaJSON, out); pErr == nil {
			return nil
		} else {
			lastErr = pErr
		}
	}

	return depguarderrors.New(depguarderrors.CodeUpstreamSchema, "llm", fmt.Sprintf("failed to parse valid JSON after %d repair attempts", repairAttempts), lastErr)
}

func tryParse(content, schemaJSON string, out any) error {
	candidate := extractJSONCandidate(content)
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return err
	}
	if schemaJSON == "" {
		return nil
	}
	return validateSchema(candidate, schemaJSON)
}

func validateSchema(jsonStr, schemaJSON string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewStringLoader(jsonStr)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// extractJSONCandidate strips markdown code fences and trims to the first
// balanced JSON object or array in s.
func extractJSONCandidate(s string) string {
	text := stripCodeFences(strings.TrimSpace(s))

	start := -1
	var openDelim, closeDelim byte
	if idx := strings.IndexByte(text, '{'); idx >= 0 {
		start, openDelim, closeDelim = idx, '{', '}'
	}
	if idx := strings.IndexByte(text, '['); idx >= 0 && (start == -1 || idx < start) {
		start, openDelim, closeDelim = idx, '[', ']'
	}
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if ch == '"' && !escaped {
			inString = !inString
		}
		if ch == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		if inString {
			continue
		}
		switch ch {
		case openDelim:
			depth++
		case closeDelim:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

func stripCodeFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func buildRepairPrompt(schemaJSON, invalidJSON string, lastErr error) string {
	p := fmt.Sprintf("The following text should be valid JSON but has an error:\n\n%s\n\nError: %v", invalidJSON, lastErr)
	if schemaJSON != "" {
		p += fmt.Sprintf("\n\nThe JSON must conform to this schema:\n%s", schemaJSON)
	}
	return p + "\n\nOutput ONLY the corrected valid JSON."
}

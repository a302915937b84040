package stages

import (
	"context"

	"github.com/container-kit/depguard/pkg/llm"
	"github.com/container-kit/depguard/pkg/model"
)

const narrativeSchema = `{
	"type": "object",
	"required": ["narrative"],
	"properties": {
		"narrative": {"type": "string"}
	}
}`

// SynthesisStage summarises the status of every StageResult already recorded
// on SharedContext. The Report itself is always built deterministically by
// pkg/report.Assemble from that same SharedContext; this stage only
// optionally enriches the run with a short LLM-authored narrative summary,
// and never blocks deterministic assembly on the LLM call succeeding.
type SynthesisStage struct {
	llmClient   llm.Client
	packageCap  int
}

// NewSynthesisStage builds the synthesis stage. packageCap is the
// total-package-count threshold above which synthesis must not depend on
// the LLM (spec.md §4.9 item 5; config.Config.SynthesisLLMCap).
func NewSynthesisStage(llmClient llm.Client, packageCap int) *SynthesisStage {
	if llmClient == nil {
		llmClient = llm.NullClient{}
	}
	return &SynthesisStage{llmClient: llmClient, packageCap: packageCap}
}

func (s *SynthesisStage) Name() string { return "synthesis" }

func (s *SynthesisStage) Run(ctx context.Context, sc *model.SharedContext) (model.StageData, error) {
	packageCount := 0
	if sc.Graph != nil {
		packageCount = sc.Graph.Len() - 1
	}
	if packageCount > s.packageCap {
		return model.StageData{Synthesis: &model.SynthesisStageData{UsedLLM: false}}, nil
	}

	narrative, ok := s.narrate(ctx, sc)
	if !ok {
		return model.StageData{Synthesis: &model.SynthesisStageData{UsedLLM: false}}, nil
	}

	sc.SetNarrative(narrative)
	return model.StageData{Synthesis: &model.SynthesisStageData{UsedLLM: true}}, nil
}

func (s *SynthesisStage) narrate(ctx context.Context, sc *model.SharedContext) (string, bool) {
	req := llm.Request{
		SystemPrompt: "You summarize a dependency supply-chain risk run in two or three sentences for a developer.",
		Prompt:       summarizeStageResults(sc),
	}

	var result struct {
		Narrative string `json:"narrative"`
	}
	if err := llm.CompleteJSON(ctx, s.llmClient, req, narrativeSchema, &result); err != nil {
		return "", false
	}
	return result.Narrative, true
}

func summarizeStageResults(sc *model.SharedContext) string {
	results := sc.AllStageResults()
	summary := "Stage outcomes:\n"
	for name, r := range results {
		summary += "- " + name + ": " + string(r.Status) + "\n"
	}
	return summary
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/container-kit/depguard/internal/config"
	"github.com/container-kit/depguard/internal/logging"
	"github.com/container-kit/depguard/internal/retry"
	"github.com/container-kit/depguard/internal/workerpool"
	"github.com/container-kit/depguard/pkg/cache"
	"github.com/container-kit/depguard/pkg/ecosystem"
	"github.com/container-kit/depguard/pkg/llm"
	"github.com/container-kit/depguard/pkg/orchestrator"
	"github.com/container-kit/depguard/pkg/osv"
	"github.com/container-kit/depguard/pkg/registry"
	"github.com/container-kit/depguard/pkg/resolver"
	"github.com/container-kit/depguard/pkg/runcontroller"
	"github.com/container-kit/depguard/pkg/scanner"
	"github.com/container-kit/depguard/pkg/stages"
	"github.com/container-kit/depguard/pkg/validator"
)

// knownMaliciousSeed stands in for the malicious-package database named in
// spec.md §4.4: a handful of packages with documented supply-chain
// compromises, matched by exact (ecosystem, name) identity.
var knownMaliciousSeed = []string{
	"npm/event-stream",
	"npm/ua-parser-js",
	"npm/eslint-scope",
	"pypi/ctx",
	"pypi/colourama",
}

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Analyse a local project directory for supply-chain risk",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	logger := logging.New("depguard", cfg.LogLevel)

	cacheBackend, err := buildCache(cfg)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer cacheBackend.Close()

	retryCoordinator := retry.New()

	registryClient := registry.New(logger, cacheBackend, retryCoordinator, registry.Config{
		NPMBaseURL:     cfg.NPMRegistryBaseURL,
		PyPIBaseURL:    cfg.PyPIBaseURL,
		RequestTimeout: cfg.RegistryRequestTimeout,
		TTL:            cfg.TTLRegistry,
		NotFoundTTL:    cfg.TTLNotFound,
	})

	osvClient := osv.New(logger, cacheBackend, osv.Config{
		BaseURL:        cfg.OSVBaseURL,
		RequestTimeout: cfg.OSVRequestTimeout,
		MaxConcurrent:  cfg.OSVMaxConcurrent,
		TTL:            cfg.TTLOSV,
	})

	ioPool := workerpool.New(cfg.IOWorkerPoolSize)
	resolverImpl := resolver.New(registryClient, ioPool, resolver.Limits{
		MaxDepth: cfg.MaxDepth,
		MaxNodes: cfg.MaxNodesCap,
	})

	scannerImpl := scanner.New(knownMaliciousSeed)
	ecosystems := ecosystem.Default()
	validatorImpl := validator.New()

	var llmClient llm.Client = llm.NullClient{}

	metrics := stages.NewMetrics()
	vulnStage := stages.NewVulnerabilityStage(osvClient)
	reputationStage := stages.NewReputationStage(registryClient)
	codeStage := stages.NewCodeStage(registryClient, llmClient)
	supplyChainStage := stages.NewSupplyChainStage(registryClient)
	synthesisStage := stages.NewSynthesisStage(llmClient, cfg.SynthesisLLMCap)

	orchestratorImpl := orchestrator.New(retryCoordinator, metrics, orchestrator.Deadlines{
		Vulnerability: cfg.VulnStageDeadline,
		Reputation:    cfg.ReputationStageDeadline,
		Code:          cfg.CodeStageDeadline,
		SupplyChain:   cfg.SupplyChainStageDeadline,
		Synthesis:     cfg.SynthesisStageDeadline,
	}, vulnStage, reputationStage, codeStage, supplyChainStage, synthesisStage)

	controller := runcontroller.New(runcontroller.Deps{
		Logger:       logger,
		Ecosystems:   ecosystems,
		Scanner:      scannerImpl,
		Registry:     registryClient,
		Resolver:     resolverImpl,
		Validator:    validatorImpl,
		Orchestrator: orchestratorImpl,
	})

	ctx := cmd.Context()
	if err := controller.Start(ctx, target); err != nil {
		return err
	}

	return waitAndPrint(ctx, controller)
}

func buildCache(cfg config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(int(cfg.CacheSizeCapBytes)), nil
	default:
		return cache.NewFileStore(cfg.CacheDir, cfg.CacheSizeCapBytes)
	}
}

func waitAndPrint(ctx context.Context, controller *runcontroller.Controller) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			controller.Cancel()
			return ctx.Err()
		case <-ticker.C:
			status := controller.Status()
			switch status.State {
			case runcontroller.StateCompleted:
				return printReport(status)
			case runcontroller.StateFailed, runcontroller.StateCancelled:
				for _, rec := range status.Log {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", rec.Level, rec.Message)
				}
				return fmt.Errorf("run %s: %s", status.State, status.Err)
			}
		}
	}
}

func printReport(status runcontroller.Status) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status.Report)
}

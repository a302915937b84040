// Package runcontroller implements C12: the single-run state machine that
// external callers (a future HTTP/SSE layer, or cmd/depguard) drive. It owns
// the one run a depguard process can have in flight at a time, wires the
// pipeline from manifest detection through the Report, and exposes
// Start/Status/Cancel over an append-only log.
package runcontroller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/container-kit/depguard/pkg/ecosystem"
	"github.com/container-kit/depguard/pkg/model"
	"github.com/container-kit/depguard/pkg/orchestrator"
	"github.com/container-kit/depguard/pkg/registry"
	"github.com/container-kit/depguard/pkg/report"
	"github.com/container-kit/depguard/pkg/resolver"
	"github.com/container-kit/depguard/pkg/scanner"
	"github.com/container-kit/depguard/pkg/validator"
)

// State is the run controller's coarse lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// LogRecord is one append-only progress entry for the current or most
// recent run.
type LogRecord struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Status is the snapshot returned by Status().
type Status struct {
	State     State       `json:"state"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
	Log       []LogRecord `json:"log"`
	Report    *model.Report `json:"report,omitempty"`
	Err       string      `json:"error,omitempty"`
}

// defaultRunDeadline is the overall wall-clock budget for one run, independent of the
// per-stage deadlines the orchestrator enforces.
const defaultRunDeadline = 5 * time.Minute

// Controller runs at most one analysis at a time.
type Controller struct {
	logger zerolog.Logger

	ecosystems   *ecosystem.Registry
	scanner      *scanner.Scanner
	registry     *registry.Client
	resolverImpl *resolver.Resolver
	validatorImpl *validator.Validator
	orchestratorImpl *orchestrator.Orchestrator

	mu      sync.Mutex
	state   State
	started time.Time
	ended   time.Time
	log     []LogRecord
	report  *model.Report
	runErr  error
	cancel  context.CancelFunc
}

// Deps bundles the already-constructed collaborators a Controller wires
// together into a single run (their own construction belongs to the
// process entrypoint, not here).
type Deps struct {
	Logger       zerolog.Logger
	Ecosystems   *ecosystem.Registry
	Scanner      *scanner.Scanner
	Registry     *registry.Client
	Resolver     *resolver.Resolver
	Validator    *validator.Validator
	Orchestrator *orchestrator.Orchestrator
}

// New builds an idle Controller.
func New(d Deps) *Controller {
	return &Controller{
		logger:           d.Logger,
		ecosystems:       d.Ecosystems,
		scanner:          d.Scanner,
		registry:         d.Registry,
		resolverImpl:     d.Resolver,
		validatorImpl:    d.Validator,
		orchestratorImpl: d.Orchestrator,
		state:            StateIdle,
	}
}

// Start launches a run against targetPath in the background, rejecting the
// call when a run is already in progress. It returns immediately.
func (c *Controller) Start(ctx context.Context, targetPath string) error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("runcontroller: a run is already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.state = StateRunning
	c.started = time.Now()
	c.ended = time.Time{}
	c.log = nil
	c.report = nil
	c.runErr = nil
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, targetPath)
	return nil
}

// Cancel signals the in-progress run's cancellation token. It is a no-op
// when no run is in progress.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning && c.cancel != nil {
		c.cancel()
	}
}

// Status returns a snapshot of the controller's current or last-completed
// run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		StartedAt: c.started,
		EndedAt:   c.ended,
		Log:       append([]LogRecord(nil), c.log...),
		Report:    c.report,
		Err:       errString(c.runErr),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Controller) appendLog(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, LogRecord{Time: time.Now(), Level: level, Message: msg})
}

// run executes the full pipeline: ecosystem detection, rule scan, transitive
// resolution, proactive validation, the five specialist stages, and report
// assembly. It always terminates the state machine (completed, failed, or
// cancelled) exactly once.
func (c *Controller) run(ctx context.Context, targetPath string) {
	ctx, cancel := context.WithTimeout(ctx, defaultRunDeadline)
	defer cancel()

	c.appendLog("info", "starting run against "+targetPath)

	detections, err := c.ecosystems.DetectAll(targetPath)
	if err != nil {
		c.finish(StateFailed, nil, fmt.Errorf("detect manifests: %w", err))
		return
	}
	if len(detections) == 0 {
		c.finish(StateFailed, nil, fmt.Errorf("no supported manifest found in %s", targetPath))
		return
	}

	// Only the first detected ecosystem drives a run; a project declaring
	// manifests for more than one ecosystem is out of scope for a single
	// analysis id (spec.md's package-centric report is keyed by one
	// ecosystem's dependency tree).
	detection := detections[0]
	plugin, _ := c.ecosystems.Get(detection.Ecosystem)

	direct, err := plugin.ParseManifest(filepath.Join(targetPath, detection.ManifestPath))
	if err != nil {
		c.finish(StateFailed, nil, fmt.Errorf("parse manifest: %w", err))
		return
	}
	c.appendLog("info", fmt.Sprintf("parsed %d direct dependencies (%s)", len(direct), detection.Ecosystem))

	var ruleFindings []model.Finding
	for _, dep := range direct {
		ref := model.PackageRef{Name: dep.Name, Version: dep.Specifier, Ecosystem: detection.Ecosystem}
		if finding, ok := c.scanner.CheckMaliciousDB(ref); ok {
			ruleFindings = append(ruleFindings, finding)
		}
		if finding, ok := c.scanner.CheckTyposquat(ref); ok {
			ruleFindings = append(ruleFindings, finding)
		}
	}

	graph, warnings, err := c.resolverImpl.Resolve(ctx, detection.Ecosystem, direct)
	if err != nil {
		c.finish(StateFailed, nil, fmt.Errorf("resolve dependency graph: %w", err))
		return
	}
	c.appendLog("info", fmt.Sprintf("resolved %d nodes, %d warnings", graph.Len(), len(warnings)))

	for _, w := range warnings {
		c.appendLog("warn", w.Message)
	}

	graph.Walk(func(id model.NodeID, n *model.DependencyNode) bool {
		if id == graph.RootID {
			return true
		}
		meta, err := c.registry.Fetch(ctx, n.Ref)
		if err == nil && !meta.NotFound {
			ruleFindings = append(ruleFindings, c.scanner.ScanInstallScripts(n.Ref, meta.InstallScripts)...)
		}
		return true
	})

	issues := c.validatorImpl.Run(validator.Input{
		TargetPath: targetPath,
		Detections: detections,
		Direct:     direct,
		Graph:      graph,
	})
	errorCount := 0
	for _, issue := range issues {
		c.appendLog(string(issue.Level), issue.Check+": "+issue.Message)
		if issue.Level == validator.IssueLevelError {
			errorCount++
		}
	}
	if validator.HasErrors(issues) {
		c.finish(StateFailed, nil, fmt.Errorf("validation failed: %d error-level issue(s)", errorCount))
		return
	}

	deadline := time.Now().Add(defaultRunDeadline)
	sc := model.NewSharedContext(ctx, deadline)
	sc.AnalysisID = uuid.NewString()
	sc.TargetPath = targetPath
	sc.Ecosystem = detection.Ecosystem
	sc.Root = model.PackageRef{Name: targetPath, Ecosystem: detection.Ecosystem}
	sc.Graph = graph
	sc.AddRuleFindings(ruleFindings...)

	for _, f := range ruleFindings {
		if f.FindingType == model.FindingMaliciousPackage || f.FindingType == model.FindingRemoteCodeExec {
			sc.MarkHighRisk(f.PackageRef)
		}
	}

	outcome := c.orchestratorImpl.Run(ctx, sc)
	c.appendLog("info", fmt.Sprintf("orchestrator finished: status=%s confidence=%.2f retry_recommended=%v",
		outcome.Status, outcome.Confidence, outcome.RetryRecommended))

	r := report.Assemble(sc, outcome.Status)

	if ctx.Err() != nil && sc.Cancelled() {
		c.finish(StateCancelled, &r, ctx.Err())
		return
	}
	c.finish(StateCompleted, &r, nil)
}

func (c *Controller) finish(state State, r *model.Report, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.ended = time.Now()
	c.report = r
	c.runErr = err
}

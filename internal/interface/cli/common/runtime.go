package common

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/adapter/gateway/executor"
	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/app/config"
	"github.com/YoshitsuguKoike/deepipe/internal/app/state"
	"github.com/YoshitsuguKoike/deepipe/internal/application/service"
	"github.com/YoshitsuguKoike/deepipe/internal/infra/metrics"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/artifact"
	"github.com/YoshitsuguKoike/deepipe/internal/workflow"
)

// Runtime is the fully wired pipeline for one command invocation
type Runtime struct {
	Fs      afero.Fs
	Config  config.Config
	Paths   app.Paths
	WorkDir string // project root that artifact paths are relative to
	Logger  *zap.Logger

	Journal   *app.JournalWriter
	Store     *state.Store
	Graph     *workflow.Graph
	Resolver  *workflow.Resolver
	Criteria  *workflow.CriteriaRegistry
	Validator *artifact.Validator
	Approval  *service.ApprovalEngine
	Retry     *service.RetryPolicy
	Handoffs  *service.HandoffService
	Executors *executor.Set
	Metrics   *metrics.Metrics
}

// NewRuntime loads every config file and wires the components around a
// single store. The snapshot itself is not read; call LoadState.
func NewRuntime(fs afero.Fs, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	logger = app.OrNop(logger)
	paths := app.ResolvePaths(cfg.Home())
	workDir := filepath.Dir(filepath.Clean(paths.Home))

	graph, err := workflow.LoadGraph(fs, cfg.DependenciesPath())
	if err != nil {
		return nil, err
	}
	criteria, err := workflow.LoadCriteria(fs, cfg.CriteriaPath())
	if err != nil {
		return nil, err
	}
	executors, err := executor.LoadSet(fs, cfg.PhasesPath(), logger.Named("executor"))
	if err != nil {
		return nil, err
	}

	journal := app.NewJournalWriter(fs, paths.Journal)
	store := state.NewStore(fs, paths.State,
		state.WithLogger(logger.Named("state")),
		state.WithRecorder(journal))

	validator := artifact.NewValidator(fs, workDir)
	resolver := workflow.NewResolver(graph)
	handoffs := service.NewHandoffService(fs, cfg.HandoffDir(), store, resolver, validator)
	executors.WithWorkDir(workDir)
	if cfg.WriteHandoffs() {
		executors.WithHandoffPaths(handoffs.Path)
	}

	return &Runtime{
		Fs:        fs,
		Config:    cfg,
		Paths:     paths,
		WorkDir:   workDir,
		Logger:    logger,
		Journal:   journal,
		Store:     store,
		Graph:     graph,
		Resolver:  resolver,
		Criteria:  criteria,
		Validator: validator,
		Approval:  service.NewApprovalEngine(store, criteria, validator, logger.Named("approval")),
		Retry: service.NewRetryPolicy(store, service.RetryConfig{
			MaxRetries:        cfg.MaxRetries(),
			InitialDelay:      cfg.InitialDelay(),
			BackoffMultiplier: cfg.BackoffMultiplier(),
		}),
		Handoffs:  handoffs,
		Executors: executors,
		Metrics:   metrics.New(),
	}, nil
}

// LoadState reads the snapshot and exports the execution ID to phase commands
func (r *Runtime) LoadState() (fresh bool, err error) {
	fresh, err = r.Store.Load()
	if err != nil {
		return false, err
	}
	r.Executors.WithExecutionID(r.Store.ExecutionID())
	return fresh, nil
}

// Orchestrator builds the phase loop with the configured timeout, metrics and handoffs
func (r *Runtime) Orchestrator(global map[string]interface{}, opts ...service.OrchestratorOption) *service.Orchestrator {
	base := []service.OrchestratorOption{
		service.WithMetrics(r.Metrics),
		service.WithOrchestratorLogger(r.Logger.Named("orchestrator")),
		service.WithPhaseTimeout(r.Config.Timeout()),
	}
	if r.Config.WriteHandoffs() {
		base = append(base, service.WithHandoffs(r.Handoffs, global))
	}
	return service.NewOrchestrator(r.Store, r.Resolver, r.Approval, r.Retry, r.Executors, append(base, opts...)...)
}

// ExportMetrics writes the Prometheus textfile when metrics_file is configured
func (r *Runtime) ExportMetrics() error {
	path := r.Config.MetricsFile()
	if path == "" {
		return nil
	}
	if err := r.Metrics.WriteTextfile(path); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// PhaseName returns the display name configured in phases.yaml
func (r *Runtime) PhaseName(p int) string {
	return r.Executors.Name(p)
}

// Package integrated runs every offline check behind "deepipe doctor".
package integrated

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/adapter/gateway/executor"
	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	infraconfig "github.com/YoshitsuguKoike/deepipe/internal/infra/config"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/common"
	journalValidator "github.com/YoshitsuguKoike/deepipe/internal/validator/journal"
	stateValidator "github.com/YoshitsuguKoike/deepipe/internal/validator/state"
	"github.com/YoshitsuguKoike/deepipe/internal/workflow"
)

// Component names in report order
var Components = []string{"settings", "dependencies", "criteria", "phases", "state", "journal"}

// IntegratedReport represents the complete validation report from all components
type IntegratedReport struct {
	Version     int                                 `json:"version"`
	GeneratedAt string                              `json:"generated_at"`
	Components  map[string]*common.ValidationResult `json:"components"`
	Summary     IntegratedSummary                   `json:"summary"`
}

// IntegratedSummary contains aggregated validation statistics
type IntegratedSummary struct {
	Components int `json:"components"`
	OK         int `json:"ok"`
	Warn       int `json:"warn"`
	Error      int `json:"error"`
}

// DoctorConfig contains configuration for doctor validation
type DoctorConfig struct {
	Fs   afero.Fs
	Home string
}

// NewIntegratedReport creates a new integrated report
func NewIntegratedReport() *IntegratedReport {
	return &IntegratedReport{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Components:  make(map[string]*common.ValidationResult),
	}
}

// RunIntegratedValidation performs all validations and returns an integrated report.
// A broken setting.yaml is reported and the remaining checks fall back to default paths.
func RunIntegratedValidation(cfg DoctorConfig) (*IntegratedReport, error) {
	report := NewIntegratedReport()
	paths := app.ResolvePaths(cfg.Home)

	criteriaPath, dependenciesPath, phasesPath := paths.Criteria, paths.Dependencies, paths.Phases
	settings, err := infraconfig.LoadSettings(cfg.Fs, cfg.Home)
	if err != nil {
		report.Components["settings"] = common.SingleIssue(paths.Settings, common.IssueError, err.Error())
	} else {
		msg := "using defaults (no setting.yaml)"
		if settings.SettingPath() != "" {
			msg = fmt.Sprintf("loaded (source: %s)", settings.ConfigSource())
		}
		report.Components["settings"] = common.SingleIssue(paths.Settings, common.IssueOK, msg)
		criteriaPath, dependenciesPath, phasesPath = settings.CriteriaPath(), settings.DependenciesPath(), settings.PhasesPath()
	}

	report.Components["dependencies"] = validateDependencies(cfg.Fs, dependenciesPath)
	report.Components["criteria"] = validateCriteria(cfg.Fs, criteriaPath)
	report.Components["phases"] = validatePhases(cfg.Fs, phasesPath)

	stateResult, err := stateValidator.ValidateStateFile(cfg.Fs, paths.State)
	if err != nil {
		stateResult = common.SingleIssue(paths.State, common.IssueError, fmt.Sprintf("validation error: %v", err))
	}
	report.Components["state"] = stateResult
	report.Components["journal"] = validateJournal(cfg.Fs, paths.Journal)

	report.Summary = calculateIntegratedSummary(report.Components)
	return report, nil
}

func exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

func validateDependencies(fs afero.Fs, path string) *common.ValidationResult {
	graph, err := workflow.LoadGraph(fs, path)
	if err != nil {
		return common.SingleIssue(path, common.IssueError, err.Error())
	}
	if !exists(fs, path) {
		return common.SingleIssue(path, common.IssueOK, "not found, linear dependencies")
	}
	edges := 0
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		deps, _ := graph.Dependencies(p)
		edges += len(deps)
	}
	return common.SingleIssue(path, common.IssueOK, fmt.Sprintf("%d dependency edges, acyclic", edges))
}

func validateCriteria(fs afero.Fs, path string) *common.ValidationResult {
	registry, err := workflow.LoadCriteria(fs, path)
	if err != nil {
		return common.SingleIssue(path, common.IssueError, err.Error())
	}
	if !exists(fs, path) {
		return common.SingleIssue(path, common.IssueWarn, "not found, every completed phase auto-approves")
	}
	phases := registry.Phases()
	if len(phases) == 0 {
		return common.SingleIssue(path, common.IssueWarn, "no criteria defined, every completed phase auto-approves")
	}
	return common.SingleIssue(path, common.IssueOK, fmt.Sprintf("criteria for phases %v", phases))
}

func validatePhases(fs afero.Fs, path string) *common.ValidationResult {
	set, err := executor.LoadSet(fs, path, nil)
	if err != nil {
		return common.SingleIssue(path, common.IssueError, err.Error())
	}
	var withCommand []int
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		if spec, ok := set.Spec(p); ok && len(spec.Command) > 0 {
			withCommand = append(withCommand, p)
		}
	}
	if len(withCommand) == 0 {
		return common.SingleIssue(path, common.IssueWarn, "no phase has a command, every phase is a no-op")
	}
	return common.SingleIssue(path, common.IssueOK, fmt.Sprintf("commands for phases %v", withCommand))
}

// validateJournal converts journal validation to common format
func validateJournal(fs afero.Fs, journalPath string) *common.ValidationResult {
	file, err := fs.Open(journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return common.SingleIssue(journalPath, common.IssueWarn, "file not found")
		}
		return common.SingleIssue(journalPath, common.IssueError, fmt.Sprintf("cannot read file: %v", err))
	}
	defer file.Close()

	journalResult, err := journalValidator.NewValidator(journalPath).ValidateFile(file)
	if err != nil {
		return common.SingleIssue(journalPath, common.IssueError, fmt.Sprintf("validation error: %v", err))
	}

	fileResult := common.FileResult{File: journalPath, Issues: []common.ValidationIssue{}}
	for _, line := range journalResult.Lines {
		for _, issue := range line.Issues {
			issue.Field = fmt.Sprintf("/line/%d/%s", line.Line, issue.Field)
			fileResult.Issues = append(fileResult.Issues, issue)
		}
	}
	if len(fileResult.Issues) == 0 {
		fileResult.Issues = append(fileResult.Issues, common.ValidationIssue{
			Type:    common.IssueOK,
			Message: fmt.Sprintf("all %d journal entries valid", journalResult.Summary.Lines),
		})
	}

	result := common.NewValidationResult()
	result.AddFileResult(fileResult)
	return result
}

// calculateIntegratedSummary aggregates one status per component
func calculateIntegratedSummary(components map[string]*common.ValidationResult) IntegratedSummary {
	summary := IntegratedSummary{Components: len(components)}
	for _, component := range components {
		if component == nil {
			continue
		}
		switch component.Summary.Status() {
		case common.IssueError:
			summary.Error++
		case common.IssueWarn:
			summary.Warn++
		default:
			summary.OK++
		}
	}
	return summary
}

// GetComponentStatus returns "ok", "warn" or "error" per component
func GetComponentStatus(report *IntegratedReport) map[string]string {
	status := make(map[string]string, len(report.Components))
	for name, component := range report.Components {
		if component != nil {
			status[name] = component.Summary.Status()
		}
	}
	return status
}

// ComponentNames returns the report's component names in display order
func ComponentNames(report *IntegratedReport) []string {
	names := make([]string, 0, len(report.Components))
	for _, name := range Components {
		if _, ok := report.Components[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

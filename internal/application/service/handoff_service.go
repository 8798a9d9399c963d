package service

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/app/state"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/artifact"
	"github.com/YoshitsuguKoike/deepipe/internal/workflow"
)

// PhaseContext is what a later phase needs to know about an earlier one
type PhaseContext struct {
	Phase       int                    `json:"phase"`
	Status      string                 `json:"status"`
	Approved    bool                   `json:"approved"`
	CompletedAt *time.Time             `json:"completed_at"`
	Outputs     []string               `json:"outputs"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// DependencyContext describes one completed prerequisite of the target phase
type DependencyContext struct {
	Context   PhaseContext `json:"context"`
	Outputs   []string     `json:"outputs"`
	Artifacts []string     `json:"artifacts"` // outputs present on disk
}

// StateSummary is the execution-level part of a handoff
type StateSummary struct {
	CompletedPhases    []int   `json:"completed_phases"`
	OverallStatus      string  `json:"overall_status"`
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentPhase       int     `json:"current_phase"`
}

// HandoffPackage lets another process resume work at ToPhase. It is built
// once and never modified after it is written.
type HandoffPackage struct {
	ExecutionID          string                    `json:"execution_id"`
	FromPhase            int                       `json:"from_phase"`
	ToPhase              int                       `json:"to_phase"`
	PreviousPhaseContext *PhaseContext             `json:"previous_phase_context"`
	DependencyContexts   map[int]DependencyContext `json:"dependency_contexts"`
	SharedArtifacts      []string                  `json:"shared_artifacts"`
	GlobalContext        map[string]interface{}    `json:"global_context"`
	StateSummary         StateSummary              `json:"state_summary"`
	HandoffTimestamp     time.Time                 `json:"handoff_timestamp"`
}

// HandoffService builds, writes and reads handoff packages
type HandoffService struct {
	fs        afero.Fs
	dir       string
	store     *state.Store
	resolver  *workflow.Resolver
	validator *artifact.Validator
	now       func() time.Time
}

// NewHandoffService creates a service writing packages under dir
func NewHandoffService(fs afero.Fs, dir string, store *state.Store, resolver *workflow.Resolver, validator *artifact.Validator) *HandoffService {
	return &HandoffService{
		fs:        fs,
		dir:       dir,
		store:     store,
		resolver:  resolver,
		validator: validator,
		now:       time.Now,
	}
}

// Path returns the package location for target phase to
func (h *HandoffService) Path(to int) string {
	return filepath.Join(h.dir, fmt.Sprintf("handoff_phase_%d.json", to))
}

// Build assembles the package for moving from phase `from` to phase `to`
// from the current store snapshot. from may be -1 when there is no previous
// phase.
func (h *HandoffService) Build(from, to int, global map[string]interface{}) (*HandoffPackage, error) {
	if err := execution.CheckPhase(to); err != nil {
		return nil, err
	}
	snap := h.store.Snapshot()

	pkg := &HandoffPackage{
		ExecutionID:        snap.ExecutionID,
		FromPhase:          from,
		ToPhase:            to,
		DependencyContexts: map[int]DependencyContext{},
		SharedArtifacts:    []string{},
		GlobalContext:      map[string]interface{}{},
		StateSummary: StateSummary{
			CompletedPhases:    snap.CompletedPhases(),
			OverallStatus:      snap.OverallStatus.String(),
			ProgressPercentage: snap.ProgressPercentage(),
			CurrentPhase:       snap.CurrentPhase,
		},
		HandoffTimestamp: h.now().UTC(),
	}
	for k, v := range global {
		pkg.GlobalContext[k] = v
	}

	if from >= execution.FirstPhase {
		rec, err := snap.Phase(from)
		if err != nil {
			return nil, err
		}
		ctx := phaseContext(from, rec)
		pkg.PreviousPhaseContext = &ctx
	}

	deps, err := h.resolver.Graph().Dependencies(to)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		rec, err := snap.Phase(d)
		if err != nil {
			return nil, err
		}
		if !rec.Status.IsDone() {
			continue
		}
		pkg.DependencyContexts[d] = DependencyContext{
			Context:   phaseContext(d, rec),
			Outputs:   append([]string{}, rec.Outputs...),
			Artifacts: h.presentArtifacts(rec.Outputs),
		}
	}

	seen := map[string]struct{}{}
	for _, p := range snap.CompletedPhases() {
		for _, o := range snap.Phases[p].Outputs {
			key := execution.NormalizeOutputPath(o)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pkg.SharedArtifacts = append(pkg.SharedArtifacts, o)
		}
	}
	return pkg, nil
}

func phaseContext(p int, rec *execution.PhaseRecord) PhaseContext {
	meta := make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	return PhaseContext{
		Phase:       p,
		Status:      rec.Status.String(),
		Approved:    rec.Approved,
		CompletedAt: rec.CompletedAt,
		Outputs:     append([]string{}, rec.Outputs...),
		Metadata:    meta,
	}
}

func (h *HandoffService) presentArtifacts(outputs []string) []string {
	present := []string{}
	if h.validator == nil {
		return present
	}
	for _, o := range outputs {
		if h.validator.Exists(o) {
			present = append(present, o)
		}
	}
	return present
}

// Write stores pkg as handoff_phase_<to>.json, replacing any earlier file
func (h *HandoffService) Write(pkg *HandoffPackage) (string, error) {
	path := h.Path(pkg.ToPhase)
	if err := file.WriteJSONAtomic(h.fs, path, pkg); err != nil {
		return "", fmt.Errorf("handoff: write %s: %w", path, err)
	}
	return path, nil
}

// Read loads the package written for target phase to
func (h *HandoffService) Read(to int) (*HandoffPackage, error) {
	if err := execution.CheckPhase(to); err != nil {
		return nil, err
	}
	path := h.Path(to)
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return nil, fmt.Errorf("handoff: read %s: %w", path, err)
	}
	var pkg HandoffPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("handoff: parse %s: %w", path, err)
	}
	if pkg.DependencyContexts == nil {
		pkg.DependencyContexts = map[int]DependencyContext{}
	}
	return &pkg, nil
}

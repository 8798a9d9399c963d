package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	infrafs "github.com/YoshitsuguKoike/deepipe/internal/infra/fs"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/doctor"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/phase"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/run"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/status"
)

// newHome returns a fresh .deepipe directory inside a temp project root
func newHome(t *testing.T) string {
	t.Helper()
	t.Setenv("DEEPIPE_HOME", "")
	home := filepath.Join(t.TempDir(), ".deepipe")
	require.NoError(t, os.MkdirAll(filepath.Join(home, "etc"), 0o755))
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return out.String(), err
}

func readStatus(t *testing.T, home string) status.StatusOutput {
	t.Helper()
	out, err := execCLI(t, home, "status", "--json")
	require.NoError(t, err)
	var st status.StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	return st
}

func TestRunCompletesWithoutPhaseCommands(t *testing.T) {
	home := newHome(t)

	out, err := execCLI(t, home, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "completed: all 16 phases approved")

	st := readStatus(t, home)
	assert.Equal(t, "completed", st.OverallStatus)
	assert.Equal(t, 100.0, st.ProgressPercentage)
	assert.Len(t, st.CompletedPhases, execution.PhaseCount)
	assert.True(t, st.Persisted)
	assert.False(t, st.CanResume)

	_, err = os.Stat(filepath.Join(home, "var", "handoffs", "handoff_phase_15.json"))
	assert.NoError(t, err)
	_, held := infrafs.ReadLockInfo(filepath.Join(home, "var", "run.lock"))
	assert.False(t, held, "run lock must be released")

	h, ok, err := app.ReadHealth(afero.NewOsFs(), filepath.Join(home, "var", "health.json"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, h.OK)
	assert.Equal(t, "completed", h.Outcome)

	out, err = execCLI(t, home, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "already complete")
}

func TestRunFreshArchivesState(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "run")
	require.NoError(t, err)
	first := readStatus(t, home).ExecutionID

	_, err = execCLI(t, home, "run", "--fresh")
	require.NoError(t, err)
	assert.NotEqual(t, first, readStatus(t, home).ExecutionID)

	matches, err := filepath.Glob(filepath.Join(home, "var", "state.json.*.bak"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestResumeWithoutExecution(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "resume")
	assert.ErrorIs(t, err, run.ErrNothingToResume)
}

func TestStatusBeforeFirstRun(t *testing.T) {
	home := newHome(t)
	out, err := execCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No execution on disk yet")
	assert.Contains(t, out, "Overall:   pending (phase 0, 0.00% done)")

	_, err = os.Stat(filepath.Join(home, "var", "state.json"))
	assert.True(t, os.IsNotExist(err), "status must not create state")
}

func TestResetPhaseMovesCurrentBack(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "reset-phase", "3")
	assert.Error(t, err, "nothing on disk to reset")

	_, err = execCLI(t, home, "run")
	require.NoError(t, err)

	out, err := execCLI(t, home, "reset-phase", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase 3 reset (approved -> pending); current phase is 3")

	st := readStatus(t, home)
	assert.Equal(t, 3, st.CurrentPhase)
	assert.Equal(t, "pending", st.Phases[3].Status)
	assert.False(t, st.Phases[3].Approved)
	assert.True(t, st.Phases[4].Approved)

	_, err = execCLI(t, home, "reset-phase", "16")
	assert.Error(t, err)
}

func TestValidateReportsFailedCriteria(t *testing.T) {
	home := newHome(t)
	writeFile(t, filepath.Join(home, "etc", "success_criteria.yaml"), `"2":
  required_outputs: [docs/design.md]
  validation_checks:
    - type: file_not_empty
      path: docs/design.md
`)

	out, err := execCLI(t, home, "validate", "2")
	assert.ErrorIs(t, err, phase.ErrCriteriaNotMet)
	assert.Contains(t, out, "FAIL")

	writeFile(t, filepath.Join(filepath.Dir(home), "docs", "design.md"), "# design\n")
	out, err = execCLI(t, home, "validate", "2", "--json")
	require.ErrorIs(t, err, phase.ErrCriteriaNotMet, "docs/design.md is not a recorded output yet")
	assert.Contains(t, out, `"criteria_met": false`)
}

func TestRunHaltsOnUnmetCriteria(t *testing.T) {
	home := newHome(t)
	writeFile(t, filepath.Join(home, "etc", "success_criteria.yaml"), `"1":
  validation_checks:
    - type: file_exists
      path: missing.json
`)

	out, err := execCLI(t, home, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run halted at phase 1")
	assert.Contains(t, out, "missing.json not found")

	st := readStatus(t, home)
	assert.Equal(t, 1, st.CurrentPhase)
	assert.True(t, st.Phases[0].Approved)
	assert.False(t, st.Phases[1].Approved)

	writeFile(t, filepath.Join(filepath.Dir(home), "missing.json"), "{}")
	out, err = execCLI(t, home, "resume")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestHandoffCommandWritesPackage(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "run")
	require.NoError(t, err)

	out, err := execCLI(t, home, "handoff", "5", "--set", "ticket=ABC-1", "--set", "attempt=2")
	require.NoError(t, err)
	assert.Contains(t, out, "Handoff for phase 5 written to")

	data, err := os.ReadFile(filepath.Join(home, "var", "handoffs", "handoff_phase_5.json"))
	require.NoError(t, err)
	var pkg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &pkg))
	assert.EqualValues(t, 4, pkg["from_phase"])
	global := pkg["global_context"].(map[string]interface{})
	assert.Equal(t, "ABC-1", global["ticket"])
	assert.EqualValues(t, 2, global["attempt"])
}

func TestHistoryListsTransitions(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "run")
	require.NoError(t, err)

	out, err := execCLI(t, home, "history", "--phase", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "pending -> in_progress")
	assert.Contains(t, out, app.EventApprovalRecorded)

	out, err = execCLI(t, home, "history", "--json", "--limit", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var ev app.JournalEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, app.EventRunOutcome, ev.Event)
}

func TestConfigErrors(t *testing.T) {
	home := newHome(t)
	writeFile(t, filepath.Join(home, "setting.yaml"), "max_retries: -1\n")

	_, err := execCLI(t, home, "run")
	require.Error(t, err)
	assert.Equal(t, execution.ErrorKindConfiguration, execution.Classify(err))

	// doctor and version still work with a broken setting.yaml
	out, err := execCLI(t, home, "doctor")
	assert.ErrorIs(t, err, doctor.ErrUnhealthy)
	assert.Contains(t, out, "max_retries")

	out, err = execCLI(t, home, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "deepipe version")
}

func TestDoctorAfterRun(t *testing.T) {
	home := newHome(t)
	_, err := execCLI(t, home, "init")
	require.NoError(t, err)
	_, err = execCLI(t, home, "run")
	require.NoError(t, err)

	out, err := execCLI(t, home, "doctor", "--format", "json")
	require.NoError(t, err)
	var report struct {
		Summary struct {
			Error int `json:"error"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Summary.Error)
}

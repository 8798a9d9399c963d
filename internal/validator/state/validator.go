// Package state checks a state.json snapshot offline, without going through the store.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/common"
)

var validPhaseStatuses = map[string]bool{
	string(execution.PhaseStatusPending):    true,
	string(execution.PhaseStatusInProgress): true,
	string(execution.PhaseStatusCompleted):  true,
	string(execution.PhaseStatusFailed):     true,
	string(execution.PhaseStatusApproved):   true,
}

var validOverallStatuses = map[string]bool{
	string(execution.OverallPending):     true,
	string(execution.OverallInProgress):  true,
	string(execution.OverallCompleted):   true,
	string(execution.OverallInterrupted): true,
}

// ValidateStateFile validates a state.json file
func ValidateStateFile(fs afero.Fs, filePath string) (*common.ValidationResult, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return common.SingleIssue(filePath, common.IssueWarn, "file not found (no run yet)"), nil
		}
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	var stateData map[string]interface{}
	if err := json.Unmarshal(data, &stateData); err != nil {
		return common.SingleIssue(filePath, common.IssueError, fmt.Sprintf("invalid JSON: %v", err)), nil
	}

	issues := validateStateSchema(stateData)

	// Typed invariants only make sense once the shape is right
	if !hasErrors(issues) {
		var st execution.ExecutionState
		if err := json.Unmarshal(data, &st); err != nil {
			common.Errorf(&issues, "", "type validation failed: %v", err)
		} else if err := st.Validate(); err != nil {
			common.Errorf(&issues, "", "%v", err)
		}
	}

	result := common.NewValidationResult()
	result.AddFileResult(common.FileResult{File: filePath, Issues: issues})
	return result, nil
}

// validateStateSchema validates the state.json schema
func validateStateSchema(data map[string]interface{}) []common.ValidationIssue {
	issues := []common.ValidationIssue{}

	requiredKeys := []string{"execution_id", "started_at", "current_phase", "overall_status", "phases"}
	common.ValidateRequiredKeys(data, requiredKeys, nil, &issues)

	if id, exists := data["execution_id"]; exists {
		if s, ok := common.ValidateStringValue(id, "execution_id", &issues); ok && s == "" {
			common.Errorf(&issues, "execution_id", "must not be empty")
		}
	}

	if startedAt, exists := data["started_at"]; exists {
		if s, ok := common.ValidateStringValue(startedAt, "started_at", &issues); ok {
			common.ValidateRFC3339Nano(s, "started_at", false, &issues)
		}
	}

	if lastUpdated, exists := data["last_updated"]; exists && lastUpdated != nil {
		if s, ok := common.ValidateStringValue(lastUpdated, "last_updated", &issues); ok {
			common.ValidateRFC3339Nano(s, "last_updated", true, &issues)
		}
	}

	if current, exists := data["current_phase"]; exists {
		common.ValidateIntValue(current, "current_phase",
			common.IntPtr(execution.FirstPhase), common.IntPtr(execution.LastPhase+1), &issues)
	}

	overall := ""
	if v, exists := data["overall_status"]; exists {
		overall, _ = common.ValidateEnumValue(v, "overall_status", validOverallStatuses, &issues)
	}

	if phases, exists := data["phases"]; exists {
		validatePhases(phases, overall, &issues)
	}

	return issues
}

func validatePhases(value interface{}, overall string, issues *[]common.ValidationIssue) {
	phases, ok := value.(map[string]interface{})
	if !ok {
		common.Errorf(issues, "phases", "must be an object keyed by phase number")
		return
	}

	keys := make([]string, 0, len(phases))
	for k := range phases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := map[int]bool{}
	approved := 0
	for _, key := range keys {
		field := "phases." + key
		p, err := strconv.Atoi(key)
		if err != nil || execution.CheckPhase(p) != nil {
			common.Errorf(issues, field, "unknown phase key %q", key)
			continue
		}
		seen[p] = true

		rec, ok := phases[key].(map[string]interface{})
		if !ok {
			common.Errorf(issues, field, "must be an object")
			continue
		}
		common.ValidateRequiredKeys(rec, []string{"status", "approved", "retry_count"}, nil, issues)

		status := ""
		if v, exists := rec["status"]; exists {
			status, _ = common.ValidateEnumValue(v, field+".status", validPhaseStatuses, issues)
		}
		if v, exists := rec["approved"]; exists {
			if isApproved, ok := common.ValidateBoolValue(v, field+".approved", issues); ok && isApproved {
				approved++
				if status != "" && !execution.PhaseStatus(status).IsDone() {
					common.Errorf(issues, field+".approved", "approved while status is %s", status)
				}
			}
		}
		if v, exists := rec["retry_count"]; exists {
			common.ValidateIntValue(v, field+".retry_count", common.IntPtr(0), nil, issues)
		}
		if status == string(execution.PhaseStatusInProgress) {
			common.Warnf(issues, field+".status", "phase %d is in_progress; a previous run stopped mid-phase", p)
		}
	}

	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		if !seen[p] {
			common.Errorf(issues, "phases", "phase %d slot missing", p)
		}
	}

	if overall == string(execution.OverallCompleted) && approved != execution.PhaseCount {
		common.Warnf(issues, "overall_status", "completed with %d of %d phases approved", approved, execution.PhaseCount)
	}
}

func hasErrors(issues []common.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Type == common.IssueError {
			return true
		}
	}
	return false
}

// Package journal checks journal.ndjson line by line.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/common"
)

var requiredKeys = []string{"ts", "execution_id", "phase", "event", "retry_count"}

var validStatuses = map[string]bool{
	string(execution.PhaseStatusPending):    true,
	string(execution.PhaseStatusInProgress): true,
	string(execution.PhaseStatusCompleted):  true,
	string(execution.PhaseStatusFailed):     true,
	string(execution.PhaseStatusApproved):   true,
}

var validKinds = map[string]bool{
	string(execution.ErrorKindTransient):     true,
	string(execution.ErrorKindPermanent):     true,
	string(execution.ErrorKindDependency):    true,
	string(execution.ErrorKindConfiguration): true,
	string(execution.ErrorKindUnknown):       true,
}

// ValidateFile validates a journal NDJSON file and returns detailed results
func (v *Validator) ValidateFile(reader io.Reader) (*ValidationResult, error) {
	result := &ValidationResult{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		File:        v.filePath,
		Lines:       []LineResult{},
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lineResult := v.validateLine(line, lineNumber)
		result.Lines = append(result.Lines, lineResult)

		result.Summary.Lines++
		switch common.Worst(lineResult.Issues) {
		case common.IssueError:
			result.Summary.Error++
		case common.IssueWarn:
			result.Summary.Warn++
		default:
			result.Summary.OK++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return result, nil
}

// validateLine validates a single NDJSON line
func (v *Validator) validateLine(line string, lineNumber int) LineResult {
	result := LineResult{Line: lineNumber, Issues: []common.ValidationIssue{}}
	issues := &result.Issues

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		common.Errorf(issues, "", "invalid JSON: %v", err)
		return result
	}

	common.ValidateRequiredKeys(raw, requiredKeys, nil, issues)

	if ts, ok := raw["ts"]; ok {
		if s, ok := common.ValidateStringValue(ts, "ts", issues); ok {
			if parsed, ok := common.ValidateRFC3339Nano(s, "ts", true, issues); ok {
				v.checkOrder(parsed, issues)
			}
		}
	}

	if id, ok := raw["execution_id"]; ok {
		if s, ok := common.ValidateStringValue(id, "execution_id", issues); ok {
			switch {
			case s == "":
				common.Errorf(issues, "execution_id", "must not be empty")
			case v.executionID != "" && s != v.executionID:
				common.Warnf(issues, "execution_id", "execution changed from %s to %s", v.executionID, s)
				v.executionID = s
			default:
				v.executionID = s
			}
		}
	}

	if phase, ok := raw["phase"]; ok {
		common.ValidateIntValue(phase, "phase", common.IntPtr(execution.FirstPhase), common.IntPtr(execution.LastPhase+1), issues)
	}

	event := ""
	if e, ok := raw["event"]; ok {
		event, _ = common.ValidateEnumValue(e, "event", ValidEvents, issues)
	}

	if rc, ok := raw["retry_count"]; ok {
		common.ValidateIntValue(rc, "retry_count", common.IntPtr(0), nil, issues)
	}

	for _, field := range []string{"from_status", "to_status"} {
		if s, ok := raw[field]; ok {
			common.ValidateEnumValue(s, field, validStatuses, issues)
		}
	}

	if kind, ok := raw["error_kind"]; ok {
		common.ValidateEnumValue(kind, "error_kind", validKinds, issues)
	}

	if event == app.EventStatusChanged {
		if _, ok := raw["to_status"]; !ok {
			common.Errorf(issues, "to_status", "status_changed event without to_status")
		}
	}

	if outputs, ok := raw["outputs"]; ok {
		list, isList := outputs.([]interface{})
		if !isList {
			common.Errorf(issues, "outputs", "must be an array of strings")
		}
		for i, o := range list {
			if _, isString := o.(string); !isString {
				common.Errorf(issues, fmt.Sprintf("outputs[%d]", i), "must be a string")
			}
		}
	}

	return result
}

// checkOrder warns when timestamps go backwards
func (v *Validator) checkOrder(ts time.Time, issues *[]common.ValidationIssue) {
	if !v.previousTs.IsZero() && ts.Before(v.previousTs) {
		common.Warnf(issues, "ts", "timestamp went back from %s to %s (non-monotonic)",
			v.previousTs.Format(time.RFC3339Nano), ts.Format(time.RFC3339Nano))
	}
	v.previousTs = ts
}

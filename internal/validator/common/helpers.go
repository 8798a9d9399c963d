package common

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Issue type values
const (
	IssueOK    = "ok"
	IssueWarn  = "warn"
	IssueError = "error"
)

// Errorf appends an error issue for field
func Errorf(issues *[]ValidationIssue, field, format string, args ...interface{}) {
	*issues = append(*issues, ValidationIssue{Type: IssueError, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning issue for field
func Warnf(issues *[]ValidationIssue, field, format string, args ...interface{}) {
	*issues = append(*issues, ValidationIssue{Type: IssueWarn, Field: field, Message: fmt.Sprintf(format, args...)})
}

// SingleIssue builds a one-file result carrying a single issue
func SingleIssue(file, issueType, message string) *ValidationResult {
	result := NewValidationResult()
	result.AddFileResult(FileResult{
		File:   file,
		Issues: []ValidationIssue{{Type: issueType, Message: message}},
	})
	return result
}

// ValidateRFC3339Nano validates a timestamp string; strictUTC requires the Z suffix
func ValidateRFC3339Nano(ts string, fieldName string, strictUTC bool, issues *[]ValidationIssue) (time.Time, bool) {
	if ts == "" {
		Errorf(issues, fieldName, "timestamp cannot be empty")
		return time.Time{}, false
	}

	if strictUTC && !strings.HasSuffix(ts, "Z") {
		Errorf(issues, fieldName, "not RFC3339Nano UTC Z")
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		Errorf(issues, fieldName, "invalid RFC3339Nano format: %v", err)
		return time.Time{}, false
	}
	return parsed, true
}

// ValidateRequiredKeys checks that all required keys are present and no forbidden keys exist
func ValidateRequiredKeys(data map[string]interface{}, required []string, forbidden []string, issues *[]ValidationIssue) {
	for _, key := range required {
		if _, exists := data[key]; !exists {
			Errorf(issues, key, "missing required key: %s", key)
		}
	}

	for _, key := range forbidden {
		if _, exists := data[key]; exists {
			Errorf(issues, key, "forbidden key present: %s", key)
		}
	}
}

// ValidateIntValue validates an integer value against optional inclusive bounds
func ValidateIntValue(value interface{}, fieldName string, minValue, maxValue *int, issues *[]ValidationIssue) (int, bool) {
	f, ok := value.(float64) // JSON numbers are float64
	if !ok || f != float64(int(f)) {
		Errorf(issues, fieldName, "must be an integer")
		return 0, false
	}

	n := int(f)
	if minValue != nil && n < *minValue {
		Errorf(issues, fieldName, "must be >= %d", *minValue)
		return n, false
	}
	if maxValue != nil && n > *maxValue {
		Errorf(issues, fieldName, "must be <= %d", *maxValue)
		return n, false
	}
	return n, true
}

// ValidateEnumValue validates that a string value is within allowed enum values
func ValidateEnumValue(value interface{}, fieldName string, allowedValues map[string]bool, issues *[]ValidationIssue) (string, bool) {
	strVal, ok := value.(string)
	if !ok {
		Errorf(issues, fieldName, "must be a string")
		return "", false
	}

	if !allowedValues[strVal] {
		allowedList := make([]string, 0, len(allowedValues))
		for k := range allowedValues {
			allowedList = append(allowedList, k)
		}
		sort.Strings(allowedList)
		Errorf(issues, fieldName, "invalid value: %s (must be one of: %s)", strVal, strings.Join(allowedList, "|"))
		return strVal, false
	}
	return strVal, true
}

// ValidateBoolValue validates that a value is a boolean
func ValidateBoolValue(value interface{}, fieldName string, issues *[]ValidationIssue) (bool, bool) {
	b, ok := value.(bool)
	if !ok {
		Errorf(issues, fieldName, "must be a boolean")
	}
	return b, ok
}

// ValidateStringValue validates that a value is a string
func ValidateStringValue(value interface{}, fieldName string, issues *[]ValidationIssue) (string, bool) {
	s, ok := value.(string)
	if !ok {
		Errorf(issues, fieldName, "must be a string")
	}
	return s, ok
}

// IntPtr is a helper for the optional bounds of ValidateIntValue
func IntPtr(n int) *int {
	return &n
}

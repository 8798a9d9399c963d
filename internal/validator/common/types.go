// Package common holds the issue model shared by the doctor validators.
package common

import "time"

// ValidationIssue is one finding; Type is IssueOK, IssueWarn or IssueError
type ValidationIssue struct {
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// FileResult groups the issues found in one file
type FileResult struct {
	File   string            `json:"file"`
	Issues []ValidationIssue `json:"issues"`
}

// ValidationResult is the report of one doctor component
type ValidationResult struct {
	Version     int          `json:"version"`
	GeneratedAt string       `json:"generated_at"`
	Files       []FileResult `json:"files"`
	Summary     Summary      `json:"summary"`
}

// Summary counts files by their worst issue
type Summary struct {
	Files int `json:"files"`
	OK    int `json:"ok"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Files:       []FileResult{},
	}
}

// AddFileResult appends fr and counts it under its worst issue
func (vr *ValidationResult) AddFileResult(fr FileResult) {
	vr.Files = append(vr.Files, fr)
	vr.Summary.Files++
	vr.Summary.Count(Worst(fr.Issues))
}

// Count adds one entry of the given severity
func (s *Summary) Count(severity string) {
	switch severity {
	case IssueError:
		s.Error++
	case IssueWarn:
		s.Warn++
	default:
		s.OK++
	}
}

// Status returns the worst severity counted
func (s Summary) Status() string {
	switch {
	case s.Error > 0:
		return IssueError
	case s.Warn > 0:
		return IssueWarn
	}
	return IssueOK
}

// Worst returns the most severe issue type in issues
func Worst(issues []ValidationIssue) string {
	worst := IssueOK
	for _, issue := range issues {
		switch issue.Type {
		case IssueError:
			return IssueError
		case IssueWarn:
			worst = IssueWarn
		}
	}
	return worst
}

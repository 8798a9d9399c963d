package journal

import (
	"time"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/common"
)

// LineResult represents validation result for a single line
type LineResult struct {
	Line   int                      `json:"line"`
	Issues []common.ValidationIssue `json:"issues"`
}

// ValidationResult represents the complete validation result
type ValidationResult struct {
	Version     int          `json:"version"`
	GeneratedAt string       `json:"generated_at"`
	File        string       `json:"file"`
	Lines       []LineResult `json:"lines"`
	Summary     Summary      `json:"summary"`
}

// Summary contains validation statistics
type Summary struct {
	Lines int `json:"lines"`
	OK    int `json:"ok"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// Validator checks journal.ndjson lines in order
type Validator struct {
	filePath    string
	previousTs  time.Time
	executionID string
}

// ValidEvents defines the allowed event values
var ValidEvents = map[string]bool{
	app.EventStatusChanged:    true,
	app.EventErrorRecorded:    true,
	app.EventRetryIncremented: true,
	app.EventApprovalRecorded: true,
	app.EventPhaseReset:       true,
	app.EventRunOutcome:       true,
}

// NewValidator creates a new journal validator
func NewValidator(filePath string) *Validator {
	return &Validator{filePath: filePath}
}

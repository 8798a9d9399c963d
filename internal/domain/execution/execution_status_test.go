package execution

import (
	"testing"
)

// TestPhaseStatusIsDone verifies which statuses satisfy dependents
func TestPhaseStatusIsDone(t *testing.T) {
	tests := []struct {
		name     string
		status   PhaseStatus
		expected bool
	}{
		{"Pending is not done", PhaseStatusPending, false},
		{"InProgress is not done", PhaseStatusInProgress, false},
		{"Completed is done", PhaseStatusCompleted, true},
		{"Failed is not done", PhaseStatusFailed, false},
		{"Approved is done", PhaseStatusApproved, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.status.IsDone(); result != tt.expected {
				t.Errorf("Expected IsDone() = %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestPhaseStatusIsRunnable verifies which statuses can be picked up
func TestPhaseStatusIsRunnable(t *testing.T) {
	tests := []struct {
		status   PhaseStatus
		expected bool
	}{
		{PhaseStatusPending, true},
		{PhaseStatusFailed, true},
		{PhaseStatusInProgress, false},
		{PhaseStatusCompleted, false},
		{PhaseStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if result := tt.status.IsRunnable(); result != tt.expected {
				t.Errorf("Expected IsRunnable() = %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestPhaseStatusCanTransitionTo verifies the phase state machine
func TestPhaseStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     PhaseStatus
		to       PhaseStatus
		expected bool
	}{
		{"pending to in_progress", PhaseStatusPending, PhaseStatusInProgress, true},
		{"pending to completed", PhaseStatusPending, PhaseStatusCompleted, false},
		{"in_progress to completed", PhaseStatusInProgress, PhaseStatusCompleted, true},
		{"in_progress to failed", PhaseStatusInProgress, PhaseStatusFailed, true},
		{"in_progress to pending (interrupt)", PhaseStatusInProgress, PhaseStatusPending, true},
		{"completed to approved", PhaseStatusCompleted, PhaseStatusApproved, true},
		{"completed to failed", PhaseStatusCompleted, PhaseStatusFailed, false},
		{"failed to pending (retry)", PhaseStatusFailed, PhaseStatusPending, true},
		{"failed to approved", PhaseStatusFailed, PhaseStatusApproved, false},
		{"approved to completed (revoked)", PhaseStatusApproved, PhaseStatusCompleted, true},
		{"unknown from", PhaseStatus("bogus"), PhaseStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.from.CanTransitionTo(tt.to); result != tt.expected {
				t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.expected, result)
			}
		})
	}
}

// TestParsePhaseStatus verifies parsing of user input
func TestParsePhaseStatus(t *testing.T) {
	status, err := ParsePhaseStatus("approved")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != PhaseStatusApproved {
		t.Errorf("Expected approved, got %s", status)
	}

	if _, err := ParsePhaseStatus("done"); !IsInvalidStatus(err) {
		t.Errorf("Expected invalid status error, got %v", err)
	}
}

// TestOverallStatusIsValid verifies the overall status set
func TestOverallStatusIsValid(t *testing.T) {
	for _, s := range []OverallStatus{OverallPending, OverallInProgress, OverallCompleted, OverallInterrupted} {
		if !s.IsValid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if OverallStatus("halted").IsValid() {
		t.Error("halted is an outcome, not a persisted status")
	}
}

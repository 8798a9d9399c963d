package execution

// PhaseStatus represents the lifecycle status of a single phase
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"     // Not started, or re-queued for retry
	PhaseStatusInProgress PhaseStatus = "in_progress" // Executor running
	PhaseStatusCompleted  PhaseStatus = "completed"   // Executor returned without error
	PhaseStatusFailed     PhaseStatus = "failed"      // Executor failed
	PhaseStatusApproved   PhaseStatus = "approved"    // Completed and success criteria met
)

// String returns the string representation of the status
func (s PhaseStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the known values
func (s PhaseStatus) IsValid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusApproved:
		return true
	default:
		return false
	}
}

// IsDone returns true if the phase satisfies dependents (completed or approved)
func (s PhaseStatus) IsDone() bool {
	return s == PhaseStatusCompleted || s == PhaseStatusApproved
}

// IsRunnable returns true if the phase may be picked up for execution
func (s PhaseStatus) IsRunnable() bool {
	return s == PhaseStatusPending || s == PhaseStatusFailed
}

// CanTransitionTo checks if transition to another status follows the phase state machine
func (s PhaseStatus) CanTransitionTo(next PhaseStatus) bool {
	validTransitions := map[PhaseStatus][]PhaseStatus{
		PhaseStatusPending:    {PhaseStatusInProgress},
		PhaseStatusInProgress: {PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusPending},
		PhaseStatusCompleted:  {PhaseStatusApproved},
		PhaseStatusFailed:     {PhaseStatusPending},
		PhaseStatusApproved:   {PhaseStatusCompleted},
	}

	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, validNext := range allowed {
		if validNext == next {
			return true
		}
	}

	return false
}

// ParsePhaseStatus parses a user supplied status string
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	status := PhaseStatus(s)
	if !status.IsValid() {
		return "", ErrInvalidStatus.WithDetails(map[string]interface{}{"status": s})
	}
	return status, nil
}

// OverallStatus represents the status of the whole execution
type OverallStatus string

const (
	OverallPending     OverallStatus = "pending"
	OverallInProgress  OverallStatus = "in_progress"
	OverallCompleted   OverallStatus = "completed"
	OverallInterrupted OverallStatus = "interrupted"
)

// String returns the string representation of the status
func (s OverallStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the known values
func (s OverallStatus) IsValid() bool {
	switch s {
	case OverallPending, OverallInProgress, OverallCompleted, OverallInterrupted:
		return true
	default:
		return false
	}
}

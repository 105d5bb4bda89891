package memory

// --- Forward-only lifecycle for decisions ---
//
// status:  proposed → implemented
// outcome: unknown  → successful | failed
//
// Setting a field to its current value is allowed and changes nothing.

// CanTransitionStatus reports whether status may move from one value to another.
func CanTransitionStatus(from, to Status) bool {
	if from == to {
		return true
	}
	return from == StatusProposed && to == StatusImplemented
}

// CanTransitionOutcome reports whether outcome may move from one value to another.
func CanTransitionOutcome(from, to Outcome) bool {
	if from == to {
		return true
	}
	return from == OutcomeUnknown && (to == OutcomeSuccessful || to == OutcomeFailed)
}

// checkTransition validates a requested update against the current record.
// Empty values mean "leave unchanged".
func checkTransition(rec *DecisionRecord, status Status, outcome Outcome) error {
	if status != "" {
		if !validStatuses[status] {
			return &ValidationError{Field: "status", Reason: "must be proposed or implemented"}
		}
		if !CanTransitionStatus(rec.Status, status) {
			return &InvalidTransitionError{ID: rec.ID, Field: "status", From: string(rec.Status), To: string(status)}
		}
	}
	if outcome != "" {
		if !validOutcomes[outcome] {
			return &ValidationError{Field: "outcome", Reason: "must be unknown, successful or failed"}
		}
		if !CanTransitionOutcome(rec.Outcome, outcome) {
			return &InvalidTransitionError{ID: rec.ID, Field: "outcome", From: string(rec.Outcome), To: string(outcome)}
		}
	}
	return nil
}

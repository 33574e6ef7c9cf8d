package gov

// Outcome is the terminal status for a final tally. Ties do not approve.
//
// Both local finalization and chain reconciliation call this; they must never
// disagree on the result for the same counts.
func Outcome(yes, no uint64) Status {
	if yes > no {
		return StatusApproved
	}
	return StatusRejected
}

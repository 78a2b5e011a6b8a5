// Package milestone decides when an insight for a growing collection of
// journal entries may be regenerated. Regeneration is gated on entry-count
// checkpoints (3, 6, 9, ...) so the expensive summarization call runs at
// most once per checkpoint.
package milestone

import "fmt"

// Step is the distance between two consecutive milestones. The first
// milestone is also Step.
const Step = 3

// Compute returns the milestone an entry count belongs to: Step for counts
// below Step, the count itself when it sits on a milestone, and otherwise
// the next multiple of Step above it.
func Compute(entryCount int) int {
	if entryCount < Step {
		return Step
	}

	if entryCount%Step == 0 {
		return entryCount
	}

	return (entryCount/Step + 1) * Step
}

// IsAt reports whether the entry count is exactly on a milestone.
func IsAt(entryCount int) bool {
	return entryCount >= Step && entryCount%Step == 0
}

// Next returns the first milestone strictly greater than entryCount, or Step
// when fewer than Step entries exist.
func Next(entryCount int) int {
	if entryCount < Step {
		return Step
	}

	return (entryCount/Step + 1) * Step
}

// Action is the outcome of Decide.
type Action uint8

const (
	// AwaitMore means no insight can be produced yet; more entries are
	// needed before the next milestone is reached.
	AwaitMore Action = iota

	// UseCurrent means the current record should be returned as is.
	UseCurrent

	// Generate means a new insight should be generated for the current
	// milestone.
	Generate
)

// String returns a human readable name for the action.
func (a Action) String() string {
	switch a {
	case AwaitMore:
		return "await_more"
	case UseCurrent:
		return "use_current"
	case Generate:
		return "generate"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Decision is the result of evaluating the policy for an entry count.
type Decision struct {
	// Action is what the caller should do.
	Action Action

	// EntriesNeeded is the number of additional entries required before
	// the next milestone. Only meaningful for AwaitMore.
	EntriesNeeded int

	// Milestone is the milestone the entry count belongs to.
	Milestone int
}

// Decide evaluates the policy for the live entry count. currentMilestone is
// the milestone of the record currently held for the user, and hasCurrent
// reports whether such a record exists at all.
func Decide(entryCount int, currentMilestone int, hasCurrent bool) Decision {
	target := Compute(entryCount)

	switch {
	case entryCount < Step:
		return Decision{
			Action:        AwaitMore,
			EntriesNeeded: Step - entryCount,
			Milestone:     target,
		}

	case !IsAt(entryCount):
		if hasCurrent {
			return Decision{Action: UseCurrent, Milestone: target}
		}

		return Decision{
			Action:        AwaitMore,
			EntriesNeeded: Next(entryCount) - entryCount,
			Milestone:     target,
		}

	case hasCurrent && currentMilestone == target:
		return Decision{Action: UseCurrent, Milestone: target}

	default:
		return Decision{Action: Generate, Milestone: target}
	}
}

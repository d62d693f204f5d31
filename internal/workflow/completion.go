package workflow

import (
	"strings"

	"github.com/BearBump/DispatchBox/internal/models"
)

// Missing-requirement categories for completion.
const (
	MissingState       = "state"
	MissingOdometer    = "odometer"
	MissingDescription = "description"
	MissingCheckpoints = "checkpoints"
)

type MissingRequirement struct {
	Category string
	// State is the current lifecycle state, set for the "state" category.
	State string
	// Checkpoints lists the absent kinds, set for the "checkpoints" category.
	Checkpoints []string
}

type Eligibility struct {
	Eligible bool
	Missing  []MissingRequirement
	// IntegrityMismatch is set when the state claims BACK_HOME but the
	// calendar is incomplete. The state machine never produces that
	// combination, so the persisted state and calendar have diverged.
	IntegrityMismatch bool
}

// CheckCompletion decides whether a ticket may move from BACK_HOME to
// COMPLETED. It reports every missing requirement, not just the first, and it
// checks the calendar independently instead of trusting the state label.
// description must be the effective one: a description supplied with the
// completion request takes precedence over the stored one.
func CheckCompletion(state string, odoStart, odoEnd *int64, description string, cal Calendar) Eligibility {
	var out Eligibility

	if state != models.StateBackHome {
		out.Missing = append(out.Missing, MissingRequirement{Category: MissingState, State: state})
	}
	if odoStart == nil || odoEnd == nil {
		out.Missing = append(out.Missing, MissingRequirement{Category: MissingOdometer})
	}
	if strings.TrimSpace(description) == "" {
		out.Missing = append(out.Missing, MissingRequirement{Category: MissingDescription})
	}
	if missing := cal.Missing(); len(missing) > 0 {
		out.Missing = append(out.Missing, MissingRequirement{Category: MissingCheckpoints, Checkpoints: missing})
		if state == models.StateBackHome {
			out.IntegrityMismatch = true
		}
	}

	out.Eligible = len(out.Missing) == 0
	return out
}

package workflow

import (
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

// Outcome of submitting a checkpoint event against the state machine.
const (
	OutcomeRecorded        = "RECORDED"
	OutcomeAlreadyRecorded = "ALREADY_RECORDED"
	OutcomeRejected        = "REJECTED"
)

// Rejection codes (closed set; callers switch on these, not on messages).
const (
	ReasonUnknownCheckpoint = "UNKNOWN_CHECKPOINT"
	ReasonIllegalTransition = "ILLEGAL_TRANSITION"
)

type Rejection struct {
	Code  string
	Event string
	State string
	// NextEvent is the single event that would be legal from State, empty
	// once no checkpoint event can follow (BACK_HOME, COMPLETED).
	NextEvent string
}

type Decision struct {
	Outcome  string
	NewState string // set when Outcome is RECORDED
	// RecordedAt is the timestamp to store for a newly recorded event, or the
	// previously stored one for ALREADY_RECORDED.
	RecordedAt time.Time
	// ViaWarehouseLeft is set when start_site advanced the ticket through the
	// intermediate WAREHOUSE_LEFT state in the same step.
	ViaWarehouseLeft bool
	Rejection        *Rejection
}

type transition struct {
	from  string
	event string
}

// The canonical one-hop transitions. The two irregular cases (implicit
// warehouse departure on start_site, and back_home after the return leg) are
// predicate checks in Decide, deliberately not extra rows or extra states.
var transitions = map[transition]string{
	{models.StateCreated, models.CheckpointLeaveHome}:        models.StateLeftHome,
	{models.StateLeftHome, models.CheckpointReachWarehouse}:  models.StateWarehouseArrived,
	{models.StateWarehouseLeft, models.CheckpointStartSite}:  models.StateSiteArrived,
	{models.StateSiteArrived, models.CheckpointLeaveSite}:    models.StateSiteLeft,
	{models.StateSiteLeft, models.CheckpointReturnWarehouse}: models.StateWarehouseArrived,
}

// Decide resolves one checkpoint event against the current lifecycle state and
// the ticket's calendar. It is a pure function: the calendar is only read, and
// applying the decision (storing the checkpoint, advancing the state) is the
// caller's job so that both can happen atomically with rollback.
//
// now is the server-assigned timestamp used when the event is newly recorded.
func Decide(state, event string, cal Calendar, now time.Time) Decision {
	// Unknown kinds are caller bugs or malformed input; rejected before any
	// state inspection.
	if !KnownKind(event) {
		return Decision{
			Outcome:   OutcomeRejected,
			Rejection: &Rejection{Code: ReasonUnknownCheckpoint, Event: event},
		}
	}

	// Duplicate submission of an event the workflow already advanced past
	// (retried network request): no-op, keep the original timestamp.
	if prev, ok := cal.Get(event); ok {
		return Decision{Outcome: OutcomeAlreadyRecorded, RecordedAt: prev}
	}

	// Irregular case 1: start_site from WAREHOUSE_ARRIVED. There is no
	// explicit "leave warehouse" punch, so accepting start_site advances
	// through WAREHOUSE_LEFT and lands on SITE_ARRIVED in one step.
	if event == models.CheckpointStartSite && state == models.StateWarehouseArrived {
		return Decision{
			Outcome:          OutcomeRecorded,
			NewState:         models.StateSiteArrived,
			RecordedAt:       now,
			ViaWarehouseLeft: true,
		}
	}

	// Irregular case 2: back_home from WAREHOUSE_ARRIVED, legal only on the
	// return leg. The state space reuses WAREHOUSE_ARRIVED for both arrivals;
	// a recorded back_wh punch is what tells them apart.
	if event == models.CheckpointReturnHome && state == models.StateWarehouseArrived {
		if cal.Has(models.CheckpointReturnWarehouse) {
			return Decision{
				Outcome:    OutcomeRecorded,
				NewState:   models.StateBackHome,
				RecordedAt: now,
			}
		}
		return reject(state, event, cal)
	}

	if next, ok := transitions[transition{from: state, event: event}]; ok {
		return Decision{Outcome: OutcomeRecorded, NewState: next, RecordedAt: now}
	}

	return reject(state, event, cal)
}

func reject(state, event string, cal Calendar) Decision {
	return Decision{
		Outcome: OutcomeRejected,
		Rejection: &Rejection{
			Code:      ReasonIllegalTransition,
			Event:     event,
			State:     state,
			NextEvent: NextEvent(state, cal),
		},
	}
}

// NextEvent returns the single checkpoint event that is legal from state, or
// "" when none is (from BACK_HOME only completion may follow, and a completed
// ticket accepts nothing).
func NextEvent(state string, cal Calendar) string {
	switch state {
	case models.StateCreated:
		return models.CheckpointLeaveHome
	case models.StateLeftHome:
		return models.CheckpointReachWarehouse
	case models.StateWarehouseArrived:
		if cal.Has(models.CheckpointReturnWarehouse) {
			return models.CheckpointReturnHome
		}
		return models.CheckpointStartSite
	case models.StateWarehouseLeft:
		return models.CheckpointStartSite
	case models.StateSiteArrived:
		return models.CheckpointLeaveSite
	case models.StateSiteLeft:
		return models.CheckpointReturnWarehouse
	default:
		return ""
	}
}

package workflow

import (
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

// KindOrder lists the six checkpoint kinds in canonical path order.
var KindOrder = []string{
	models.CheckpointLeaveHome,
	models.CheckpointReachWarehouse,
	models.CheckpointStartSite,
	models.CheckpointLeaveSite,
	models.CheckpointReturnWarehouse,
	models.CheckpointReturnHome,
}

func KnownKind(kind string) bool {
	for _, k := range KindOrder {
		if k == kind {
			return true
		}
	}
	return false
}

// Calendar holds the checkpoints recorded so far for one ticket, at most one
// timestamp per kind. A kind that is present never goes back to absent and its
// timestamp never changes through this type.
type Calendar map[string]time.Time

func CalendarFromCheckpoints(cps []*models.Checkpoint) Calendar {
	cal := make(Calendar, len(cps))
	for _, cp := range cps {
		if _, ok := cal[cp.Kind]; ok {
			continue
		}
		cal[cp.Kind] = cp.RecordedAt
	}
	return cal
}

func (c Calendar) Has(kind string) bool {
	_, ok := c[kind]
	return ok
}

func (c Calendar) Get(kind string) (time.Time, bool) {
	ts, ok := c[kind]
	return ts, ok
}

// Record stores ts for kind. If the kind is already present this is a no-op:
// the previously stored timestamp is returned and recorded is false.
func (c Calendar) Record(kind string, ts time.Time) (time.Time, bool) {
	if prev, ok := c[kind]; ok {
		return prev, false
	}
	c[kind] = ts
	return ts, true
}

// Missing returns the absent kinds in canonical order.
func (c Calendar) Missing() []string {
	var out []string
	for _, k := range KindOrder {
		if !c.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (c Calendar) Complete() bool {
	return len(c.Missing()) == 0
}

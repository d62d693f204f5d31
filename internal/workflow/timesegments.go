package workflow

import (
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

// TimeSegments are the payroll-relevant durations derived from a calendar
// snapshot. A duration is nil unless both endpoint checkpoints are present;
// nil is distinguishable from a zero-length interval.
type TimeSegments struct {
	HomeToWarehouse *time.Duration
	WarehouseToSite *time.Duration
	OnSite          *time.Duration
	SiteToWarehouse *time.Duration
	WarehouseToHome *time.Duration

	TotalTravel  *time.Duration
	TotalWork    *time.Duration
	TotalElapsed *time.Duration

	// Anomalies names segments that came out negative. Checkpoints are
	// recorded in increasing order by the state machine, so a negative span
	// means the persisted timestamps are out of order; the value is kept as
	// is, never clamped.
	Anomalies []string
}

// Segments computes the six intervals and three aggregates from cal. Read
// only, never fails: absent inputs simply produce absent outputs.
func Segments(cal Calendar) TimeSegments {
	var seg TimeSegments

	seg.HomeToWarehouse = span(cal, models.CheckpointLeaveHome, models.CheckpointReachWarehouse, "homeToWarehouse", &seg)
	// There is no "left warehouse" punch: the outbound departure instant is by
	// definition the warehouse-arrival instant for this one interval.
	seg.WarehouseToSite = span(cal, models.CheckpointReachWarehouse, models.CheckpointStartSite, "warehouseToSite", &seg)
	seg.OnSite = span(cal, models.CheckpointStartSite, models.CheckpointLeaveSite, "onSite", &seg)
	seg.SiteToWarehouse = span(cal, models.CheckpointLeaveSite, models.CheckpointReturnWarehouse, "siteToWarehouse", &seg)
	seg.WarehouseToHome = span(cal, models.CheckpointReturnWarehouse, models.CheckpointReturnHome, "warehouseToHome", &seg)

	// Pay travel time sums only the legs that are present; all absent means
	// the total itself is absent.
	var travel time.Duration
	travelPresent := false
	for _, leg := range []*time.Duration{seg.HomeToWarehouse, seg.WarehouseToSite, seg.SiteToWarehouse, seg.WarehouseToHome} {
		if leg != nil {
			travel += *leg
			travelPresent = true
		}
	}
	if travelPresent {
		seg.TotalTravel = &travel
	}

	if seg.OnSite != nil {
		work := *seg.OnSite
		seg.TotalWork = &work
	}

	seg.TotalElapsed = span(cal, models.CheckpointLeaveHome, models.CheckpointReturnHome, "totalElapsed", &seg)

	return seg
}

func span(cal Calendar, fromKind, toKind, name string, seg *TimeSegments) *time.Duration {
	from, ok := cal.Get(fromKind)
	if !ok {
		return nil
	}
	to, ok := cal.Get(toKind)
	if !ok {
		return nil
	}
	d := to.Sub(from)
	if d < 0 {
		seg.Anomalies = append(seg.Anomalies, name)
	}
	return &d
}

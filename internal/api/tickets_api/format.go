package tickets_api

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/workflow"
)

type segmentPayload struct {
	MS        *int64 `json:"ms"`
	Formatted string `json:"formatted"`
	Detailed  string `json:"detailed"`
}

type timesheetPayload struct {
	HomeToWarehouse segmentPayload `json:"travel_home_to_warehouse"`
	WarehouseToSite segmentPayload `json:"travel_warehouse_to_site"`
	OnSite          segmentPayload `json:"work_time_on_site"`
	SiteToWarehouse segmentPayload `json:"travel_site_to_warehouse"`
	WarehouseToHome segmentPayload `json:"travel_warehouse_to_home"`
	TotalTravel     segmentPayload `json:"total_travel_time"`
	TotalWork       segmentPayload `json:"total_work_time"`
	TotalElapsed    segmentPayload `json:"total_time"`
	Anomalies       []string       `json:"anomalies,omitempty"`
}

func toTimesheetPayload(seg workflow.TimeSegments) timesheetPayload {
	return timesheetPayload{
		HomeToWarehouse: toSegmentPayload(seg.HomeToWarehouse),
		WarehouseToSite: toSegmentPayload(seg.WarehouseToSite),
		OnSite:          toSegmentPayload(seg.OnSite),
		SiteToWarehouse: toSegmentPayload(seg.SiteToWarehouse),
		WarehouseToHome: toSegmentPayload(seg.WarehouseToHome),
		TotalTravel:     toSegmentPayload(seg.TotalTravel),
		TotalWork:       toSegmentPayload(seg.TotalWork),
		TotalElapsed:    toSegmentPayload(seg.TotalElapsed),
		Anomalies:       seg.Anomalies,
	}
}

func toSegmentPayload(d *time.Duration) segmentPayload {
	if d == nil {
		return segmentPayload{Formatted: "-", Detailed: "-"}
	}
	v := d.Milliseconds()
	return segmentPayload{
		MS:        &v,
		Formatted: formatDuration(*d),
		Detailed:  formatDurationDetailed(*d),
	}
}

// formatDuration renders "1h 30m"; sub-minute durations render as "0m".
func formatDuration(d time.Duration) string {
	total := int64(d / time.Minute)
	h := total / 60
	m := total % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// formatDurationDetailed keeps the seconds, for short spans on the timesheet.
func formatDurationDetailed(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

package models

import "time"

// Checkpoint kinds in canonical path order. The string values are the punch
// types the mobile app sends.
const (
	CheckpointLeaveHome       = "leave_home"
	CheckpointReachWarehouse  = "reach_wh"
	CheckpointStartSite       = "start_site"
	CheckpointLeaveSite       = "leave_site"
	CheckpointReturnWarehouse = "back_wh"
	CheckpointReturnHome      = "back_home"
)

// Ticket lifecycle states in canonical path order.
const (
	StateCreated          = "CREATED"
	StateLeftHome         = "LEFT_HOME"
	StateWarehouseArrived = "WAREHOUSE_ARRIVED"
	StateWarehouseLeft    = "WAREHOUSE_LEFT"
	StateSiteArrived      = "SITE_ARRIVED"
	StateSiteLeft         = "SITE_LEFT"
	StateBackHome         = "BACK_HOME"
	StateCompleted        = "COMPLETED"
)

type Ticket struct {
	ID          uint64
	ClientName  string
	SiteName    string
	SiteAddress string
	Purpose     *string
	Status      string
	OdoStart    *int64
	OdoEnd      *int64
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Checkpoint is one recorded punch. (ticket_id, kind) is unique: a kind is
// recorded at most once per ticket and its timestamp never changes afterwards.
type Checkpoint struct {
	TicketID   uint64
	Kind       string
	RecordedAt time.Time
}

type TicketCreateInput struct {
	ClientName  string
	SiteName    string
	SiteAddress string
	Purpose     *string
}

// PayrollEntry is the per-ticket aggregate the payroll worker derives from the
// checkpoint timestamps of a completed ticket. Durations are milliseconds;
// nil means the underlying checkpoints were absent.
type PayrollEntry struct {
	TicketID   uint64
	TravelMS   *int64
	WorkMS     *int64
	ElapsedMS  *int64
	ComputedAt time.Time
}

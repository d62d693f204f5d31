package messages

import "time"

// Topics are configured, these are the payloads.

// TicketCheckpointed is published after every newly recorded punch.
type TicketCheckpointed struct {
	TicketID   uint64    `json:"ticket_id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
	NewState   string    `json:"new_state"`
}

type CheckpointStamp struct {
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TicketCompleted is published once a ticket reaches COMPLETED. It carries the
// whole checkpoint set so the payroll worker can derive durations without a
// read back into the tickets database.
type TicketCompleted struct {
	TicketID    uint64            `json:"ticket_id"`
	CompletedAt time.Time         `json:"completed_at"`
	OdoStart    *int64            `json:"odo_start,omitempty"`
	OdoEnd      *int64            `json:"odo_end,omitempty"`
	Checkpoints []CheckpointStamp `json:"checkpoints"`
}

package payroll

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

type Repository interface {
	UpsertPayrollEntry(ctx context.Context, e models.PayrollEntry) error
}

// Recorder turns ticket.completed messages into stored payroll aggregates.
type Recorder struct {
	repo Repository

	startedAtUnixNano int64
	totalConsumed     atomic.Int64
	totalStored       atomic.Int64
	totalAnomalies    atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository) *Recorder {
	return &Recorder{
		repo:              repo,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

type Stats struct {
	StartedAt      time.Time `json:"startedAt"`
	TotalConsumed  int64     `json:"totalConsumed"`
	TotalStored    int64     `json:"totalStored"`
	TotalAnomalies int64     `json:"totalAnomalies"`
	TotalErrors    int64     `json:"totalErrors"`
	LastError      string    `json:"lastError,omitempty"`
}

func (r *Recorder) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalConsumed:  r.totalConsumed.Load(),
		TotalStored:    r.totalStored.Load(),
		TotalAnomalies: r.totalAnomalies.Load(),
		TotalErrors:    r.totalErrors.Load(),
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// Handle is the kafka consumer handler. A malformed message or an integrity
// anomaly is logged and dropped (returning an error would wedge the consumer
// on a poison message); storage errors propagate so the offset is not
// committed and delivery retries.
func (r *Recorder) Handle(ctx context.Context, value []byte) error {
	r.totalConsumed.Add(1)

	var msg messages.TicketCompleted
	if err := json.Unmarshal(value, &msg); err != nil {
		r.fail(errors.Wrap(err, "unmarshal ticket completed"))
		return nil
	}
	if msg.TicketID == 0 {
		r.fail(errors.New("ticket_id is missing"))
		return nil
	}

	cal := workflow.Calendar{}
	for _, cp := range msg.Checkpoints {
		cal.Record(cp.Kind, cp.RecordedAt)
	}
	seg := workflow.Segments(cal)

	// Negative spans mean the producer's persisted timestamps are out of
	// order. That is an integrity problem to surface, not payroll data.
	if len(seg.Anomalies) > 0 {
		r.totalAnomalies.Add(1)
		slog.Error("negative time segments, payroll entry not stored",
			"ticket_id", msg.TicketID, "anomalies", seg.Anomalies)
		return nil
	}

	e := models.PayrollEntry{
		TicketID:   msg.TicketID,
		TravelMS:   ms(seg.TotalTravel),
		WorkMS:     ms(seg.TotalWork),
		ElapsedMS:  ms(seg.TotalElapsed),
		ComputedAt: time.Now().UTC(),
	}
	if err := r.repo.UpsertPayrollEntry(ctx, e); err != nil {
		r.fail(err)
		return err
	}

	r.totalStored.Add(1)
	slog.Info("payroll entry stored", "ticket_id", msg.TicketID)
	return nil
}

func (r *Recorder) fail(err error) {
	r.totalErrors.Add(1)
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
	slog.Error("payroll recorder", "error", err.Error())
}

func ms(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	v := d.Milliseconds()
	return &v
}

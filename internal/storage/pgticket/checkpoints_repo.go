package pgticket

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

type checkpointQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listCheckpoints(ctx context.Context, q checkpointQuerier, ticketID uint64) ([]*models.Checkpoint, error) {
	rows, err := q.Query(ctx, `
SELECT ticket_id, kind, recorded_at
FROM ticket_checkpoints
WHERE ticket_id = $1
ORDER BY recorded_at ASC
`, ticketID)
	if err != nil {
		return nil, errors.Wrap(err, "select checkpoints")
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.TicketID, &cp.Kind, &cp.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		out = append(out, &cp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListCheckpoints(ctx context.Context, ticketID uint64) ([]*models.Checkpoint, error) {
	return listCheckpoints(ctx, s.db, ticketID)
}

type CheckpointResult struct {
	Decision workflow.Decision
	Ticket   *models.Ticket // ticket as of after the call
}

// ApplyCheckpoint records one punch for a ticket. The ticket row is locked
// FOR UPDATE, which serializes concurrent punches on the same ticket: exactly
// one of two racing duplicates sees "newly recorded", the other takes the
// idempotent no-op path. The checkpoint insert and the state advance share the
// transaction, so a failed advance rolls the insert back and the calendar
// never disagrees with the lifecycle state.
//
// odoValue, when present, is captured as odo_start on leave_home and as
// odo_end on back_home, matching what the field app sends with those punches.
func (s *Storage) ApplyCheckpoint(ctx context.Context, ticketID uint64, kind string, now time.Time, odoValue *int64) (*CheckpointResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTicket(tx.QueryRow(ctx, `SELECT`+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, ticketID))
	if err != nil {
		return nil, err
	}

	cps, err := listCheckpoints(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}

	d := workflow.Decide(t.Status, kind, workflow.CalendarFromCheckpoints(cps), now.UTC())
	res := &CheckpointResult{Decision: d, Ticket: t}
	if d.Outcome != workflow.OutcomeRecorded {
		return res, nil
	}

	_, err = tx.Exec(ctx, `
INSERT INTO ticket_checkpoints (ticket_id, kind, recorded_at)
VALUES ($1,$2,$3)
`, ticketID, kind, d.RecordedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert checkpoint")
	}

	// start_site from the warehouse advances through WAREHOUSE_LEFT first, so
	// an audit of the row's history shows the departure even though there is
	// no punch for it.
	if d.ViaWarehouseLeft {
		_, err = tx.Exec(ctx, `UPDATE tickets SET ticket_status = $2, updated_at = now() WHERE id = $1`,
			ticketID, models.StateWarehouseLeft)
		if err != nil {
			return nil, errors.Wrap(err, "update ticket state (warehouse left)")
		}
	}

	_, err = tx.Exec(ctx, `UPDATE tickets SET ticket_status = $2, updated_at = now() WHERE id = $1`,
		ticketID, d.NewState)
	if err != nil {
		return nil, errors.Wrap(err, "update ticket state")
	}
	t.Status = d.NewState

	if odoValue != nil && *odoValue >= 0 {
		switch kind {
		case models.CheckpointLeaveHome:
			_, err = tx.Exec(ctx, `UPDATE tickets SET odo_start = $2, updated_at = now() WHERE id = $1`, ticketID, *odoValue)
			t.OdoStart = odoValue
		case models.CheckpointReturnHome:
			_, err = tx.Exec(ctx, `UPDATE tickets SET odo_end = $2, updated_at = now() WHERE id = $1`, ticketID, *odoValue)
			t.OdoEnd = odoValue
		}
		if err != nil {
			return nil, errors.Wrap(err, "capture odometer")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

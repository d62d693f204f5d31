package pgticket

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/models"
)

var ErrPayrollNotFound = errors.New("payroll entry not found")

// UpsertPayrollEntry stores the derived aggregates for a completed ticket.
// Re-delivered kafka messages recompute the same values, so overwrite is safe.
func (s *Storage) UpsertPayrollEntry(ctx context.Context, e models.PayrollEntry) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO payroll_entries (ticket_id, travel_ms, work_ms, elapsed_ms, computed_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (ticket_id)
DO UPDATE SET travel_ms = $2, work_ms = $3, elapsed_ms = $4, computed_at = $5
`, e.TicketID, e.TravelMS, e.WorkMS, e.ElapsedMS, e.ComputedAt.UTC())
	return errors.Wrap(err, "upsert payroll entry")
}

func (s *Storage) GetPayrollEntry(ctx context.Context, ticketID uint64) (*models.PayrollEntry, error) {
	var e models.PayrollEntry
	err := s.db.QueryRow(ctx, `
SELECT ticket_id, travel_ms, work_ms, elapsed_ms, computed_at
FROM payroll_entries
WHERE ticket_id = $1
`, ticketID).Scan(&e.TicketID, &e.TravelMS, &e.WorkMS, &e.ElapsedMS, &e.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPayrollNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select payroll entry")
	}
	return &e, nil
}

package pgticket

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

const ticketColumns = `
  id, client_name, site_name, site_address, purpose,
  ticket_status, odo_start, odo_end, description,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID, &t.ClientName, &t.SiteName, &t.SiteAddress, &t.Purpose,
		&t.Status, &t.OdoStart, &t.OdoEnd, &t.Description,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan ticket")
	}
	return &t, nil
}

func (s *Storage) CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
INSERT INTO tickets (
  client_name, site_name, site_address, purpose, ticket_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING`+ticketColumns,
		in.ClientName, in.SiteName, in.SiteAddress, in.Purpose, models.StateCreated, now)
	return scanTicket(row)
}

func (s *Storage) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT`+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

// UpdateOdometer sets either odometer value, keeping the other. Completed
// tickets are immutable; end >= start is enforced against the values the
// ticket ends up with, not just the ones in the request.
func (s *Storage) UpdateOdometer(ctx context.Context, id uint64, odoStart, odoEnd *int64) (*models.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTicket(tx.QueryRow(ctx, `SELECT`+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if t.Status == models.StateCompleted {
		return nil, ErrTicketCompleted
	}

	if odoStart != nil {
		t.OdoStart = odoStart
	}
	if odoEnd != nil {
		t.OdoEnd = odoEnd
	}
	if t.OdoStart != nil && t.OdoEnd != nil && *t.OdoEnd < *t.OdoStart {
		return nil, ErrOdometerOrder
	}

	row := tx.QueryRow(ctx, `
UPDATE tickets
SET odo_start = $2, odo_end = $3, updated_at = now()
WHERE id = $1
RETURNING`+ticketColumns, id, t.OdoStart, t.OdoEnd)
	t, err = scanTicket(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return t, nil
}

type CompletionResult struct {
	Eligibility workflow.Eligibility
	Ticket      *models.Ticket
	Checkpoints []*models.Checkpoint
}

// CompleteTicket runs the completion validator against the locked ticket row
// and its checkpoints, and performs the terminal transition only when
// eligible. An ineligible result is not an error: the caller gets the full
// missing list.
func (s *Storage) CompleteTicket(ctx context.Context, id uint64, description *string) (*CompletionResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTicket(tx.QueryRow(ctx, `SELECT`+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	cps, err := listCheckpoints(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	// Description supplied with the request wins over the stored one.
	effective := ""
	if t.Description != nil {
		effective = *t.Description
	}
	if description != nil {
		effective = *description
	}

	elig := workflow.CheckCompletion(t.Status, t.OdoStart, t.OdoEnd, effective, workflow.CalendarFromCheckpoints(cps))
	res := &CompletionResult{Eligibility: elig, Ticket: t, Checkpoints: cps}
	if !elig.Eligible {
		return res, nil
	}

	row := tx.QueryRow(ctx, `
UPDATE tickets
SET ticket_status = $2, description = COALESCE($3, description), updated_at = now()
WHERE id = $1
RETURNING`+ticketColumns, id, models.StateCompleted, description)
	res.Ticket, err = scanTicket(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

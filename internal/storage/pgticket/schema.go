package pgticket

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tickets (
  id BIGSERIAL PRIMARY KEY,
  client_name TEXT NOT NULL,
  site_name TEXT NOT NULL,
  site_address TEXT NOT NULL,
  purpose TEXT NULL,
  ticket_status TEXT NOT NULL,
  odo_start BIGINT NULL CHECK (odo_start >= 0),
  odo_end BIGINT NULL CHECK (odo_end >= 0),
  description TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(ticket_status)`,
		// One timestamp per (ticket, kind); the primary key is what makes the
		// punch insert a natural idempotent upsert target.
		`
CREATE TABLE IF NOT EXISTS ticket_checkpoints (
  ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (ticket_id, kind)
)`,
		`
CREATE TABLE IF NOT EXISTS payroll_entries (
  ticket_id BIGINT PRIMARY KEY REFERENCES tickets(id) ON DELETE CASCADE,
  travel_ms BIGINT NULL,
  work_ms BIGINT NULL,
  elapsed_ms BIGINT NULL,
  computed_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

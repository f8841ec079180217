package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          UUID PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'pending',
	driver_id   UUID,
	assigned_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS orders_driver_status_idx
	ON orders (driver_id, status);
`

// Migrate creates the orders table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.connectionPool.Exec(ctx, schema)
	return err
}

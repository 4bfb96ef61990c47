package store

import (
	"context"
	"fmt"
)

// UpsertGroup creates the group on first ingestion and bumps
// last_ingestion_at on every subsequent one. Last writer wins on the
// timestamp, which is fine: concurrent runs for one group converge on the
// same group row by construction of the id.
func (s *Store) UpsertGroup(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, name, last_ingestion_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET last_ingestion_at = now()`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("upsert group %s: %w", id, err)
	}
	return nil
}

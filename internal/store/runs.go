package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateRun inserts the run record at submission time, state Received.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_runs (id, state, archive_name, started_at)
		VALUES ($1, $2, $3, $4)`,
		r.ID, r.State, r.ArchiveName, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRunState records a stage transition.
func (s *Store) UpdateRunState(ctx context.Context, id uuid.UUID, state string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs SET state = $1 WHERE id = $2`,
		state, id,
	)
	if err != nil {
		return fmt.Errorf("update run %s state: %w", id, err)
	}
	return nil
}

// FinishRun writes the terminal record: state, counts, warnings, and failure
// detail if any.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs
		SET state = $1, group_id = $2, group_name = $3,
		    message_count = $4, media_count = $5, warnings = $6,
		    error = $7, finished_at = now()
		WHERE id = $8`,
		r.State, nilIfEmpty(r.GroupID), nilIfEmpty(r.GroupName),
		r.MessageCount, r.MediaCount, warnings,
		errText, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var r Run
	var groupID, groupName, errText *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, state, archive_name, group_id, group_name,
		       message_count, media_count, warnings, error,
		       started_at, finished_at
		FROM ingestion_runs WHERE id = $1`, id).Scan(
		&r.ID, &r.State, &r.ArchiveName, &groupID, &groupName,
		&r.MessageCount, &r.MediaCount, &r.Warnings, &errText,
		&r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if groupID != nil {
		r.GroupID = *groupID
	}
	if groupName != nil {
		r.GroupName = *groupName
	}
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

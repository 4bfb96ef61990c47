package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInvariantViolation means a message id collided with an existing row
// whose content differs. Identity is content-derived, so this should never
// happen; when it does it is surfaced loudly, never silently overwritten.
var ErrInvariantViolation = errors.New("message id collision with divergent content")

// writeBatchSize caps one pgx batch. Inherited from the original ingestion
// system's commit cadence.
const writeBatchSize = 499

// WriteMessages inserts messages keyed by their deterministic ids. Existing
// ids are left untouched (existing content is authoritative); conflicted ids
// are then verified against the stored text and a divergence returns
// ErrInvariantViolation. Returns the number of newly inserted messages.
// Input order is preserved within the insert stream.
func (s *Store) WriteMessages(ctx context.Context, msgs []Message) (int, error) {
	inserted := 0
	var conflicted []string

	for start := 0; start < len(msgs); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}

		b := &pgx.Batch{}
		for _, m := range msgs[start:end] {
			var fn, hash, uri, mt *string
			mediaStatus := StatusNotApplicable
			if m.HasMedia {
				mediaStatus = StatusPending
			}
			if m.Media != nil {
				fn, hash, uri, mt = &m.Media.OriginalFilename, &m.Media.ContentHash, &m.Media.StorageURI, &m.Media.MediaType
			}
			b.Queue(`
				INSERT INTO messages
					(id, group_id, ts, author, text, is_system, has_media,
					 nlp_status, media_analysis_status,
					 media_filename, media_content_hash, media_storage_uri, media_type)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (id) DO NOTHING`,
				m.ID, m.GroupID, m.TS, m.Author, m.Text, m.IsSystem, m.HasMedia,
				StatusPending, mediaStatus,
				fn, hash, uri, mt,
			)
		}

		br := s.pool.SendBatch(ctx, b)
		for _, m := range msgs[start:end] {
			ct, err := br.Exec()
			if err != nil {
				br.Close()
				return inserted, fmt.Errorf("insert message %s: %w", m.ID, err)
			}
			if ct.RowsAffected() > 0 {
				inserted++
			} else {
				conflicted = append(conflicted, m.ID)
			}
		}
		if err := br.Close(); err != nil {
			return inserted, fmt.Errorf("close batch: %w", err)
		}
	}

	if len(conflicted) > 0 {
		if err := s.verifyUnchanged(ctx, msgs, conflicted); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// verifyUnchanged checks that rows skipped by ON CONFLICT really hold the
// same content we tried to write.
func (s *Store) verifyUnchanged(ctx context.Context, msgs []Message, ids []string) error {
	byID := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, author, text FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("verify conflicted messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, author, text string
		if err := rows.Scan(&id, &author, &text); err != nil {
			return fmt.Errorf("scan conflicted message: %w", err)
		}
		m, ok := byID[id]
		if !ok {
			continue
		}
		if m.Author != author || m.Text != text {
			return fmt.Errorf("%w: id %s", ErrInvariantViolation, id)
		}
	}
	return rows.Err()
}

// CountMessages returns the number of stored messages for a group.
func (s *Store) CountMessages(ctx context.Context, groupID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE group_id = $1`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-photoshare/internal/model"
)

// AuditRepository persists auth lifecycle events to auth_events.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	var attributes []byte
	if len(entry.Attributes) > 0 {
		var err error
		attributes, err = json.Marshal(entry.Attributes)
		if err != nil {
			return fmt.Errorf("marshal audit attributes: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_events (id, type, actor_id, subject_id, attributes, occurred_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`,
		entry.ID, entry.Type, entry.ActorID, entry.SubjectID, attributes, entry.OccurredAt)
	if err != nil {
		return storeErr("log audit entry", err)
	}
	return nil
}

func (r *AuditRepository) ListForSubject(ctx context.Context, subjectID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, type, COALESCE(actor_id, ''), COALESCE(subject_id, ''), attributes, occurred_at
		 FROM auth_events WHERE subject_id = $1
		 ORDER BY occurred_at DESC LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, storeErr("list audit entries", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var (
			entry model.AuditEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.ActorID, &entry.SubjectID, &raw, &entry.OccurredAt); err != nil {
			return nil, storeErr("scan audit entry", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Attributes); err != nil {
				return nil, fmt.Errorf("decode audit attributes: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list audit entries", err)
	}
	return entries, nil
}

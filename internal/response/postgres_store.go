package response

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists action records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *ActionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_actions (id, entity, action, level, final_risk, network_risk, user_risk, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.Entity,
		string(rec.Action),
		rec.Level,
		rec.FinalRisk,
		rec.NetworkRisk,
		rec.UserRisk,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record response action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, action, level, final_risk, network_risk, user_risk, created_at
		FROM response_actions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list response actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var action string
		var createdAt time.Time
		if err := rows.Scan(&rec.ID, &rec.Entity, &action, &rec.Level,
			&rec.FinalRisk, &rec.NetworkRisk, &rec.UserRisk, &createdAt); err != nil {
			continue
		}
		rec.Action = Action(action)
		rec.CreatedAt = createdAt
		result = append(result, &rec)
	}
	return result, rows.Err()
}

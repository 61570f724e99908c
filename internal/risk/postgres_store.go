package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/mevguard/internal/pagination"
)

// PostgresStore persists simulation assessments in PostgreSQL.
// The risk_assessments table is created by the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	warningsJSON, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, contract_address, score, level, warnings, relay_advised, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.ID,
		rec.ContractAddress,
		rec.Score,
		string(rec.Level),
		warningsJSON,
		rec.RelayAdvised,
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByContract(ctx context.Context, contractAddress string, before *pagination.Cursor, limit int) ([]*Record, error) {
	var (
		beforeAt sql.NullTime
		beforeID string
	)
	if before != nil {
		beforeAt = sql.NullTime{Time: before.At.Truncate(time.Microsecond), Valid: true}
		beforeID = before.ID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_address, score, level, warnings, relay_advised, evaluated_at
		FROM risk_assessments
		WHERE contract_address = $1
		  AND ($2::timestamptz IS NULL OR (evaluated_at, id) < ($2::timestamptz, $3::text))
		ORDER BY evaluated_at DESC, id DESC
		LIMIT $4
	`, contractAddress, beforeAt, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var r Record
		var warningsJSON []byte
		if err := rows.Scan(&r.ID, &r.ContractAddress, &r.Score, &r.Level, &warningsJSON, &r.RelayAdvised, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		if err := json.Unmarshal(warningsJSON, &r.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode risk assessment warnings: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

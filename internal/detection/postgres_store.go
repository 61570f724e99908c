package detection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/mevguard/internal/threat"
)

// PostgresStore archives threats in PostgreSQL.
// The mev_threats table is created by the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed threat archive.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, t *threat.Threat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mev_threats (
			id, contract_address, threat_type, risk, slippage_estimate, affected_user,
			tx_hash, gas_price_gwei, potential_loss, potential_loss_usd, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`,
		t.ID,
		strings.ToLower(t.ContractAddress),
		string(t.Type),
		t.Risk,
		t.SlippageEstimatePercent,
		t.AffectedUser,
		t.TransactionHash,
		t.GasPriceGwei,
		t.PotentialLossEstimate,
		t.PotentialLossUSD,
		t.Time().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive threat: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByContract(ctx context.Context, contractAddress string, limit int) ([]*threat.Threat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_address, threat_type, risk, slippage_estimate, affected_user,
		       tx_hash, gas_price_gwei, potential_loss, potential_loss_usd, detected_at
		FROM mev_threats
		WHERE contract_address = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`, strings.ToLower(contractAddress), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*threat.Threat
	for rows.Next() {
		var t threat.Threat
		var typ string
		var detectedAt time.Time
		if err := rows.Scan(
			&t.ID, &t.ContractAddress, &typ, &t.Risk, &t.SlippageEstimatePercent, &t.AffectedUser,
			&t.TransactionHash, &t.GasPriceGwei, &t.PotentialLossEstimate, &t.PotentialLossUSD, &detectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan threat: %w", err)
		}
		t.Type = threat.Type(typ)
		t.Timestamp = detectedAt.UnixMilli()
		result = append(result, &t)
	}
	return result, rows.Err()
}

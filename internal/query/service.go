// Package query provides the read-only surface over engine state and the
// Postgres event log.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"pismocore/internal/engine"
)

// QueryService serves reads. Live state comes from engine snapshots; event
// history comes from the Postgres event log when a DB is configured.
type QueryService struct {
	engine *engine.MarginEngine
	db     *sql.DB // nil when running without persistence
}

func NewQueryService(eng *engine.MarginEngine, db *sql.DB) *QueryService {
	return &QueryService{engine: eng, db: db}
}

// AccountSummary bundles an account's counters with its live holdings and
// positions.
type AccountSummary struct {
	Account   engine.AccountView    `json:"account"`
	Holdings  []engine.HoldingView  `json:"holdings"`
	Positions []engine.PositionView `json:"positions"`
}

// EventRecord is one row of the persisted event history.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	AccountID uuid.UUID       `json:"account_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// ErrHistoryUnavailable is returned for history queries when no DB is wired.
var ErrHistoryUnavailable = fmt.Errorf("query: event history requires a database")

func (qs *QueryService) Account(accountID uuid.UUID) (AccountSummary, error) {
	acct, err := qs.engine.AccountView(accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	holdings, err := qs.engine.HoldingViews(accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	positions, err := qs.engine.PositionViews(accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	return AccountSummary{Account: acct, Holdings: holdings, Positions: positions}, nil
}

func (qs *QueryService) Holdings(accountID uuid.UUID) ([]engine.HoldingView, error) {
	return qs.engine.HoldingViews(accountID)
}

func (qs *QueryService) Positions(accountID uuid.UUID) ([]engine.PositionView, error) {
	return qs.engine.PositionViews(accountID)
}

func (qs *QueryService) Vaults() []engine.VaultView {
	return qs.engine.VaultViews()
}

// AccountEvents returns the persisted event history for an account, oldest
// first, capped at limit.
func (qs *QueryService) AccountEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]EventRecord, error) {
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_type, account_id, payload, timestamp
		FROM margin_events
		WHERE account_id = $1
		ORDER BY sequence ASC
		LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.Sequence, &rec.EventType, &rec.AccountID, &rec.Payload, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

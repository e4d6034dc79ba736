// Package persistence writes the engine's event log to Postgres. The event
// log is the durable record: downstream consumers replaying it can rebuild
// every account, holding, position, and vault.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLogWriter batch-inserts event rows into margin_events.
// Multi-row INSERT keeps the writer portable across Postgres setups; switch
// to pgx CopyFrom if write throughput ever becomes the bottleneck.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row of margin_events.
type EventRow struct {
	Sequence  int64
	EventType string
	AccountID uuid.UUID
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts a batch of events. Writes are idempotent on the
// sequence number so a retried batch never duplicates rows.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO margin_events
		(sequence, event_type, account_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)

	for i, e := range events {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, e.Sequence, e.EventType, e.AccountID, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

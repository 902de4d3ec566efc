package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Insert(ctx context.Context, event model.AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, event.OccurredAt)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	var accountID any
	if event.AccountID != "" {
		accountID = event.AccountID
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_events (name, account_id, occurred_at, metadata)
		 VALUES ($1, $2, $3, $4)`,
		event.Name, accountID, occurredAt, metadataJSON)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListForAccount(ctx context.Context, accountID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT name, account_id::text, occurred_at, metadata
		 FROM audit_events
		 WHERE account_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, classifyLookupErr("list audit events", err)
	}
	defer rows.Close()

	events := make([]model.AuditEvent, 0)
	for rows.Next() {
		var e model.AuditEvent
		var occurredAt time.Time
		var metadataJSON []byte
		var account *string

		if err := rows.Scan(&e.Name, &account, &occurredAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if account != nil {
			e.AccountID = *account
		}
		e.OccurredAt = occurredAt.UTC().Format(time.RFC3339Nano)
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyLookupErr("list audit events", err)
	}
	return events, nil
}

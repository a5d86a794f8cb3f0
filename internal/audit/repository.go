package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekwalla/valor/internal/contracts"
)

// Repository appends audit events to audit.events. Append-only: there is no
// update or delete path.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, event contracts.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit.events (
			org_id, actor, action, object_type, object_id, reason, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		event.OrgID,
		event.Actor,
		event.Action,
		event.ObjectType,
		event.ObjectID,
		event.Reason,
		metadata,
		occurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// ListByObject returns the audit trail of one object, newest first.
func (r *Repository) ListByObject(ctx context.Context, org contracts.OrgID, objectType, objectID string) ([]contracts.AuditEvent, error) {
	query := `
		SELECT org_id, actor, action, object_type, object_id, reason, metadata, occurred_at
		FROM audit.events
		WHERE org_id = $1 AND object_type = $2 AND object_id = $3
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.Query(ctx, query, org, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]contracts.AuditEvent, 0)
	for rows.Next() {
		var event contracts.AuditEvent
		var metadata []byte
		err := rows.Scan(
			&event.OrgID,
			&event.Actor,
			&event.Action,
			&event.ObjectType,
			&event.ObjectID,
			&event.Reason,
			&metadata,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

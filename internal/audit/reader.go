package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps audit entries in the audit_log table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal audit meta: %w", err)
		}
		metaJSON = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (organization_id, business_id, actor_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, toNullUUID(params.OrgID), toNullUUID(params.BusinessID), toNullUUID(params.ActorID), params.Action, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}
	return nil
}

func (s *PGStore) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]ListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
		  al.id,
		  al.organization_id,
		  al.business_id,
		  al.actor_id,
		  i.email,
		  al.action,
		  al.meta,
		  al.created_at
		FROM audit_log al
		LEFT JOIN identities i ON i.id = al.actor_id
		WHERE al.organization_id = $1
		   OR al.business_id IN (SELECT id FROM businesses WHERE organization_id = $1)
		ORDER BY al.created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []ListItem
	for rows.Next() {
		var item ListItem
		var org, business, actor uuid.NullUUID
		var actorEmail *string
		var metaRaw []byte

		if err := rows.Scan(&item.ID, &org, &business, &actor, &actorEmail, &item.Action, &metaRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}

		item.OrgID = fromNullUUID(org)
		item.BusinessID = fromNullUUID(business)
		item.ActorID = fromNullUUID(actor)
		if actorEmail != nil {
			item.ActorEmail = *actorEmail
		}

		item.Meta = map[string]any{}
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &item.Meta)
		}

		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return out, nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

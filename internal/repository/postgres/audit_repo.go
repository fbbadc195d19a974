package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/assetdesk/internal/audit"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch — один многострочный INSERT на пачку событий.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице remote_audit
	const numFields = 8
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		details, err := json.Marshal(e.Details)
		if err != nil {
			details = []byte("{}")
		}
		var errText *string
		if e.Error != "" {
			errText = &e.Error
		}
		vals = append(vals, e.ID, e.Actor, e.Action, e.TargetID, details, e.Status, errText, e.Timestamp)
	}

	query := "INSERT INTO remote_audit (id, actor, action, target_id, details, status, error, timestamp) VALUES " + sb.String()
	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

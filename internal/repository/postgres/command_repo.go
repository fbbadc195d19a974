package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/assetdesk/internal/domain"
)

// CommandRepo — таблица agent_commands.
// Операторская сторона только вставляет и читает; терминальные статусы пишутся условным UPDATE по status = 'PENDING'.
type CommandRepo struct {
	pool *pgxpool.Pool
}

func NewCommandRepo(pool *pgxpool.Pool) *CommandRepo {
	return &CommandRepo{pool: pool}
}

const commandColumns = `id, device_id, command, status, result, error, created_by, created_at, completed_at`

func scanCommand(row scanner) (*domain.AgentCommand, error) {
	var c domain.AgentCommand
	var status string
	err := row.Scan(&c.ID, &c.DeviceID, &c.Command, &status, &c.Result, &c.Error, &c.CreatedBy, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CommandStatus(status)
	return &c, nil
}

// Enqueue вставляет все команды одной транзакцией: либо весь фан-аут, либо ничего.
func (r *CommandRepo) Enqueue(ctx context.Context, cmds []domain.AgentCommand) error {
	if len(cmds) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit это no-op

	batch := &pgx.Batch{}
	for _, c := range cmds {
		batch.Queue(`INSERT INTO agent_commands (id, device_id, command, status, created_by, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.DeviceID, c.Command, string(c.Status), c.CreatedBy, c.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: enqueue %d commands: %w", len(cmds), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit enqueue: %w", err)
	}
	return nil
}

func (r *CommandRepo) GetCommand(ctx context.Context, id string) (*domain.AgentCommand, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM agent_commands WHERE id = $1`, id)
	c, err := scanCommand(row)
	if err != nil {
		return nil, notFound(err, "command", id)
	}
	return c, nil
}

// PendingFor — очередь агента, старые первыми.
func (r *CommandRepo) PendingFor(ctx context.Context, agentKey string, limit int) ([]domain.AgentCommand, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM agent_commands
		WHERE device_id = $1 AND status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, agentKey, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending commands: %w", err)
	}
	defer rows.Close()

	cmds := make([]domain.AgentCommand, 0)
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan command: %w", err)
		}
		cmds = append(cmds, *c)
	}
	return cmds, rows.Err()
}

// Complete записывает результат агента. Чужой ключ неотличим от несуществующей команды.
func (r *CommandRepo) Complete(ctx context.Context, id, agentKey string, status domain.CommandStatus, result, errText *string, at time.Time) error {
	query := `
		UPDATE agent_commands
		SET status = $1, result = $2, error = $3, completed_at = $4
		WHERE id = $5 AND device_id = $6 AND status = 'PENDING'`

	ct, err := r.pool.Exec(ctx, query, string(status), result, errText, at, id, agentKey)
	if err != nil {
		return fmt.Errorf("postgres: complete command %s: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM agent_commands WHERE id = $1 AND device_id = $2`, id, agentKey).Scan(&current)
	if err != nil {
		return notFound(err, "command", id)
	}
	return fmt.Errorf("%w: %s is %s", domain.ErrCommandFinished, id, current)
}

// ExpirePending переводит зависшие PENDING старше olderThan в EXPIRED.
func (r *CommandRepo) ExpirePending(ctx context.Context, olderThan, at time.Time) (int64, error) {
	query := `
		UPDATE agent_commands
		SET status = 'EXPIRED', error = 'agent did not pick up the command in time', completed_at = $1
		WHERE status = 'PENDING' AND created_at < $2`

	ct, err := r.pool.Exec(ctx, query, at, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire pending commands: %w", err)
	}
	return ct.RowsAffected(), nil
}

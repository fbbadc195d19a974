package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/assetdesk/internal/domain"
)

// RemoteRepo — реестр агентов удалённого доступа и их сеансов.
type RemoteRepo struct {
	pool *pgxpool.Pool
}

func NewRemoteRepo(pool *pgxpool.Pool) *RemoteRepo {
	return &RemoteRepo{pool: pool}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const agentColumns = `id, device_id, provider_agent_id, install_code, state, os_type, supported_apps, last_online, created_at`

func scanAgent(row scanner) (*domain.RemoteAgent, error) {
	var a domain.RemoteAgent
	var state string
	err := row.Scan(&a.ID, &a.DeviceID, &a.ProviderAgentID, &a.InstallCode, &state,
		&a.OSType, &a.SupportedApps, &a.LastOnline, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.State = domain.AgentState(state)
	return &a, nil
}

// CreateAgent вставляет агента. Уникальный индекс по device_id защищает от двойной регистрации.
func (r *RemoteRepo) CreateAgent(ctx context.Context, a *domain.RemoteAgent) error {
	query := `INSERT INTO remote_agents (` + agentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query, a.ID, a.DeviceID, a.ProviderAgentID, a.InstallCode, string(a.State),
		a.OSType, a.SupportedApps, a.LastOnline, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: device %s", domain.ErrAgentAlreadyRegistered, a.DeviceID)
		}
		return fmt.Errorf("postgres: insert remote agent: %w", err)
	}
	return nil
}

func (r *RemoteRepo) GetAgent(ctx context.Context, id string) (*domain.RemoteAgent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM remote_agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFound(err, "remote agent", id)
	}
	return a, nil
}

func (r *RemoteRepo) GetAgentByDevice(ctx context.Context, deviceID string) (*domain.RemoteAgent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM remote_agents WHERE device_id = $1`, deviceID)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFound(err, "remote agent for device", deviceID)
	}
	return a, nil
}

func (r *RemoteRepo) ListAgents(ctx context.Context) ([]domain.RemoteAgent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agentColumns+` FROM remote_agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list remote agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.RemoteAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan remote agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus перезаписывает то, что прислал провайдер при синхронизации.
func (r *RemoteRepo) UpdateAgentStatus(ctx context.Context, a *domain.RemoteAgent) error {
	query := `
		UPDATE remote_agents
		SET state = $1, os_type = $2, supported_apps = $3, last_online = $4
		WHERE id = $5`

	ct, err := r.pool.Exec(ctx, query, string(a.State), a.OSType, a.SupportedApps, a.LastOnline, a.ID)
	if err != nil {
		return fmt.Errorf("postgres: update remote agent %s: %w", a.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: remote agent %s", domain.ErrNotFound, a.ID)
	}
	return nil
}

// DeleteAgent удаляет агента; сеансы уходят каскадом.
func (r *RemoteRepo) DeleteAgent(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM remote_agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete remote agent %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: remote agent %s", domain.ErrNotFound, id)
	}
	return nil
}

const sessionColumns = `id, agent_id, provider_session_id, url, purpose, started_by, status, start_time, end_time, duration`

func scanSession(row scanner) (*domain.RemoteSession, error) {
	var s domain.RemoteSession
	var status string
	err := row.Scan(&s.ID, &s.AgentID, &s.ProviderSessionID, &s.URL, &s.Purpose, &s.StartedBy,
		&status, &s.StartTime, &s.EndTime, &s.Duration)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SessionStatus(status)
	return &s, nil
}

func (r *RemoteRepo) CreateSession(ctx context.Context, s *domain.RemoteSession) error {
	query := `INSERT INTO remote_sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query, s.ID, s.AgentID, s.ProviderSessionID, s.URL, s.Purpose, s.StartedBy,
		string(s.Status), s.StartTime, s.EndTime, s.Duration)
	if err != nil {
		return fmt.Errorf("postgres: insert remote session: %w", err)
	}
	return nil
}

func (r *RemoteRepo) GetSession(ctx context.Context, id string) (*domain.RemoteSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM remote_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "remote session", id)
	}
	return s, nil
}

// CloseSession — условный переход ACTIVE → CLOSED. Проигравший гонку получает ErrSessionClosed.
func (r *RemoteRepo) CloseSession(ctx context.Context, id string, end time.Time, duration int) error {
	query := `
		UPDATE remote_sessions
		SET status = 'CLOSED', end_time = $1, duration = $2
		WHERE id = $3 AND status = 'ACTIVE'`

	ct, err := r.pool.Exec(ctx, query, end, duration, id)
	if err != nil {
		return fmt.Errorf("postgres: close remote session %s: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM remote_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check remote session %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: remote session %s", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s", domain.ErrSessionClosed, id)
}

// ListSessions — история сеансов агента, новые первыми.
func (r *RemoteRepo) ListSessions(ctx context.Context, agentID string) ([]domain.RemoteSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM remote_sessions WHERE agent_id = $1 ORDER BY start_time DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list remote sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.RemoteSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan remote session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

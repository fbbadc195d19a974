package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/assetdesk/internal/domain"
)

// DeviceRepo читает справочник активов и таблицу сетевой инвентаризации.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	var d domain.Device
	err := r.pool.QueryRow(ctx, `SELECT id, tag, name, type, assignee_name FROM assets WHERE id = $1`, id).
		Scan(&d.ID, &d.Tag, &d.Name, &d.Type, &d.AssigneeName)
	if err != nil {
		return nil, notFound(err, "device", id)
	}
	return &d, nil
}

const discoveredColumns = `id, agent_key, hostname, ip_address, status, last_seen`

func scanDiscovered(row scanner) (*domain.DiscoveredDevice, error) {
	var d domain.DiscoveredDevice
	if err := row.Scan(&d.ID, &d.AgentKey, &d.Hostname, &d.IPAddress, &d.Status, &d.LastSeen); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeviceRepo) GetDiscoveredDevice(ctx context.Context, id string) (*domain.DiscoveredDevice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+discoveredColumns+` FROM discovered_devices WHERE id = $1`, id)
	d, err := scanDiscovered(row)
	if err != nil {
		return nil, notFound(err, "discovered device", id)
	}
	return d, nil
}

// GetDiscoveredDevices возвращает найденные записи; неизвестные id просто отсутствуют в ответе.
func (r *DeviceRepo) GetDiscoveredDevices(ctx context.Context, ids []string) ([]domain.DiscoveredDevice, error) {
	if len(ids) == 0 {
		return []domain.DiscoveredDevice{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+discoveredColumns+` FROM discovered_devices WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get discovered devices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DiscoveredDevice, 0, len(ids))
	for rows.Next() {
		d, err := scanDiscovered(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan discovered device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FindKeyedByHostname ищет устройство с тем же hostname и ключом агента.
// При нескольких кандидатах берётся самый свежий last_seen, затем меньший id.
func (r *DeviceRepo) FindKeyedByHostname(ctx context.Context, hostname string) (*domain.DiscoveredDevice, error) {
	query := `
		SELECT ` + discoveredColumns + `
		FROM discovered_devices
		WHERE hostname = $1 AND agent_key IS NOT NULL AND agent_key <> ''
		ORDER BY last_seen DESC, id ASC
		LIMIT 1`

	d, err := scanDiscovered(r.pool.QueryRow(ctx, query, hostname))
	if err != nil {
		return nil, notFound(err, "keyed device with hostname", hostname)
	}
	return d, nil
}

// TouchLastSeen отмечает опрос агентом; возвращает ErrNotFound для неизвестного ключа.
func (r *DeviceRepo) TouchLastSeen(ctx context.Context, agentKey string, at time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE discovered_devices SET last_seen = $1 WHERE agent_key = $2`, at, agentKey)
	if err != nil {
		return fmt.Errorf("postgres: touch last_seen: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: agent key", domain.ErrNotFound)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// ResolvedKey — устройство, для которого нашёлся ключ агента.
type ResolvedKey struct {
	DeviceID string
	AgentKey string
	Borrowed bool // Ключ взят у другой записи с тем же hostname
}

// KeyResolver сопоставляет записи инвентаризации ключам агентов.
//
// Запись без ключа может «одолжить» ключ у записи с тем же hostname: один компьютер
// часто виден сканеру под несколькими IP. При нескольких кандидатах побеждает
// самый свежий last_seen, затем меньший id.
type KeyResolver struct {
	devices DiscoveredDeviceStore
	logger  *zap.Logger
}

func NewKeyResolver(devices DiscoveredDeviceStore, logger *zap.Logger) *KeyResolver {
	return &KeyResolver{devices: devices, logger: logger.Named("key-resolver")}
}

// Resolve возвращает ключи в порядке запроса. Нерешённые и неизвестные устройства молча пропускаются.
func (r *KeyResolver) Resolve(ctx context.Context, deviceIDs []string) ([]ResolvedKey, error) {
	found, err := r.devices.GetDiscoveredDevices(ctx, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve agent keys: %w", err)
	}
	byID := make(map[string]*domain.DiscoveredDevice, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	out := make([]ResolvedKey, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		d, ok := byID[id]
		if !ok {
			continue
		}
		if d.HasAgentKey() {
			out = append(out, ResolvedKey{DeviceID: id, AgentKey: *d.AgentKey})
			continue
		}

		hostname := d.HostnameValue()
		if hostname == "" {
			continue
		}
		donor, err := r.devices.FindKeyedByHostname(ctx, hostname)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("hostname key lookup failed", zap.String("device_id", id), zap.String("hostname", hostname), zap.Error(err))
			}
			continue
		}
		out = append(out, ResolvedKey{DeviceID: id, AgentKey: *donor.AgentKey, Borrowed: true})
	}
	return out, nil
}

// OwnKey — ключ самого устройства, без заимствования.
func (r *KeyResolver) OwnKey(ctx context.Context, deviceID string) (string, error) {
	d, err := r.devices.GetDiscoveredDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if !d.HasAgentKey() {
		return "", fmt.Errorf("%w: device %s", domain.ErrAgentNotConnected, deviceID)
	}
	return *d.AgentKey, nil
}

package service

import (
	"context"
	"time"

	"github.com/xela07ax/assetdesk/internal/audit"
	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/provider"
)

// DeviceDirectory — справочник активов портала (только чтение).
type DeviceDirectory interface {
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
}

// RemoteStore описывает требования к хранилищу агентов и сеансов
type RemoteStore interface {
	CreateAgent(ctx context.Context, a *domain.RemoteAgent) error
	GetAgent(ctx context.Context, id string) (*domain.RemoteAgent, error)
	GetAgentByDevice(ctx context.Context, deviceID string) (*domain.RemoteAgent, error)
	ListAgents(ctx context.Context) ([]domain.RemoteAgent, error)
	UpdateAgentStatus(ctx context.Context, a *domain.RemoteAgent) error
	DeleteAgent(ctx context.Context, id string) error

	CreateSession(ctx context.Context, s *domain.RemoteSession) error
	GetSession(ctx context.Context, id string) (*domain.RemoteSession, error)
	CloseSession(ctx context.Context, id string, end time.Time, duration int) error
	ListSessions(ctx context.Context, agentID string) ([]domain.RemoteSession, error)
}

// ProviderAPI — то, что сервис использует из клиента провайдера.
type ProviderAPI interface {
	CreateAgent(ctx context.Context, name, description string) (*provider.Agent, error)
	GetAgent(ctx context.Context, id string) (*provider.Agent, error)
	UpdateAgent(ctx context.Context, id string, upd provider.AgentUpdate) (*provider.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]provider.Agent, error)
	CreateSession(ctx context.Context, agentID, app string) (*provider.Session, error)
	DestroySession(ctx context.Context, sessionID string) error
}

// DiscoveredDeviceStore — сетевая инвентаризация, источник ключей агентов.
type DiscoveredDeviceStore interface {
	GetDiscoveredDevice(ctx context.Context, id string) (*domain.DiscoveredDevice, error)
	GetDiscoveredDevices(ctx context.Context, ids []string) ([]domain.DiscoveredDevice, error)
	FindKeyedByHostname(ctx context.Context, hostname string) (*domain.DiscoveredDevice, error)
	TouchLastSeen(ctx context.Context, agentKey string, at time.Time) error
}

// CommandQueue — операторская сторона очереди: только вставка и чтение.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmds []domain.AgentCommand) error
	GetCommand(ctx context.Context, id string) (*domain.AgentCommand, error)
}

// AgentInbox — сторона агента: забрать свои PENDING и записать результат.
type AgentInbox interface {
	PendingFor(ctx context.Context, agentKey string, limit int) ([]domain.AgentCommand, error)
	Complete(ctx context.Context, id, agentKey string, status domain.CommandStatus, result, errText *string, at time.Time) error
}

// CommandExpirer — единственный, кто пишет EXPIRED.
type CommandExpirer interface {
	ExpirePending(ctx context.Context, olderThan, at time.Time) (int64, error)
}

// Locker — короткая распределённая блокировка. release безопасно вызывать всегда.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Notifier будит агента после постановки команды.
type Notifier interface {
	NotifyCommand(ctx context.Context, agentKey, commandID string) error
}

type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

type nopLocker struct{}

func (nopLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyCommand(context.Context, string, string) error { return nil }

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Event) {}

package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xela07ax/assetdesk/internal/audit"
	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/infra/auth"
	"github.com/xela07ax/assetdesk/internal/provider"
)

func operatorCtx(name string) context.Context {
	return auth.WithOperator(context.Background(), &domain.OperatorClaims{UserID: "u-" + name, Username: name})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// MockProvider — testify mock клиента провайдера.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateAgent(ctx context.Context, name, description string) (*provider.Agent, error) {
	args := m.Called(ctx, name, description)
	if a := args.Get(0); a != nil {
		return a.(*provider.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GetAgent(ctx context.Context, id string) (*provider.Agent, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*provider.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) UpdateAgent(ctx context.Context, id string, upd provider.AgentUpdate) (*provider.Agent, error) {
	args := m.Called(ctx, id, upd)
	if a := args.Get(0); a != nil {
		return a.(*provider.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) DeleteAgent(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProvider) ListAgents(ctx context.Context) ([]provider.Agent, error) {
	args := m.Called(ctx)
	if a := args.Get(0); a != nil {
		return a.([]provider.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) CreateSession(ctx context.Context, agentID, app string) (*provider.Session, error) {
	args := m.Called(ctx, agentID, app)
	if s := args.Get(0); s != nil {
		return s.(*provider.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) DestroySession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

type memDirectory map[string]*domain.Device

func (d memDirectory) GetDevice(_ context.Context, id string) (*domain.Device, error) {
	dev, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", domain.ErrNotFound, id)
	}
	return dev, nil
}

type memRemoteStore struct {
	mu             sync.Mutex
	agents         map[string]*domain.RemoteAgent
	sessions       map[string]*domain.RemoteSession
	createAgentErr error
}

func newRemoteStore() *memRemoteStore {
	return &memRemoteStore{agents: map[string]*domain.RemoteAgent{}, sessions: map[string]*domain.RemoteSession{}}
}

func (s *memRemoteStore) CreateAgent(_ context.Context, a *domain.RemoteAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createAgentErr != nil {
		return s.createAgentErr
	}
	for _, existing := range s.agents {
		if existing.DeviceID == a.DeviceID {
			return domain.ErrAgentAlreadyRegistered
		}
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *memRemoteStore) GetAgent(_ context.Context, id string) (*domain.RemoteAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memRemoteStore) GetAgentByDevice(_ context.Context, deviceID string) (*domain.RemoteAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.DeviceID == deviceID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memRemoteStore) ListAgents(_ context.Context) ([]domain.RemoteAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RemoteAgent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memRemoteStore) UpdateAgentStatus(_ context.Context, a *domain.RemoteAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *memRemoteStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.agents, id)
	for sid, sess := range s.sessions {
		if sess.AgentID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

func (s *memRemoteStore) CreateSession(_ context.Context, sess *domain.RemoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memRemoteStore) GetSession(_ context.Context, id string) (*domain.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memRemoteStore) CloseSession(_ context.Context, id string, end time.Time, duration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if sess.Status != domain.SessionActive {
		return domain.ErrSessionClosed
	}
	sess.Status = domain.SessionClosed
	sess.EndTime = &end
	sess.Duration = &duration
	return nil
}

func (s *memRemoteStore) ListSessions(_ context.Context, agentID string) ([]domain.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.RemoteSession{}
	for _, sess := range s.sessions {
		if sess.AgentID == agentID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

type memDiscovered struct {
	mu      sync.Mutex
	devices map[string]*domain.DiscoveredDevice
}

func newDiscovered(devices ...domain.DiscoveredDevice) *memDiscovered {
	m := &memDiscovered{devices: map[string]*domain.DiscoveredDevice{}}
	for i := range devices {
		d := devices[i]
		m.devices[d.ID] = &d
	}
	return m
}

func (m *memDiscovered) GetDiscoveredDevice(_ context.Context, id string) (*domain.DiscoveredDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDiscovered) GetDiscoveredDevices(_ context.Context, ids []string) ([]domain.DiscoveredDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.DiscoveredDevice{}
	for _, id := range ids {
		if d, ok := m.devices[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDiscovered) FindKeyedByHostname(_ context.Context, hostname string) (*domain.DiscoveredDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.DiscoveredDevice
	for _, d := range m.devices {
		if !d.HasAgentKey() || d.HostnameValue() != hostname {
			continue
		}
		if best == nil || d.LastSeen.After(best.LastSeen) || (d.LastSeen.Equal(best.LastSeen) && d.ID < best.ID) {
			best = d
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memDiscovered) TouchLastSeen(_ context.Context, agentKey string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := false
	for _, d := range m.devices {
		if d.HasAgentKey() && *d.AgentKey == agentKey {
			d.LastSeen = at
			touched = true
		}
	}
	if !touched {
		return domain.ErrNotFound
	}
	return nil
}

type memCommands struct {
	mu   sync.Mutex
	rows []*domain.AgentCommand
}

func (m *memCommands) Enqueue(_ context.Context, cmds []domain.AgentCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range cmds {
		c := cmds[i]
		m.rows = append(m.rows, &c)
	}
	return nil
}

func (m *memCommands) GetCommand(_ context.Context, id string) (*domain.AgentCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCommands) PendingFor(_ context.Context, agentKey string, limit int) ([]domain.AgentCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.AgentCommand{}
	for _, c := range m.rows {
		if c.DeviceID == agentKey && c.Status == domain.CommandPending && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCommands) Complete(_ context.Context, id, agentKey string, status domain.CommandStatus, result, errText *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID != id || c.DeviceID != agentKey {
			continue
		}
		if c.Status != domain.CommandPending {
			return domain.ErrCommandFinished
		}
		c.Status, c.Result, c.Error, c.CompletedAt = status, result, errText, &at
		return nil
	}
	return domain.ErrNotFound
}

func (m *memCommands) ExpirePending(_ context.Context, olderThan, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.rows {
		if c.Status == domain.CommandPending && c.CreatedAt.Before(olderThan) {
			c.Status = domain.CommandExpired
			c.CompletedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memCommands) all() []domain.AgentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AgentCommand, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, *c)
	}
	return out
}

type stubLocker struct {
	acquired bool
	err      error
	keys     []string
	// onAcquire имитирует конкурента, успевшего закончить работу до нашей блокировки
	onAcquire func()
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.onAcquire != nil {
		l.onAcquire()
	}
	return func() {}, l.acquired, l.err
}

type memAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAuditor) Record(_ context.Context, e audit.Event) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

type memNotifier struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (n *memNotifier) NotifyCommand(_ context.Context, agentKey, commandID string) error {
	n.mu.Lock()
	n.payloads = append(n.payloads, agentKey+":"+commandID)
	n.mu.Unlock()
	return n.err
}

func strptr(s string) *string { return &s }

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/assetdesk/internal/audit"
	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/infra"
	"github.com/xela07ax/assetdesk/internal/infra/auth"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"github.com/xela07ax/assetdesk/internal/provider"
	"go.uber.org/zap"
)

const registerLockTTL = 30 * time.Second

type RemoteDeps struct {
	Store    RemoteStore
	Devices  DeviceDirectory
	Provider ProviderAPI
	Locker   Locker
	Auditor  Auditor
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// RemoteService управляет жизненным циклом агента провайдера и сеансами удалённого управления.
// Порядок всегда «сначала провайдер, потом своя БД»: при отказе провайдера локальное состояние не меняется.
type RemoteService struct {
	store   RemoteStore
	devices DeviceDirectory
	api     ProviderAPI
	locker  Locker
	auditor Auditor
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

func NewRemoteService(deps RemoteDeps, logger *zap.Logger) *RemoteService {
	s := &RemoteService{
		store:   deps.Store,
		devices: deps.Devices,
		api:     deps.Provider,
		locker:  deps.Locker,
		auditor: deps.Auditor,
		metrics: deps.Metrics,
		now:     deps.Now,
		logger:  logger.Named("remote-service"),
	}
	if s.locker == nil {
		s.locker = nopLocker{}
	}
	if s.auditor == nil {
		s.auditor = nopAuditor{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RegisterResult — код установки показывается оператору один раз.
type RegisterResult struct {
	Agent       *domain.RemoteAgent `json:"agent"`
	InstallCode string              `json:"install_code"`
}

func (s *RemoteService) ensureUnregistered(ctx context.Context, deviceID string) error {
	_, err := s.store.GetAgentByDevice(ctx, deviceID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: device %s", domain.ErrAgentAlreadyRegistered, deviceID)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("register: %w", err)
	}
}

// Register заводит агента у провайдера и привязывает его к устройству.
func (s *RemoteService) Register(ctx context.Context, deviceID string) (*RegisterResult, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	// Проверка до вызова провайдера: лишний агент у провайдера хуже лишнего запроса в БД
	if err := s.ensureUnregistered(ctx, deviceID); err != nil {
		return nil, err
	}

	release, acquired, err := s.locker.TryLock(ctx, infra.RegisterLockKey(deviceID), registerLockTTL)
	if err != nil {
		// Redis недоступен: полагаемся на уникальный индекс в БД
		s.logger.Warn("register lock unavailable, relying on db constraint", zap.String("device_id", deviceID), zap.Error(err))
	} else if !acquired {
		return nil, fmt.Errorf("%w: device %s", domain.ErrRegistrationInProgress, deviceID)
	}
	defer release()

	// Предыдущий держатель блокировки мог успеть закоммитить регистрацию
	if err := s.ensureUnregistered(ctx, deviceID); err != nil {
		return nil, err
	}

	name, description := describeDevice(device)
	pa, err := s.api.CreateAgent(ctx, name, description)
	if err != nil {
		s.recordFailure(ctx, operator, audit.ActionRegister, deviceID, err)
		return nil, fmt.Errorf("register: %w", err)
	}

	state := domain.AgentWaitingInstall
	if pa.State != "" {
		if state, err = domain.ParseAgentState(pa.State); err != nil {
			s.compensateAgent(pa.ID)
			return nil, fmt.Errorf("register: %w", err)
		}
	}

	agent := &domain.RemoteAgent{
		ID:              uuid.NewString(),
		DeviceID:        deviceID,
		ProviderAgentID: pa.ID,
		InstallCode:     pa.InstallCode,
		State:           state,
		OSType:          pa.OSType,
		SupportedApps:   domain.JoinApps(pa.SupportedApps),
		CreatedAt:       s.now().UTC(),
	}
	if state == domain.AgentOnline {
		t := agent.CreatedAt
		agent.LastOnline = &t
	}

	if err := s.store.CreateAgent(ctx, agent); err != nil {
		s.logger.Error("failed to persist remote agent, rolling back provider agent",
			zap.String("device_id", deviceID),
			zap.String("provider_agent_id", pa.ID),
			zap.Error(err))
		s.compensateAgent(pa.ID)
		s.recordFailure(ctx, operator, audit.ActionRegister, deviceID, err)
		return nil, fmt.Errorf("register: %w", err)
	}

	s.metrics.SessionEvents.WithLabelValues("register").Inc()
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionRegister,
		TargetID: deviceID,
		Details:  map[string]interface{}{"agent_id": agent.ID, "provider_agent_id": pa.ID},
		Status:   audit.StatusSuccess,
	})
	s.logger.Info("remote agent registered",
		zap.String("device_id", deviceID),
		zap.String("agent_id", agent.ID),
		zap.String("operator", operator))

	return &RegisterResult{Agent: agent, InstallCode: pa.InstallCode}, nil
}

// compensateAgent удаляет агента у провайдера, если локальная запись не состоялась.
func (s *RemoteService) compensateAgent(providerAgentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.api.DeleteAgent(ctx, providerAgentID); err != nil && !provider.IsNotFound(err) {
		s.logger.Error("orphaned provider agent: compensation failed",
			zap.String("provider_agent_id", providerAgentID),
			zap.Error(err))
	}
}

// SessionRequest — параметры нового сеанса. Пустые поля заполняются по умолчанию.
type SessionRequest struct {
	DeviceID  string  `json:"device_id"`
	Purpose   string  `json:"purpose"`
	StartedBy *string `json:"started_by,omitempty"`
}

// CreateSession открывает сеанс «screen» на агенте устройства. Агент обязан быть online.
func (s *RemoteService) CreateSession(ctx context.Context, req SessionRequest) (*domain.RemoteSession, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	agent, err := s.store.GetAgentByDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	// Без неявной синхронизации: оператор сам решает, обновлять ли статус
	if agent.State != domain.AgentOnline {
		return nil, fmt.Errorf("%w: current state is %s", domain.ErrAgentNotOnline, agent.State)
	}

	purpose := req.Purpose
	if purpose == "" {
		device, err := s.devices.GetDevice(ctx, req.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		purpose = "Remote session: " + device.Name
	}
	startedBy := req.StartedBy
	if startedBy == nil || *startedBy == "" {
		startedBy = &operator
	}

	ps, err := s.api.CreateSession(ctx, agent.ProviderAgentID, provider.DefaultApp)
	if err != nil {
		s.recordFailure(ctx, operator, audit.ActionSessionStart, agent.ID, err)
		return nil, fmt.Errorf("create session: %w", err)
	}

	session := &domain.RemoteSession{
		ID:                uuid.NewString(),
		AgentID:           agent.ID,
		ProviderSessionID: ps.ID,
		URL:               ps.URL,
		Purpose:           purpose,
		StartedBy:         startedBy,
		Status:            domain.SessionActive,
		StartTime:         s.now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.logger.Error("failed to persist session, destroying provider session",
			zap.String("provider_session_id", ps.ID), zap.Error(err))
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if derr := s.api.DestroySession(dctx, ps.ID); derr != nil {
			s.logger.Error("orphaned provider session", zap.String("provider_session_id", ps.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionEvents.WithLabelValues("session_start").Inc()
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionSessionStart,
		TargetID: session.ID,
		Details:  map[string]interface{}{"agent_id": agent.ID, "purpose": purpose},
		Status:   audit.StatusSuccess,
	})
	return session, nil
}

// EndSession закрывает сеанс у провайдера и фиксирует длительность в целых минутах.
func (s *RemoteService) EndSession(ctx context.Context, sessionID string) (*domain.RemoteSession, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if err := session.Status.CanTransitionTo(domain.SessionClosed); err != nil {
		return nil, fmt.Errorf("end session %s: %w", sessionID, err)
	}

	// 404 у провайдера значит, что сеанс там уже завершён
	if err := s.api.DestroySession(ctx, session.ProviderSessionID); err != nil && !provider.IsNotFound(err) {
		s.recordFailure(ctx, operator, audit.ActionSessionEnd, sessionID, err)
		return nil, fmt.Errorf("end session: %w", err)
	}

	end := s.now().UTC()
	duration := domain.SessionDuration(session.StartTime, end)
	if err := s.store.CloseSession(ctx, sessionID, end, duration); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	session.Status = domain.SessionClosed
	session.EndTime = &end
	session.Duration = &duration

	s.metrics.SessionEvents.WithLabelValues("session_end").Inc()
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionSessionEnd,
		TargetID: sessionID,
		Details:  map[string]interface{}{"duration_min": duration},
		Status:   audit.StatusSuccess,
	})
	return session, nil
}

// SyncStatus подтягивает состояние агента у провайдера.
// last_online сдвигается только когда агент online, иначе остаётся прежним.
func (s *RemoteService) SyncStatus(ctx context.Context, agentID string) (*domain.RemoteAgent, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	pa, err := s.api.GetAgent(ctx, agent.ProviderAgentID)
	if err != nil {
		s.recordFailure(ctx, operator, audit.ActionSync, agentID, err)
		return nil, fmt.Errorf("sync: %w", err)
	}

	if err := s.applyProviderState(ctx, agent, pa); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	s.metrics.SessionEvents.WithLabelValues("sync").Inc()
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionSync,
		TargetID: agentID,
		Details:  map[string]interface{}{"state": string(agent.State)},
		Status:   audit.StatusSuccess,
	})
	return agent, nil
}

func (s *RemoteService) applyProviderState(ctx context.Context, agent *domain.RemoteAgent, pa *provider.Agent) error {
	next, err := domain.ParseAgentState(pa.State)
	if err != nil {
		return err
	}
	if err := agent.State.CanTransitionTo(next); err != nil {
		return err
	}

	agent.State = next
	if pa.OSType != "" {
		agent.OSType = pa.OSType
	}
	if pa.SupportedApps != nil {
		agent.SupportedApps = domain.JoinApps(pa.SupportedApps)
	}
	if next == domain.AgentOnline {
		t := s.now().UTC()
		agent.LastOnline = &t
	}
	return s.store.UpdateAgentStatus(ctx, agent)
}

// SyncReport — итог массовой синхронизации.
type SyncReport struct {
	Updated int      `json:"updated"`
	Missing []string `json:"missing"` // Агенты, которых провайдер больше не знает
	Failed  []string `json:"failed"`
}

// SyncAll синхронизирует всех известных агентов одним запросом к провайдеру.
func (s *RemoteService) SyncAll(ctx context.Context) (*SyncReport, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := s.api.ListAgents(ctx)
	if err != nil {
		s.recordFailure(ctx, operator, audit.ActionSync, "*", err)
		return nil, fmt.Errorf("sync all: %w", err)
	}
	byID := make(map[string]*provider.Agent, len(remote))
	for i := range remote {
		byID[remote[i].ID] = &remote[i]
	}

	local, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync all: %w", err)
	}

	report := &SyncReport{Missing: []string{}, Failed: []string{}}
	for i := range local {
		agent := &local[i]
		pa, ok := byID[agent.ProviderAgentID]
		if !ok {
			report.Missing = append(report.Missing, agent.ID)
			continue
		}
		if err := s.applyProviderState(ctx, agent, pa); err != nil {
			s.logger.Warn("agent sync skipped", zap.String("agent_id", agent.ID), zap.Error(err))
			report.Failed = append(report.Failed, agent.ID)
			continue
		}
		report.Updated++
	}

	s.metrics.SessionEvents.WithLabelValues("sync").Add(float64(report.Updated))
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionSync,
		TargetID: "*",
		Details:  map[string]interface{}{"updated": report.Updated, "missing": len(report.Missing), "failed": len(report.Failed)},
		Status:   audit.StatusSuccess,
	})
	return report, nil
}

// RefreshDescription пересобирает имя и описание агента из справочника активов.
func (s *RemoteService) RefreshDescription(ctx context.Context, agentID string) (*domain.RemoteAgent, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("refresh description: %w", err)
	}
	device, err := s.devices.GetDevice(ctx, agent.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("refresh description: %w", err)
	}

	name, description := describeDevice(device)
	if _, err := s.api.UpdateAgent(ctx, agent.ProviderAgentID, provider.AgentUpdate{Name: &name, Description: &description}); err != nil {
		s.recordFailure(ctx, operator, audit.ActionDescribe, agentID, err)
		return nil, fmt.Errorf("refresh description: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionDescribe,
		TargetID: agentID,
		Details:  map[string]interface{}{"description": description},
		Status:   audit.StatusSuccess,
	})
	return agent, nil
}

// Unregister удаляет агента у провайдера и только после этого локальную запись (сеансы каскадом).
func (s *RemoteService) Unregister(ctx context.Context, agentID string) error {
	operator, err := requireOperator(ctx)
	if err != nil {
		return err
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("unregister: %w", err)
	}

	// 404: провайдер агента уже не знает, локальную запись всё равно убираем
	if err := s.api.DeleteAgent(ctx, agent.ProviderAgentID); err != nil && !provider.IsNotFound(err) {
		s.recordFailure(ctx, operator, audit.ActionUnregister, agentID, err)
		return fmt.Errorf("unregister: %w", err)
	}
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}

	s.metrics.SessionEvents.WithLabelValues("unregister").Inc()
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionUnregister,
		TargetID: agentID,
		Details:  map[string]interface{}{"device_id": agent.DeviceID},
		Status:   audit.StatusSuccess,
	})
	s.logger.Info("remote agent unregistered", zap.String("agent_id", agentID), zap.String("operator", operator))
	return nil
}

func (s *RemoteService) GetAgentForDevice(ctx context.Context, deviceID string) (*domain.RemoteAgent, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	return s.store.GetAgentByDevice(ctx, deviceID)
}

func (s *RemoteService) ListSessions(ctx context.Context, agentID string) ([]domain.RemoteSession, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, agentID)
}

func (s *RemoteService) recordFailure(ctx context.Context, operator, action, target string, err error) {
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   action,
		TargetID: target,
		Status:   audit.StatusFailed,
		Error:    err.Error(),
	})
}

// describeDevice: имя = имя актива, описание = "<имя> (<тип>)[, assigned to <сотрудник>]".
func describeDevice(d *domain.Device) (name, description string) {
	description = fmt.Sprintf("%s (%s)", d.Name, d.Type)
	if d.AssigneeName != nil && *d.AssigneeName != "" {
		description += ", assigned to " + *d.AssigneeName
	}
	return d.Name, description
}

func requireOperator(ctx context.Context) (string, error) {
	claims, ok := auth.OperatorFromContext(ctx)
	if !ok {
		return "", domain.ErrUnauthorized
	}
	return claims.Identity(), nil
}

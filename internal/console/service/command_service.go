package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/assetdesk/internal/audit"
	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"go.uber.org/zap"
)

const inboxBatchLimit = 50

type CommandDeps struct {
	Queue    CommandQueue
	Inbox    AgentInbox
	Devices  DiscoveredDeviceStore
	Notifier Notifier
	Auditor  Auditor
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// CommandService — шина команд агентов: постановка в очередь, чтение результата и приём ответов агентов.
type CommandService struct {
	queue    CommandQueue
	inbox    AgentInbox
	devices  DiscoveredDeviceStore
	resolver *KeyResolver
	notifier Notifier
	auditor  Auditor
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

func NewCommandService(deps CommandDeps, logger *zap.Logger) *CommandService {
	s := &CommandService{
		queue:    deps.Queue,
		inbox:    deps.Inbox,
		devices:  deps.Devices,
		resolver: NewKeyResolver(deps.Devices, logger),
		notifier: deps.Notifier,
		auditor:  deps.Auditor,
		metrics:  deps.Metrics,
		now:      deps.Now,
		logger:   logger.Named("command-service"),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
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

// DispatchResult — итог массовой отправки.
type DispatchResult struct {
	CreatedCount   int      `json:"created_count"`
	ResolvedCount  int      `json:"resolved_count"`
	RequestedCount int      `json:"requested_count"`
	CommandIDs     []string `json:"command_ids"`
}

// Dispatch ставит одну PENDING команду на каждое устройство, для которого нашёлся ключ агента.
func (s *CommandService) Dispatch(ctx context.Context, deviceIDs []string, text string) (*DispatchResult, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return nil, err
	}
	command, err := domain.ScriptCommand(text)
	if err != nil {
		return nil, err
	}

	ids := uniqueIDs(deviceIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one device is required", domain.ErrInvalidArgument)
	}

	resolved, err := s.resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	s.metrics.DispatchUnresolved.Add(float64(len(ids) - len(resolved)))
	if len(resolved) == 0 {
		s.recordDispatch(ctx, operator, command, len(ids), 0, nil, domain.ErrAgentNotConnected)
		return nil, fmt.Errorf("%w: none of %d devices has a reachable agent", domain.ErrAgentNotConnected, len(ids))
	}

	createdAt := s.now().UTC()
	cmds := make([]domain.AgentCommand, 0, len(resolved))
	var borrowed []string
	for _, rk := range resolved {
		if rk.Borrowed {
			borrowed = append(borrowed, rk.DeviceID)
		}
		cmds = append(cmds, domain.AgentCommand{
			ID:        uuid.NewString(),
			DeviceID:  rk.AgentKey,
			Command:   command,
			Status:    domain.CommandPending,
			CreatedBy: operator,
			CreatedAt: createdAt,
		})
	}
	if err := s.queue.Enqueue(ctx, cmds); err != nil {
		s.logger.Error("failed to enqueue commands", zap.Int("count", len(cmds)), zap.Error(err))
		s.recordDispatch(ctx, operator, command, len(ids), 0, borrowed, err)
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	result := &DispatchResult{
		CreatedCount:   len(cmds),
		ResolvedCount:  len(resolved),
		RequestedCount: len(ids),
		CommandIDs:     make([]string, 0, len(cmds)),
	}
	kind := domain.ClassifyCommand(command).String()
	for _, c := range cmds {
		result.CommandIDs = append(result.CommandIDs, c.ID)
		s.wake(ctx, c)
	}
	s.metrics.CommandsDispatched.WithLabelValues(kind).Add(float64(len(cmds)))
	s.recordDispatch(ctx, operator, command, len(ids), len(cmds), borrowed, nil)

	s.logger.Info("commands dispatched",
		zap.String("operator", operator),
		zap.String("kind", kind),
		zap.Int("requested", result.RequestedCount),
		zap.Int("created", result.CreatedCount),
		zap.Strings("borrowed_keys", borrowed))
	return result, nil
}

func (s *CommandService) ListAgentFiles(ctx context.Context, deviceID, path string) (string, error) {
	command, err := domain.FileListCommand(path)
	if err != nil {
		return "", err
	}
	return s.enqueueSingle(ctx, deviceID, command)
}

func (s *CommandService) DownloadAgentFile(ctx context.Context, deviceID, path string) (string, error) {
	command, err := domain.FileGetCommand(path)
	if err != nil {
		return "", err
	}
	return s.enqueueSingle(ctx, deviceID, command)
}

func (s *CommandService) RequestAgentScreenshot(ctx context.Context, deviceID string) (string, error) {
	return s.enqueueSingle(ctx, deviceID, domain.ScreenshotCommand())
}

func (s *CommandService) SetAgentPollingInterval(ctx context.Context, deviceID string, seconds int) (string, error) {
	command, err := domain.SetPollingCommand(seconds)
	if err != nil {
		return "", err
	}
	return s.enqueueSingle(ctx, deviceID, command)
}

// enqueueSingle — одна команда на собственный ключ устройства, без заимствования по hostname.
func (s *CommandService) enqueueSingle(ctx context.Context, deviceID, command string) (string, error) {
	operator, err := requireOperator(ctx)
	if err != nil {
		return "", err
	}

	key, err := s.resolver.OwnKey(ctx, deviceID)
	if err != nil {
		return "", err
	}

	cmd := domain.AgentCommand{
		ID:        uuid.NewString(),
		DeviceID:  key,
		Command:   command,
		Status:    domain.CommandPending,
		CreatedBy: operator,
		CreatedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, []domain.AgentCommand{cmd}); err != nil {
		s.logger.Error("failed to enqueue command", zap.String("device_id", deviceID), zap.Error(err))
		return "", fmt.Errorf("enqueue: %w", err)
	}

	kind := domain.ClassifyCommand(command).String()
	s.metrics.CommandsDispatched.WithLabelValues(kind).Inc()
	s.wake(ctx, cmd)
	s.auditor.Record(ctx, audit.Event{
		Actor:    operator,
		Action:   audit.ActionCommand,
		TargetID: cmd.ID,
		Details:  map[string]interface{}{"device_id": deviceID, "kind": kind},
		Status:   audit.StatusSuccess,
	})
	return cmd.ID, nil
}

// GetResult — прямое чтение статуса команды, без ожидания.
func (s *CommandService) GetResult(ctx context.Context, commandID string) (*domain.CommandResult, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	cmd, err := s.queue.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	return cmd.ToResult(), nil
}

// PendingFor отдаёт агенту его очередь и отмечает last_seen. На неизвестный ключ отвечает ErrUnauthorized.
func (s *CommandService) PendingFor(ctx context.Context, agentKey string) ([]domain.AgentCommand, error) {
	if agentKey == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := s.devices.TouchLastSeen(ctx, agentKey, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown agent key", domain.ErrUnauthorized)
		}
		return nil, err
	}
	return s.inbox.PendingFor(ctx, agentKey, inboxBatchLimit)
}

// CompleteRequest — ответ агента на команду.
type CompleteRequest struct {
	Status domain.CommandStatus `json:"status"`
	Result *string              `json:"result"`
	Error  *string              `json:"error"`
}

// Complete принимает результат агента. Агент может записать только COMPLETED или FAILED.
func (s *CommandService) Complete(ctx context.Context, agentKey, commandID string, req CompleteRequest) error {
	if agentKey == "" {
		return domain.ErrUnauthorized
	}
	if req.Status != domain.CommandCompleted && req.Status != domain.CommandFailed {
		return fmt.Errorf("%w: agent may report COMPLETED or FAILED, got %q", domain.ErrInvalidArgument, req.Status)
	}
	if err := domain.CommandPending.CanTransitionTo(req.Status); err != nil {
		return err
	}

	if err := s.inbox.Complete(ctx, commandID, agentKey, req.Status, req.Result, req.Error, s.now().UTC()); err != nil {
		return err
	}
	s.metrics.CommandsCompleted.WithLabelValues(string(req.Status)).Inc()
	return nil
}

func (s *CommandService) wake(ctx context.Context, cmd domain.AgentCommand) {
	// Сигнал best effort: агент всё равно заберёт команду на следующем опросе
	if err := s.notifier.NotifyCommand(ctx, cmd.DeviceID, cmd.ID); err != nil {
		s.logger.Warn("command wake-up signal failed", zap.String("command_id", cmd.ID), zap.Error(err))
	}
}

// recordDispatch: borrowed — устройства, получившие команду по ключу соседа с тем же hostname.
func (s *CommandService) recordDispatch(ctx context.Context, operator, command string, requested, created int, borrowed []string, err error) {
	details := map[string]interface{}{"kind": domain.ClassifyCommand(command).String(), "requested": requested, "created": created}
	if len(borrowed) > 0 {
		details["borrowed"] = borrowed
	}
	e := audit.Event{
		Actor:   operator,
		Action:  audit.ActionDispatch,
		Details: details,
		Status:  audit.StatusSuccess,
	}
	if err != nil {
		e.Status = audit.StatusFailed
		e.Error = err.Error()
	}
	s.auditor.Record(ctx, e)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

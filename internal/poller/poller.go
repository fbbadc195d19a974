// Package poller ждёт результата команды агента, опрашивая её статус с фиксированным интервалом.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 500 * time.Millisecond

	// ListAttempts — бюджет для FILE_LS: агент отвечает почти сразу после своего цикла опроса.
	ListAttempts uint = 20
	// DownloadAttempts — FILE_GET и скриншоты везут байты, бюджет втрое больше.
	DownloadAttempts uint = 60
)

var (
	// ErrTimeout — агент не ответил за отведённое число попыток. Это не FAILED.
	ErrTimeout = errors.New("timed out waiting for agent result")
	// ErrCommandExpired — команду списал sweeper, агент её так и не забрал.
	ErrCommandExpired = errors.New("command expired before the agent picked it up")

	errStillPending = errors.New("command still pending")
)

// CommandFailedError — агент выполнил команду и сообщил об ошибке.
type CommandFailedError struct {
	CommandID string
	Message   string
}

func (e *CommandFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command %s failed on agent", e.CommandID)
	}
	return fmt.Sprintf("command %s failed on agent: %s", e.CommandID, e.Message)
}

// ResultFetcher — прямое чтение статуса команды.
type ResultFetcher interface {
	GetResult(ctx context.Context, commandID string) (*domain.CommandResult, error)
}

type Poller struct {
	fetcher  ResultFetcher
	interval time.Duration
	logger   *zap.Logger
}

func New(fetcher ResultFetcher, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetcher: fetcher, interval: interval, logger: logger.Named("poller")}
}

// Wait опрашивает команду не более attempts раз. Первый запрос уходит сразу.
// На каждом тике проверяется COMPLETED, затем FAILED/EXPIRED, и только потом исчерпание попыток.
func (p *Poller) Wait(ctx context.Context, commandID string, attempts uint) (*domain.CommandResult, error) {
	if attempts == 0 {
		attempts = 1
	}

	var final *domain.CommandResult
	var calls uint

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		// Повторяем только пока команда в очереди; ошибки транспорта и терминальные статусы выходят сразу
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errStillPending)
		}),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return p.interval
		}),
	)

	err := r.Do(func() error {
		calls++
		res, err := p.fetcher.GetResult(ctx, commandID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.CommandCompleted:
			final = res
			return nil
		case domain.CommandFailed:
			return &CommandFailedError{CommandID: commandID, Message: res.Error}
		case domain.CommandExpired:
			return ErrCommandExpired
		default:
			return errStillPending
		}
	})

	switch {
	case err == nil:
		p.logger.Debug("command completed", zap.String("command_id", commandID), zap.Uint("polls", calls))
		return final, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errStillPending):
		p.logger.Debug("command timed out", zap.String("command_id", commandID), zap.Uint("polls", calls))
		return nil, fmt.Errorf("%w: command %s after %d polls", ErrTimeout, commandID, calls)
	default:
		return nil, unwrapRetry(err)
	}
}

// unwrapRetry достаёт исходную ошибку из обёртки retry-go, чтобы errors.As видел CommandFailedError.
func unwrapRetry(err error) error {
	var failed *CommandFailedError
	if errors.As(err, &failed) {
		return failed
	}
	if errors.Is(err, ErrCommandExpired) {
		return ErrCommandExpired
	}
	return err
}

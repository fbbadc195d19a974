package provider

/*
Файл client.go — клиент REST API провайдера удалённого доступа.

- Каждый запрос подписывается заново: свежий таймстемп на каждый вызов, без кэширования.
- Любой не-2xx превращается в *APIError со статусом и сырым телом ответа.
- Повторов здесь нет. Политика ретраев, если нужна, принадлежит вызывающему.
- Rate Limiter и Circuit Breaker защищают провайдера и нас от лавины запросов;
  4xx считаются успехом для предохранителя (провайдер жив, ошиблись мы).
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration

	RateLimit float64 // запросов в секунду
	RateBurst int

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32 // подряд идущих отказов до размыкания
}

type Option func(*Client)

// WithHTTPClient подменяет транспорт (тесты, прокси).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock подменяет источник времени для подписи.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string

	http    *http.Client
	now     func() time.Time
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewClient(cfg Config, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Client {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.CBFailures
	if failures == 0 {
		failures = 5
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: timeout},
		now:       time.Now,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   m,
		logger:    logger.Named("provider"),
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-provider",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.IsClientError()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateAgent(ctx context.Context, name, description string) (*Agent, error) {
	var agent Agent
	err := c.do(ctx, "create_agent", http.MethodPost, "/agents", createAgentRequest{Name: name, Description: description}, &agent)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, "get_agent", http.MethodGet, "/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) UpdateAgent(ctx context.Context, id string, upd AgentUpdate) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, "update_agent", http.MethodPut, "/agents/"+url.PathEscape(id), upd, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, "delete_agent", http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil)
}

// ListAgents возвращает пустой слайс, если провайдер не прислал ключ agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var resp listAgentsResponse
	if err := c.do(ctx, "list_agents", http.MethodGet, "/agents", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Agents == nil {
		return []Agent{}, nil
	}
	return resp.Agents, nil
}

// CreateSession открывает сеанс; пустой app заменяется на "screen".
func (c *Client) CreateSession(ctx context.Context, agentID, app string) (*Session, error) {
	if app == "" {
		app = DefaultApp
	}
	var session Session
	err := c.do(ctx, "create_session", http.MethodPost, "/sessions", createSessionRequest{AgentID: agentID, App: app}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "destroy_session", http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()
	defer func() {
		c.metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	// 1. Rate Limiter
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.ProviderRequests.WithLabelValues(op, "rate_limited").Inc()
		return fmt.Errorf("provider: %s rate limit wait: %w", op, err)
	}

	// 2. Circuit Breaker
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, body, out)
	})

	var apiErr *APIError
	switch {
	case err == nil:
		c.metrics.ProviderRequests.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.ProviderRequests.WithLabelValues(op, "circuit_open").Inc()
		c.logger.Warn("provider call rejected by circuit breaker", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("provider: %s: %w", op, err)
	case errors.As(err, &apiErr):
		c.metrics.ProviderRequests.WithLabelValues(op, "http_error").Inc()
		c.logger.Error("provider returned error",
			zap.String("operation", op),
			zap.Int("status", apiErr.StatusCode),
			zap.String("body", apiErr.Body))
		return err
	default:
		c.metrics.ProviderRequests.WithLabelValues(op, "transport_error").Inc()
		c.logger.Error("provider call failed", zap.String("operation", op), zap.Error(err))
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("provider: %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("provider: %s: build request: %w", op, err)
	}

	// Свежий таймстемп на каждый запрос
	ts := c.now().UnixMilli()
	req.Header.Set(AuthHeader, AuthorizationValue(c.apiKey, c.apiSecret, ts))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider: %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provider: %s: decode response: %w", op, err)
	}
	return nil
}

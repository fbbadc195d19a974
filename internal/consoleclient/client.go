package consoleclient

/*
Клиент операторского API консоли. Им пользуется rctl: файловый менеджер и поллер
работают поверх этого клиента так же, как поверх сервиса внутри консоли.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// DispatchResult — ответ на массовую отправку команды.
type DispatchResult struct {
	CreatedCount   int      `json:"created_count"`
	ResolvedCount  int      `json:"resolved_count"`
	RequestedCount int      `json:"requested_count"`
	CommandIDs     []string `json:"command_ids"`
}

// APIError — ответ консоли с success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("console: %d: %s", e.StatusCode, e.Message)
}

// Unwrap возвращает доменную ошибку по HTTP-статусу, чтобы вызывающий мог делать errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrInvalidArgument
	case http.StatusPreconditionFailed:
		if strings.Contains(e.Message, domain.ErrAgentNotOnline.Error()) {
			return domain.ErrAgentNotOnline
		}
		return domain.ErrAgentNotConnected
	}
	return nil
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("console-client"),
	}
}

type commandRef struct {
	CommandID string `json:"command_id"`
}

func (c *Client) Dispatch(ctx context.Context, deviceIDs []string, command string) (*DispatchResult, error) {
	var res DispatchResult
	body := map[string]interface{}{"device_ids": deviceIDs, "command": command}
	if err := c.do(ctx, http.MethodPost, "/api/v1/commands/dispatch", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListAgentFiles(ctx context.Context, deviceID, path string) (string, error) {
	return c.enqueue(ctx, deviceID, "/files/list", map[string]string{"path": path})
}

func (c *Client) DownloadAgentFile(ctx context.Context, deviceID, path string) (string, error) {
	return c.enqueue(ctx, deviceID, "/files/get", map[string]string{"path": path})
}

func (c *Client) RequestAgentScreenshot(ctx context.Context, deviceID string) (string, error) {
	return c.enqueue(ctx, deviceID, "/screenshot", nil)
}

func (c *Client) SetAgentPollingInterval(ctx context.Context, deviceID string, seconds int) (string, error) {
	return c.enqueue(ctx, deviceID, "/polling", map[string]int{"seconds": seconds})
}

func (c *Client) GetResult(ctx context.Context, commandID string) (*domain.CommandResult, error) {
	var res domain.CommandResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/commands/"+url.PathEscape(commandID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) enqueue(ctx context.Context, deviceID, suffix string, body interface{}) (string, error) {
	var ref commandRef
	path := "/api/v1/commands/devices/" + url.PathEscape(deviceID) + suffix
	if err := c.do(ctx, http.MethodPost, path, body, &ref); err != nil {
		return "", err
	}
	return ref.CommandID, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("console: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("console: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("console: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if !env.Success {
		c.logger.Debug("console rejected request",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("console: decode %s: %w", path, err)
	}
	return nil
}

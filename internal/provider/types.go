package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// DefaultApp — приложение удалённого управления для сеансов по умолчанию.
const DefaultApp = "screen"

// Agent — представление агента на стороне провайдера.
type Agent struct {
	ID            string   `json:"id"`
	State         string   `json:"state"`
	OSType        string   `json:"os_type"`
	InstallCode   string   `json:"install_code"`
	SupportedApps []string `json:"supported_apps"`
}

// AgentUpdate — частичное обновление, nil-поля не отправляются.
type AgentUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type Session struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AgentID string `json:"agent_id"`
	App     string `json:"app"`
}

type createAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createSessionRequest struct {
	AgentID string `json:"agent_id"`
	App     string `json:"app"`
}

type listAgentsResponse struct {
	Agents []Agent `json:"agents"`
}

// APIError — любой не-2xx ответ провайдера. Тело сохраняется как есть для диагностики.
type APIError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: %s failed: %s: %s", e.Operation, e.Status, e.Body)
}

// IsClientError — ошибка на нашей стороне (4xx), провайдер при этом жив.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsNotFound удобен вызывающим при разборе ответа DELETE/GET.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnavailable — вызов не ушёл к провайдеру: предохранитель разомкнут или полуоткрыт.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// AgentState — состояние регистрации устройства у провайдера удалённого доступа.
type AgentState string

const (
	AgentWaitingInstall AgentState = "waiting-install" // Код установки выдан, агент ещё не поставлен
	AgentOnline         AgentState = "online"
	AgentOffline        AgentState = "offline"
)

// ParseAgentState принимает только известные провайдеру состояния.
func ParseAgentState(s string) (AgentState, error) {
	switch st := AgentState(s); st {
	case AgentWaitingInstall, AgentOnline, AgentOffline:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown agent state %q", ErrInvalidArgument, s)
	}
}

// CanTransitionTo проверяет правила конечного автомата WAITING_INSTALL → ONLINE ⇄ OFFLINE.
// Повторная запись того же состояния разрешена (обычный refresh при синхронизации).
func (s AgentState) CanTransitionTo(next AgentState) error {
	if s == next {
		return nil
	}
	switch s {
	case AgentWaitingInstall:
		if next == AgentOnline || next == AgentOffline {
			return nil
		}
	case AgentOnline:
		if next == AgentOffline {
			return nil
		}
	case AgentOffline:
		if next == AgentOnline {
			return nil
		}
	}
	return fmt.Errorf("%w: agent %s -> %s", ErrInvalidTransition, s, next)
}

// RemoteAgent — привязка устройства (Asset) к агенту провайдера. Не более одного на устройство.
type RemoteAgent struct {
	ID              string     `json:"id"`
	DeviceID        string     `json:"device_id"`
	ProviderAgentID string     `json:"provider_agent_id"`
	InstallCode     string     `json:"install_code,omitempty"` // Показывается установщику один раз
	State           AgentState `json:"state"`
	OSType          string     `json:"os_type"`
	SupportedApps   string     `json:"supported_apps"` // Список через запятую, как хранится в БД
	LastOnline      *time.Time `json:"last_online,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// JoinApps складывает список приложений провайдера в строку через запятую, как она хранится в БД.
func JoinApps(apps []string) string {
	return strings.Join(apps, ",")
}

// SessionStatus — статус сеанса удалённого управления.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionClosed SessionStatus = "CLOSED"
)

// CanTransitionTo: единственный допустимый переход ACTIVE → CLOSED.
func (s SessionStatus) CanTransitionTo(next SessionStatus) error {
	if s == SessionClosed {
		return ErrSessionClosed
	}
	if s == SessionActive && next == SessionClosed {
		return nil
	}
	return fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, s, next)
}

type RemoteSession struct {
	ID                string        `json:"id"`
	AgentID           string        `json:"agent_id"`
	ProviderSessionID string        `json:"provider_session_id"`
	URL               string        `json:"url"`
	Purpose           string        `json:"purpose"`
	StartedBy         *string       `json:"started_by,omitempty"`
	Status            SessionStatus `json:"status"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           *time.Time    `json:"end_time,omitempty"`
	Duration          *int          `json:"duration,omitempty"` // Целые минуты, только после закрытия
}

// SessionDuration — длительность в целых минутах, округление вниз.
func SessionDuration(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(ms / 60000)
}

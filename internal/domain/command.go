package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandStatus — статус команды в очереди опроса.
// PENDING всегда начальный; COMPLETED и FAILED пишет агент, EXPIRED — только sweeper.
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandCompleted CommandStatus = "COMPLETED"
	CommandFailed    CommandStatus = "FAILED"
	CommandExpired   CommandStatus = "EXPIRED"
)

func (s CommandStatus) IsTerminal() bool {
	return s == CommandCompleted || s == CommandFailed || s == CommandExpired
}

// CanTransitionTo: только вперёд, из PENDING в терминальный статус.
func (s CommandStatus) CanTransitionTo(next CommandStatus) error {
	if s.IsTerminal() {
		return ErrCommandFinished
	}
	if s == CommandPending && next.IsTerminal() {
		return nil
	}
	return fmt.Errorf("%w: command %s -> %s", ErrInvalidTransition, s, next)
}

// AgentCommand — строка таблицы agent_commands.
// DeviceID здесь — ключ агента, а не первичный ключ DiscoveredDevice.
type AgentCommand struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"device_id"`
	Command     string        `json:"command"`
	Status      CommandStatus `json:"status"`
	Result      *string       `json:"result,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// CommandResult — то, что видит сторона оператора при опросе.
// Интерпретация Result зависит от отправленной команды (JSON для FILE_LS, Base64 для FILE_GET).
type CommandResult struct {
	ID     string        `json:"id"`
	Status CommandStatus `json:"status"`
	Result string        `json:"result"`
	Error  string        `json:"error,omitempty"`
}

func (c *AgentCommand) ToResult() *CommandResult {
	r := &CommandResult{ID: c.ID, Status: c.Status}
	if c.Result != nil {
		r.Result = *c.Result
	}
	if c.Error != nil {
		r.Error = *c.Error
	}
	return r
}

// Ключевые слова DSL команд агента. Регистр важен.
const (
	KeywordSetPolling = "SET_POLLING"
	KeywordFileList   = "FILE_LS"
	KeywordFileGet    = "FILE_GET"
	KeywordScreenshot = "GET_SCREENSHOT"

	// RootPath — сентинел «показать диски/корни», а не путь в файловой системе.
	RootPath = "ROOT"
)

type CommandKind int

const (
	KindScript CommandKind = iota
	KindSetPolling
	KindFileList
	KindFileGet
	KindScreenshot
)

func (k CommandKind) String() string {
	switch k {
	case KindSetPolling:
		return "set_polling"
	case KindFileList:
		return "file_ls"
	case KindFileGet:
		return "file_get"
	case KindScreenshot:
		return "screenshot"
	default:
		return "script"
	}
}

// ClassifyCommand определяет вид команды по первому токену.
// Всё, что не начинается с ключевого слова, уходит агенту как скрипт.
func ClassifyCommand(text string) CommandKind {
	keyword, _, _ := strings.Cut(text, " ")
	switch keyword {
	case KeywordSetPolling:
		return KindSetPolling
	case KeywordFileList:
		return KindFileList
	case KeywordFileGet:
		return KindFileGet
	case KeywordScreenshot:
		return KindScreenshot
	default:
		return KindScript
	}
}

func SetPollingCommand(seconds int) (string, error) {
	if seconds <= 0 {
		return "", fmt.Errorf("%w: polling interval must be positive, got %d", ErrInvalidArgument, seconds)
	}
	return KeywordSetPolling + " " + strconv.Itoa(seconds), nil
}

func FileListCommand(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	return KeywordFileList + " " + path, nil
}

func FileGetCommand(path string) (string, error) {
	if strings.TrimSpace(path) == "" || path == RootPath {
		return "", fmt.Errorf("%w: file path is required", ErrInvalidArgument)
	}
	return KeywordFileGet + " " + path, nil
}

func ScreenshotCommand() string {
	return KeywordScreenshot
}

// ScriptCommand проверяет произвольный текст скрипта; агент выполнит его как есть.
func ScriptCommand(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: command text is required", ErrInvalidArgument)
	}
	return text, nil
}

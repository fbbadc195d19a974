package audit

import "time"

// Действия оператора, которые попадают в журнал remote_audit.
const (
	ActionRegister     = "agent.register"
	ActionUnregister   = "agent.unregister"
	ActionSync         = "agent.sync"
	ActionDescribe     = "agent.describe"
	ActionSessionStart = "session.start"
	ActionSessionEnd   = "session.end"
	ActionDispatch     = "command.dispatch"
	ActionCommand      = "command.enqueue"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type Event struct {
	ID       string                 `json:"id"`
	Actor    string                 `json:"actor"`     // Оператор (или "system" для фоновых задач)
	Action   string                 `json:"action"`    // См. Action*
	TargetID string                 `json:"target_id"` // device / agent / session / command id
	Details  map[string]interface{} `json:"details"`

	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

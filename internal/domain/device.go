package domain

import "time"

// Device — актив из основного реестра портала. Ядро его только читает.
type Device struct {
	ID           string  `json:"id"`
	Tag          string  `json:"tag"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	AssigneeName *string `json:"assignee_name,omitempty"`
}

// DiscoveredDevice — запись сетевой инвентаризации, через неё шина команд находит ключ агента.
type DiscoveredDevice struct {
	ID        string    `json:"id"`
	AgentKey  *string   `json:"agent_key,omitempty"`
	Hostname  *string   `json:"hostname,omitempty"`
	IPAddress string    `json:"ip_address"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

func (d *DiscoveredDevice) HasAgentKey() bool {
	return d.AgentKey != nil && *d.AgentKey != ""
}

func (d *DiscoveredDevice) HostnameValue() string {
	if d.Hostname == nil {
		return ""
	}
	return *d.Hostname
}

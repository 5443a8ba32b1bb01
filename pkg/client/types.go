package client

import "time"

// ServiceStatus mirrors the status document served by the API.
type ServiceStatus struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	Port         int        `json:"port,omitempty"`
	State        string     `json:"state"`
	Error        string     `json:"error,omitempty"`
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RestartCount int        `json:"restart_count"`
	SpawnedByUs  bool       `json:"spawned_by_us"`
	IsContainer  bool       `json:"is_container"`
	ProcessGroup string     `json:"process_group,omitempty"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	AutoStart    bool       `json:"auto_start"`
}

// ActionResult is returned by start, stop and restart.
type ActionResult struct {
	Key     string `json:"key"`
	OK      bool   `json:"success"`
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

// BulkResult is one entry of a start-all or stop-all response.
type BulkResult = ActionResult

// LogsResponse carries the tail of a service log.
type LogsResponse struct {
	Key   string `json:"key"`
	Lines int    `json:"lines"`
	Logs  string `json:"logs"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

package service

import "time"

// Status is the read-only view of a service returned to callers.
type Status struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	Port         int        `json:"port,omitempty"`
	State        State      `json:"state"`
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

// NewStatus combines a definition and a runtime snapshot. now prunes the
// restart window so the count matches what the restart policy sees.
func NewStatus(d Definition, rt Runtime, now time.Time) Status {
	st := Status{
		Key:          d.Key,
		Name:         d.DisplayName(),
		Port:         d.Port,
		State:        rt.State,
		Error:        rt.Error,
		PID:          rt.PID,
		RestartCount: rt.Restarts.Count(now),
		SpawnedByUs:  rt.SpawnedByUs,
		IsContainer:  d.IsContainer(),
		ProcessGroup: d.ProcessGroup,
		DependsOn:    append([]string(nil), d.DependsOn...),
	}
	if !rt.StartedAt.IsZero() {
		t := rt.StartedAt
		st.StartedAt = &t
	}
	return st
}

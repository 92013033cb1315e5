package model

import (
	"encoding/json"
	"time"
)

// HealthStatus represents the health of one component or the whole process.
type HealthStatus int

const (
	StatusHealthy  HealthStatus = 0
	StatusDegraded HealthStatus = 1
	StatusCritical HealthStatus = 2
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalJSON emits the lowercase word clients expect.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the lowercase word form.
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	default:
		*s = StatusCritical
	}
	return nil
}

// ComponentHealth is the outcome of one probe.
type ComponentHealth struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	LatencyMs float64      `json:"latencyMs,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// HealthReport aggregates all component probes. Overall is the worst
// component status.
type HealthReport struct {
	Overall    HealthStatus      `json:"overall"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checkedAt"`
}

// Alert is a debounced health transition. One alert is raised per
// (component, status) transition and resolved when the component returns
// to healthy.
type Alert struct {
	Component  string       `json:"component"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message"`
	RaisedAt   time.Time    `json:"raisedAt"`
	ResolvedAt *time.Time   `json:"resolvedAt,omitempty"`
}

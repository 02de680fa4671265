package health

import "time"

// Status strings reported by Status.Status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Since       time.Time `json:"since"`
	Transitions int64     `json:"transitions"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// WithMessage returns a copy of the status carrying msg.
func (s Status) WithMessage(msg string) Status {
	s.Message = msg
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(sub Status) Status {
	// new slice so copies never share a backing array
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Aggregate rolls sub-statuses into one. The result is healthy when every
// sub-status is, unhealthy when none is, and degraded otherwise.
func Aggregate(component string, subs ...Status) Status {
	out := Status{Component: component, Timestamp: time.Now(), Status: StatusHealthy, Healthy: true}
	healthyCount := 0
	for _, sub := range subs {
		out = out.WithSubStatus(sub)
		if sub.Healthy {
			healthyCount++
		}
	}
	switch {
	case len(subs) == 0 || healthyCount == len(subs):
	case healthyCount == 0:
		out.Status = StatusUnhealthy
		out.Healthy = false
	default:
		out.Status = StatusDegraded
		out.Healthy = false
	}
	return out
}

// Package health provides health status reporting for the aggregation service.
package health

import (
	"time"
)

// Status values reported by Check implementations.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a component or the whole service
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"` // true if status is "healthy"
	Status      string    `json:"status"`  // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// Healthy builds a healthy status for the named component
func Healthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Degraded builds a degraded status for the named component
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Unhealthy builds an unhealthy status for the named component
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Check reports the current health of one component.
type Check func() Status

// Aggregate combines component checks into a service-level status. The
// service is unhealthy if any component is unhealthy, degraded if any
// component is degraded, healthy otherwise.
func Aggregate(component string, checks ...Check) Status {
	overall := Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}

	for _, check := range checks {
		sub := check()
		overall.SubStatuses = append(overall.SubStatuses, sub)

		switch {
		case sub.IsUnhealthy():
			overall.Status = StatusUnhealthy
			overall.Healthy = false
		case sub.IsDegraded() && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
			overall.Healthy = false
		}
	}

	return overall
}

package entity

import "fmt"

// ConfigurationError rejects a plan before any order is submitted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid ladder configuration: %s %s", e.Field, e.Reason)
}

// InconsistencyError describes exchange state that disagrees with the plan.
type InconsistencyError struct {
	PlanID string
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("plan %s inconsistent: %s", e.PlanID, e.Detail)
}

package types

import "fmt"

// TargetType discriminates what a detection target points at
type TargetType string

const (
	TargetAccount TargetType = "account"
	TargetGroup   TargetType = "group"
)

// DetectionTarget is a subscription or management group configured for
// scanning. Managed through the target registry; read-only to the engine.
type DetectionTarget struct {
	TargetID     string     `json:"targetId"`
	TargetType   TargetType `json:"targetType"`
	Enabled      bool       `json:"enabled"`
	NotifyEmails []string   `json:"notifyEmails,omitempty"`
}

// Validate checks registry invariants before a target is stored
func (t DetectionTarget) Validate() error {
	if t.TargetID == "" {
		return fmt.Errorf("target ID cannot be empty")
	}
	if t.TargetType != TargetAccount && t.TargetType != TargetGroup {
		return fmt.Errorf("target type must be %q or %q, got %q", TargetAccount, TargetGroup, t.TargetType)
	}
	return nil
}

package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordStatusOpen is the initial lifecycle status of a persisted finding
const RecordStatusOpen = "open"

// FindingRecord is the persisted envelope of a Finding. One record per
// findingId; re-saving the same findingId overwrites (idempotent upsert).
type FindingRecord struct {
	RecordID      string    `json:"recordId"`
	ModuleID      string    `json:"moduleId"`
	ExecutionDate time.Time `json:"executionDate"`
	Status        string    `json:"status"`
	Finding
}

// NewFindingRecord wraps a finding in its persistence envelope with a
// fresh record ID and open status
func NewFindingRecord(moduleID string, executionDate time.Time, f Finding) FindingRecord {
	return FindingRecord{
		RecordID:      uuid.NewString(),
		ModuleID:      moduleID,
		ExecutionDate: executionDate,
		Status:        RecordStatusOpen,
		Finding:       f,
	}
}

// Month returns the calendar-month bucket key of the record, "YYYY-MM"
func (r FindingRecord) Month() string {
	return r.ExecutionDate.UTC().Format("2006-01")
}

// Validate checks the record can be stored and later bucketed
func (r FindingRecord) Validate() error {
	if r.ModuleID == "" {
		return fmt.Errorf("module ID cannot be empty")
	}
	if r.ExecutionDate.IsZero() {
		return fmt.Errorf("execution date cannot be zero")
	}
	return r.Finding.Validate()
}

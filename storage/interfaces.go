package storage

import (
	"time"

	"github.com/cloudtrim/cloudtrim/types"
)

// FindingQuery selects persisted finding records. Zero-valued fields are
// not filtered on. Results are always ordered most recent first.
type FindingQuery struct {
	ModuleID       string
	SubscriptionID string
	Status         string
	Since          time.Time
	Limit          int
}

// FindingWriter persists finding records from detection runs
type FindingWriter interface {
	SaveFindings(records []types.FindingRecord) (saved int, err error)
}

// FindingReader queries persisted finding history
type FindingReader interface {
	QueryFindings(q FindingQuery) ([]types.FindingRecord, error)
}

// FindingStore combines read and write for finding history
type FindingStore interface {
	FindingWriter
	FindingReader
}

// TargetRegistry manages which accounts and groups get scanned
type TargetRegistry interface {
	SaveTarget(target types.DetectionTarget) error
	ListTargets(includeDisabled bool, targetType types.TargetType) ([]types.DetectionTarget, error)
}

// Compactor drops finding records past the retention horizon
type Compactor interface {
	Compact(olderThan time.Time) (removed int, err error)
}

// StoreStats provides operational metrics
type StoreStats interface {
	Stats() (recordCount int, currentRev int64, dbSizeBytes int64)
}

// Lifecycle manages store lifecycle
type Lifecycle interface {
	Close() error
}

// Store is the complete persistence interface combining all capabilities
type Store interface {
	FindingStore
	TargetRegistry
	Compactor
	StoreStats
	Lifecycle
}

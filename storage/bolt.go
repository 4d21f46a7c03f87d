// Package storage persists finding history and the detection target
// registry in a local bbolt database. An in-memory btree keeps records
// ordered by execution date so history and trend queries never scan the
// full database.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/cloudtrim/cloudtrim/types"
)

// Bucket names in bbolt
var (
	bucketFindings = []byte("findings")
	bucketTargets  = []byte("targets")
	bucketMeta     = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

// BoltStore implements Store on a single bbolt file
type BoltStore struct {
	mu sync.RWMutex

	// In-memory index for date-ordered queries
	index *btree.BTreeG[recordRef]

	// On-disk storage
	db *bbolt.DB

	// Monotonic save counter
	currentRev int64

	// Path to storage directory
	dir string
}

// recordRef orders persisted findings by execution date without holding
// full records in memory
type recordRef struct {
	ExecutionDate  time.Time
	FindingID      string
	ModuleID       string
	SubscriptionID string
	Status         string
}

func lessRecordRef(a, b recordRef) bool {
	if !a.ExecutionDate.Equal(b.ExecutionDate) {
		return a.ExecutionDate.Before(b.ExecutionDate)
	}
	return a.FindingID < b.FindingID
}

func refOf(record types.FindingRecord) recordRef {
	return recordRef{
		ExecutionDate:  record.ExecutionDate.UTC(),
		FindingID:      record.FindingID,
		ModuleID:       record.ModuleID,
		SubscriptionID: record.SubscriptionID,
		Status:         record.Status,
	}
}

func (r recordRef) matches(q FindingQuery) bool {
	if q.ModuleID != "" && r.ModuleID != q.ModuleID {
		return false
	}
	if q.SubscriptionID != "" && r.SubscriptionID != q.SubscriptionID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	return true
}

// NewBoltStore opens (or creates) the store under dir
func NewBoltStore(dir string) (*BoltStore, error) {
	dbPath := filepath.Join(dir, "cloudtrim.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketFindings, bucketTargets, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &BoltStore{
		index: btree.NewG(32, lessRecordRef),
		db:    db,
		dir:   dir,
	}

	if err := store.loadRevision(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the store
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveFindings upserts finding records keyed by findingId. Re-saving a
// findingId overwrites its previous record, so a retried execution never
// duplicates history.
func (s *BoltStore) SaveFindings(records []types.FindingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i, record := range records {
		if err := record.Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev

	// An earlier save of a findingId leaves an index entry under its old
	// execution date; collect those so they can be dropped after commit.
	var stale []recordRef

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFindings)

		for _, record := range records {
			key := []byte(record.FindingID)

			if prev := bucket.Get(key); prev != nil {
				var old types.FindingRecord
				if err := json.Unmarshal(prev, &old); err == nil {
					stale = append(stale, refOf(old))
				}
			}

			value, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, value); err != nil {
				return err
			}
		}

		metaBucket := tx.Bucket(bucketMeta)
		return metaBucket.Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, err
	}

	// Update in-memory index
	for _, ref := range stale {
		s.index.Delete(ref)
	}
	for _, record := range records {
		s.index.ReplaceOrInsert(refOf(record))
	}

	return len(records), nil
}

// QueryFindings returns records matching q, most recent first
func (s *BoltStore) QueryFindings(q FindingQuery) ([]types.FindingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	s.index.Descend(func(ref recordRef) bool {
		if !q.Since.IsZero() && ref.ExecutionDate.Before(q.Since) {
			return false // descending by date: everything past this is older
		}
		if !ref.matches(q) {
			return true
		}
		keys = append(keys, ref.FindingID)
		return q.Limit <= 0 || len(keys) < q.Limit
	})

	results := make([]types.FindingRecord, 0, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFindings)
		for _, key := range keys {
			value := bucket.Get([]byte(key))
			if value == nil {
				continue
			}
			var record types.FindingRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decoding record %s: %w", key, err)
			}
			results = append(results, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// SaveTarget upserts a detection target keyed by targetId
func (s *BoltStore) SaveTarget(target types.DetectionTarget) error {
	if err := target.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(target)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTargets).Put([]byte(target.TargetID), value)
	})
}

// ListTargets returns registered targets in targetId order, enabled only
// unless includeDisabled is set. A non-empty targetType narrows to that
// type.
func (s *BoltStore) ListTargets(includeDisabled bool, targetType types.TargetType) ([]types.DetectionTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []types.DetectionTarget
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTargets).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var target types.DetectionTarget
			if err := json.Unmarshal(v, &target); err != nil {
				return fmt.Errorf("decoding target %s: %w", k, err)
			}
			if !includeDisabled && !target.Enabled {
				continue
			}
			if targetType != "" && target.TargetType != targetType {
				continue
			}
			targets = append(targets, target)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return targets, nil
}

// Compact removes finding records executed before the retention horizon
func (s *BoltStore) Compact(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []recordRef
	s.index.Ascend(func(ref recordRef) bool {
		if !ref.ExecutionDate.Before(olderThan) {
			return false // ascending by date: everything past this is newer
		}
		expired = append(expired, ref)
		return true
	})
	if len(expired) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFindings)
		for _, ref := range expired {
			if err := bucket.Delete([]byte(ref.FindingID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, ref := range expired {
		s.index.Delete(ref)
	}

	return len(expired), nil
}

// Stats reports record count, save revision and database file size
func (s *BoltStore) Stats() (recordCount int, currentRev int64, dbSizeBytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recordCount = s.index.Len()
	currentRev = s.currentRev

	s.db.View(func(tx *bbolt.Tx) error {
		dbSizeBytes = tx.Size()
		return nil
	})

	return recordCount, currentRev, dbSizeBytes
}

func (s *BoltStore) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

// rebuildIndex reloads the date-ordered index from disk on open
func (s *BoltStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFindings).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record types.FindingRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("rebuilding index at %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(refOf(record))
		}
		return nil
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func bytesToInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}

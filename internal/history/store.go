// Package history keeps a local record of finished runs in a bbolt file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BucketRuns holds one entry per run.
const BucketRuns = "runs"

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// StageSummary is the stage table of a recorded run.
type StageSummary struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// Record summarises one run.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Target    string         `json:"target"`
	Method    string         `json:"method"`
	Stages    []StageSummary `json:"stages"`
	StartTime time.Time      `json:"startTime"`
	Duration  time.Duration  `json:"duration"`
	Cancelled bool           `json:"cancelled"`

	TotalRequests int64         `json:"totalRequests"`
	Failed        int64         `json:"failed"`
	RPS           float64       `json:"rps"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
	PeakVUs       int           `json:"peakVUs"`
	Unreachable   bool          `json:"unreachable,omitempty"`
}

// keyLayout is RFC 3339 with fixed-width nanoseconds so keys sort by time.
const keyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// key orders records by start time; the ID breaks ties.
func (r Record) key() []byte {
	return []byte(r.StartTime.UTC().Format(keyLayout) + "/" + r.ID)
}

// Store is a bbolt-backed run history.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.ramp/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ramp", "history.db"), nil
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores rec, replacing any record with the same start time and ID.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return errors.New("record has no ID")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put(rec.key(), data)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt history entry %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Get returns the record of run id.
func (s *Store) Get(id string) (*Record, error) {
	var found *Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ID == id {
				found = &rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

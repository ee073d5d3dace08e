// Package storage keeps the history of import and training runs in a BoltDB
// file next to the data directory.
//
// Records are JSON encoded and keyed by creation time, so cursor order is
// chronological order.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// DBFile is the registry file name inside the data directory.
const DBFile = "registry.db"

const (
	runsBucket    = "runs"    // Bucket name for training runs
	importsBucket = "imports" // Bucket name for import runs
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// Store is the run registry.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the registry in dataPath. The directory must exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(importsBucket)); err != nil {
			return fmt.Errorf("create imports bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Open creates dataPath when missing and opens the registry in it.
func Open(dataPath string) (*Store, error) {
	if dataPath == "" {
		return nil, fmt.Errorf("data path is empty")
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return New(dataPath)
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunRecord describes one saved model artifact.
type RunRecord struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	ArtifactPath  string        `json:"artifact_path"`
	SHA256        string        `json:"sha256"`
	ModelName     string        `json:"model_name"`
	ModelVersion  string        `json:"model_version"`
	ModelType     string        `json:"model_type"`
	ROCAUC        float64       `json:"roc_auc"`
	BestIteration int           `json:"best_iteration"`
	TrainRows     int           `json:"train_rows"`
	TestRows      int           `json:"test_rows"`
	Seed          int64         `json:"seed"`
	Duration      time.Duration `json:"duration"`
}

// RecordRun stores a training run. A missing ID or timestamp is filled in;
// the stored record is returned.
func (s *Store) RecordRun(run RunRecord) (RunRecord, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if err := s.put(runsBucket, run.CreatedAt, run.ID, run); err != nil {
		return RunRecord{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

// RunsBetween returns training runs created within [start, end], oldest
// first. A zero bound is open.
func (s *Store) RunsBetween(start, end time.Time) ([]RunRecord, error) {
	return getRecordsInRange[RunRecord](s, runsBucket, start, end)
}

// LatestRun returns the most recent training run.
func (s *Store) LatestRun() (RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(runsBucket)).Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &run)
	})
	return run, err
}

// RunBySHA returns the newest run whose artifact has the given digest.
func (s *Store) RunBySHA(sum string) (RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip malformed records
			}
			if r.SHA256 == sum {
				run = r
				return nil
			}
		}
		return ErrNotFound
	})
	return run, err
}

// Lineage places a model artifact in the run history.
type Lineage struct {
	Run   RunRecord   // run that wrote the artifact, valid when Known
	Known bool        // false when no run recorded the artifact's digest
	Newer []RunRecord // runs with other digests recorded after the artifact
}

// Stale reports whether a newer model has been trained since the artifact.
func (l Lineage) Stale() bool { return len(l.Newer) > 0 }

// Lineage looks up the run that produced the artifact with digest sum and
// the runs recorded after trainedAt.
func (s *Store) Lineage(sum string, trainedAt time.Time) (Lineage, error) {
	var l Lineage
	run, err := s.RunBySHA(sum)
	switch {
	case err == nil:
		l.Run, l.Known = run, true
	case !errors.Is(err, ErrNotFound):
		return Lineage{}, err
	}

	runs, err := s.RunsBetween(trainedAt.Add(time.Nanosecond), time.Time{})
	if err != nil {
		return Lineage{}, err
	}
	for _, r := range runs {
		if r.SHA256 != sum {
			l.Newer = append(l.Newer, r)
		}
	}
	return l, nil
}

func (s *Store) put(bucket string, at time.Time, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(recordKey(at, id), data)
	})
}

// recordKey sorts by time; the id breaks ties between records of the same
// instant.
func recordKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", at.UnixNano(), id))
}

// getRecordsInRange decodes every record of a bucket created within
// [start, end]. Zero bounds are open.
func getRecordsInRange[T any](s *Store, bucketName string, start, end time.Time) ([]T, error) {
	var records []T

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()

		var k, v []byte
		if start.IsZero() {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(fmt.Sprintf("%020d", start.UnixNano())))
		}
		var endKey []byte
		if !end.IsZero() {
			endKey = []byte(fmt.Sprintf("%020d_~", end.UnixNano()))
		}

		for ; k != nil; k, v = c.Next() {
			if endKey != nil && bytes.Compare(k, endKey) > 0 {
				break
			}
			var rec T
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			records = append(records, rec)
		}
		return nil
	})

	return records, err
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ImportRecord describes one run of the import job.
type ImportRecord struct {
	ID               string        `json:"id"`
	CreatedAt        time.Time     `json:"created_at"`
	SessionsSource   string        `json:"sessions_source"`
	HitsSource       string        `json:"hits_source"`
	OutputPath       string        `json:"output_path"`
	Sessions         int           `json:"sessions"`
	LabeledSessions  int           `json:"labeled_sessions"`
	JoinedRows       int           `json:"joined_rows"`
	PositiveSessions int           `json:"positive_sessions"`
	Duration         time.Duration `json:"duration"`
}

// RecordImport stores an import run.
func (s *Store) RecordImport(rec ImportRecord) (ImportRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.put(importsBucket, rec.CreatedAt, rec.ID, rec); err != nil {
		return ImportRecord{}, fmt.Errorf("record import: %w", err)
	}
	return rec, nil
}

// LatestImport returns the newest import run that wrote outputPath. An empty
// outputPath matches any run.
func (s *Store) LatestImport(outputPath string) (ImportRecord, error) {
	var rec ImportRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(importsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r ImportRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip malformed records
			}
			if outputPath == "" || r.OutputPath == outputPath {
				rec = r
				return nil
			}
		}
		return ErrNotFound
	})
	return rec, err
}

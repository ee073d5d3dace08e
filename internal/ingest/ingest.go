// Package ingest loads the raw session and event logs, derives the per-session
// conversion label and writes the joined training table.
//
// All tables are CSV files stored inside zip archives.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"click-predict/internal/cfg"
	"click-predict/internal/session"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

// JoinedEntryName is the CSV entry written inside the joined table archive.
const JoinedEntryName = "ga_innerjoin.csv"

// ErrSchema is returned when a raw table lacks an expected column or holds a
// value of the wrong shape.
var ErrSchema = errors.New("unexpected table schema")

// Stats summarizes an import run.
type Stats struct {
	Sessions         int
	LabeledSessions  int
	JoinedRows       int
	PositiveSessions int
	Duration         time.Duration
}

// Run executes the full import job: read events and sessions, join them and
// write the joined table to out.
func Run(ctx context.Context, src cfg.Sources, out string) (Stats, error) {
	start := time.Now()

	labels, err := ReadEvents(src.HitsZip)
	if err != nil {
		return Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	sessions, err := ReadSessions(src.SessionsZip)
	if err != nil {
		return Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	joined := Join(labels, sessions)
	if err := WriteJoined(out, joined); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Sessions:        len(sessions),
		LabeledSessions: len(labels),
		JoinedRows:      len(joined),
		Duration:        time.Since(start),
	}
	for _, r := range joined {
		stats.PositiveSessions += r.Target
	}

	log.Info().
		Int("sessions", stats.Sessions).
		Int("labeled_sessions", stats.LabeledSessions).
		Int("joined_rows", stats.JoinedRows).
		Int("positive_sessions", stats.PositiveSessions).
		Dur("duration", stats.Duration).
		Str("output", out).
		Msg("Import completed")

	return stats, nil
}

// ReadEvents reads the event log and returns, per session id, 1 if any of its
// events is a target action and 0 otherwise.
func ReadEvents(path string) (map[string]int, error) {
	labels := make(map[string]int)
	events := 0

	err := scanTable(path, []string{session.ColSessionID, session.ColEventAction}, func(get func(string) string) error {
		events++
		AddEvent(labels, session.Event{
			SessionID:   get(session.ColSessionID),
			EventAction: get(session.ColEventAction),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("events", events).Int("sessions", len(labels)).Msg("Event log loaded")
	return labels, nil
}

// AddEvent folds one event into the per-session labels with a logical OR.
func AddEvent(labels map[string]int, ev session.Event) {
	hit := 0
	if session.IsTargetAction(ev.EventAction) {
		hit = 1
	}
	if prev, ok := labels[ev.SessionID]; !ok || hit > prev {
		labels[ev.SessionID] = hit
	}
}

// ReadSessions reads the session log. visit_date must parse as a date and is
// normalized to YYYY-MM-DD.
func ReadSessions(path string) ([]session.Record, error) {
	required := append([]string{session.ColSessionID}, session.Columns...)

	var records []session.Record
	err := scanTable(path, required, func(get func(string) string) error {
		var rec session.Record
		for _, col := range required {
			if err := rec.Set(col, get(col)); err != nil {
				return err
			}
		}
		date, err := normalizeDate(rec.VisitDate)
		if err != nil {
			return fmt.Errorf("session %s: %w", rec.SessionID, err)
		}
		rec.VisitDate = date
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read sessions %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("sessions", len(records)).Msg("Session log loaded")
	return records, nil
}

// Join inner-joins the labels onto the sessions. Sessions without events and
// events of unknown sessions are dropped. Output is ordered by session id.
func Join(labels map[string]int, sessions []session.Record) []session.Labeled {
	out := make([]session.Labeled, 0, len(sessions))
	for _, rec := range sessions {
		target, ok := labels[rec.SessionID]
		if !ok {
			continue
		}
		out = append(out, session.Labeled{Record: rec, Target: target})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// WriteJoined writes the joined table. The archive is written to a temporary
// file and renamed into place, so a failed write leaves no output behind.
func WriteJoined(path string, rows []session.Labeled) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".joined-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	entry, err := zw.Create(JoinedEntryName)
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}

	w := csv.NewWriter(entry)
	header := append([]string{session.ColSessionID, session.ColTarget}, session.Columns...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(header))
	for _, r := range rows {
		line[0] = r.SessionID
		line[1] = strconv.Itoa(r.Target)
		copy(line[2:], r.Values())
		if err := w.Write(line); err != nil {
			return fmt.Errorf("write row %s: %w", r.SessionID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename joined table: %w", err)
	}

	log.Debug().Str("path", path).Int("rows", len(rows)).Msg("Joined table written")
	return nil
}

// ReadJoined reads a table written by WriteJoined.
func ReadJoined(path string) ([]session.Labeled, error) {
	required := append([]string{session.ColSessionID, session.ColTarget}, session.Columns...)

	var rows []session.Labeled
	err := scanTable(path, required, func(get func(string) string) error {
		var r session.Labeled
		for _, col := range required[2:] {
			if err := r.Set(col, get(col)); err != nil {
				return err
			}
		}
		r.SessionID = get(session.ColSessionID)
		switch get(session.ColTarget) {
		case "0":
			r.Target = 0
		case "1":
			r.Target = 1
		default:
			return fmt.Errorf("%w: session %s has target %q", ErrSchema, r.SessionID, get(session.ColTarget))
		}
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read joined table %s: %w", path, err)
	}
	return rows, nil
}

// scanTable opens the first CSV entry of a zip archive, checks that the
// required columns are present and calls fn for every data row.
func scanTable(path string, required []string, fn func(get func(string) string) error) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			entry = f
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: archive has no table entry", ErrSchema)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%w: read header: %v", ErrSchema, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("%w: column %q not found", ErrSchema, col)
		}
	}

	var record []string
	get := func(col string) string { return record[index[col]] }

	for line := 2; ; line++ {
		record, err = r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrSchema, line, err)
		}
		if err := fn(get); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func normalizeDate(value string) (string, error) {
	v := strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: visit_date %q is not a date", ErrSchema, value)
}

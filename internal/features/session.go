package features

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"click-predict/internal/session"
)

// SchemaVersion identifies the transform below. Artifacts record it and refuse
// to load under a different version.
const SchemaVersion = 1

// ErrSchema is returned when a raw value cannot be converted to its feature
// type, such as an unparsable visit timestamp.
var ErrSchema = errors.New("schema error")

// Fallbacks for missing attribution and device values.
const (
	NoCampaign  = "No_campaign"
	NoAdContent = "No_adcontent"
	NoKeyword   = "No_keyword"
	NoSource    = "No_source"
	NoBrand     = "No_brand"
)

// Parts of the day derived from the visit hour.
const (
	Night   = "night"
	Morning = "morning"
	Day     = "day"
	Evening = "evening"
)

// Feature column names added by the transform.
const (
	ColDayOfYear   = "day_of_year"
	ColDayOfWeek   = "day_of_week"
	ColWeekOfYear  = "week_of_year"
	ColMonth       = "month"
	ColTimeInHours = "time_in_hours"
	ColPartOfDay   = "part_of_day"
)

// CategoricalColumns are tagged as categories.
var CategoricalColumns = []string{
	session.ColUTMSource, session.ColUTMMedium, session.ColUTMCampaign, session.ColUTMAdContent,
	session.ColUTMKeyword, session.ColDeviceCategory, session.ColDeviceBrand,
	session.ColDeviceScreenRes, session.ColDeviceBrowser, session.ColGeoCountry,
	session.ColGeoCity, ColPartOfDay,
}

// IntegerColumns are tagged as bounded (int32) integers.
var IntegerColumns = []string{
	ColDayOfYear, ColWeekOfYear, ColTimeInHours, ColMonth, ColDayOfWeek, session.ColVisitNumber,
}

// Names is the column order of Vector.Tokens and the classifier's input.
var Names = []string{
	session.ColVisitNumber,
	session.ColUTMSource, session.ColUTMMedium, session.ColUTMCampaign, session.ColUTMAdContent,
	session.ColUTMKeyword, session.ColDeviceCategory, session.ColDeviceBrand,
	session.ColDeviceScreenRes, session.ColDeviceBrowser, session.ColGeoCountry, session.ColGeoCity,
	ColDayOfYear, ColDayOfWeek, ColWeekOfYear, ColMonth, ColTimeInHours, ColPartOfDay,
}

var (
	dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05"}
	timeLayouts = []string{"15:04:05", "15:04"}
)

// Vector is a model-ready session.
type Vector struct {
	SessionID string `json:"session_id,omitempty"`

	UTMSource              string `json:"utm_source"`
	UTMMedium              string `json:"utm_medium"`
	UTMCampaign            string `json:"utm_campaign"`
	UTMAdContent           string `json:"utm_adcontent"`
	UTMKeyword             string `json:"utm_keyword"`
	DeviceCategory         string `json:"device_category"`
	DeviceBrand            string `json:"device_brand"`
	DeviceScreenResolution string `json:"device_screen_resolution"`
	DeviceBrowser          string `json:"device_browser"`
	GeoCountry             string `json:"geo_country"`
	GeoCity                string `json:"geo_city"`
	PartOfDay              string `json:"part_of_day"`

	VisitNumber int32 `json:"visit_number"`
	DayOfYear   int32 `json:"day_of_year"`
	DayOfWeek   int32 `json:"day_of_week"`
	WeekOfYear  int32 `json:"week_of_year"`
	Month       int32 `json:"month"`
	TimeInHours int32 `json:"time_in_hours"`
}

// Transform maps one raw session to its feature vector. It depends on nothing
// but rec, so training and serving see identical output for identical input.
func Transform(rec session.Record) (Vector, error) {
	ts, err := visitTimestamp(rec.VisitDate, rec.VisitTime)
	if err != nil {
		return Vector{}, err
	}

	visitNumber, err := strconv.ParseInt(strings.TrimSpace(rec.VisitNumber), 10, 32)
	if err != nil {
		return Vector{}, fmt.Errorf("%w: visit_number %q is not an int32", ErrSchema, rec.VisitNumber)
	}

	_, week := ts.ISOWeek()
	hour := ts.Hour()

	return Vector{
		SessionID: rec.SessionID,

		UTMSource:              fillMissing(rec.UTMSource, NoSource),
		UTMMedium:              rec.UTMMedium,
		UTMCampaign:            fillMissing(rec.UTMCampaign, NoCampaign),
		UTMAdContent:           fillMissing(rec.UTMAdContent, NoAdContent),
		UTMKeyword:             fillMissing(rec.UTMKeyword, NoKeyword),
		DeviceCategory:         rec.DeviceCategory,
		DeviceBrand:            fillMissing(rec.DeviceBrand, NoBrand),
		DeviceScreenResolution: rec.DeviceScreenResolution,
		DeviceBrowser:          rec.DeviceBrowser,
		GeoCountry:             rec.GeoCountry,
		GeoCity:                rec.GeoCity,
		PartOfDay:              PartOfDay(hour),

		VisitNumber: int32(visitNumber),
		DayOfYear:   int32(ts.YearDay()),
		DayOfWeek:   int32((int(ts.Weekday()) + 6) % 7), // Monday=0
		WeekOfYear:  int32(week),
		Month:       int32(ts.Month()),
		TimeInHours: int32(hour),
	}, nil
}

// TransformBatch transforms every record, failing on the first bad one.
func TransformBatch(recs []session.Record) ([]Vector, error) {
	out := make([]Vector, len(recs))
	for i, rec := range recs {
		v, err := Transform(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d (session %s): %w", i, rec.SessionID, err)
		}
		out[i] = v
	}
	return out, nil
}

// TransformRows transforms loosely typed rows. A row missing any raw column
// fails with session.ErrMissingField.
func TransformRows(rows []map[string]string) ([]Vector, error) {
	recs := make([]session.Record, len(rows))
	for i, row := range rows {
		rec, err := session.RecordFromMap(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		recs[i] = rec
	}
	return TransformBatch(recs)
}

// PartOfDay buckets an hour of the day.
func PartOfDay(hour int) string {
	switch {
	case hour < 6:
		return Night
	case hour < 12:
		return Morning
	case hour < 18:
		return Day
	default:
		return Evening
	}
}

// Tokens renders the vector in Names order. The classifier treats every
// feature, integers included, as a categorical token.
func (v Vector) Tokens() []string {
	return []string{
		itoa(v.VisitNumber),
		v.UTMSource, v.UTMMedium, v.UTMCampaign, v.UTMAdContent,
		v.UTMKeyword, v.DeviceCategory, v.DeviceBrand,
		v.DeviceScreenResolution, v.DeviceBrowser, v.GeoCountry, v.GeoCity,
		itoa(v.DayOfYear), itoa(v.DayOfWeek), itoa(v.WeekOfYear), itoa(v.Month), itoa(v.TimeInHours),
		v.PartOfDay,
	}
}

// Fields returns the semantic fields keyed by column name.
func (v Vector) Fields() map[string]string {
	tokens := v.Tokens()
	out := make(map[string]string, len(Names)+1)
	if v.SessionID != "" {
		out[session.ColSessionID] = v.SessionID
	}
	for i, name := range Names {
		out[name] = tokens[i]
	}
	return out
}

func visitTimestamp(date, clock string) (time.Time, error) {
	d, err := parseFirst(strings.TrimSpace(date), dateLayouts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: visit_date %q", ErrSchema, date)
	}
	c, err := parseFirst(strings.TrimSpace(clock), timeLayouts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: visit_time %q", ErrSchema, clock)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC), nil
}

func parseFirst(value string, layouts []string) (time.Time, error) {
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func fillMissing(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func itoa(v int32) string { return strconv.FormatInt(int64(v), 10) }

// Package session declares the raw session schema shared by the import job,
// the trainer and the prediction service.
//
// Every raw attribute is a string. An empty string is a missing value, which
// is how an empty CSV cell is read back and how the feature transform decides
// whether to apply a fallback.
package session

import (
	"errors"
	"fmt"
)

// ErrMissingField is returned when a loosely typed row lacks a schema column
// entirely. A column that is present with an empty value is not an error.
var ErrMissingField = errors.New("missing field")

// Column names of the raw session table.
const (
	ColSessionID       = "session_id"
	ColClientID        = "client_id"
	ColVisitDate       = "visit_date"
	ColVisitTime       = "visit_time"
	ColVisitNumber     = "visit_number"
	ColUTMSource       = "utm_source"
	ColUTMMedium       = "utm_medium"
	ColUTMCampaign     = "utm_campaign"
	ColUTMAdContent    = "utm_adcontent"
	ColUTMKeyword      = "utm_keyword"
	ColDeviceCategory  = "device_category"
	ColDeviceOS        = "device_os"
	ColDeviceBrand     = "device_brand"
	ColDeviceModel     = "device_model"
	ColDeviceScreenRes = "device_screen_resolution"
	ColDeviceBrowser   = "device_browser"
	ColGeoCountry      = "geo_country"
	ColGeoCity         = "geo_city"
	ColTarget          = "target"
	ColEventAction     = "event_action"
)

// Columns lists the session attributes in table order, session_id excluded.
var Columns = []string{
	ColClientID, ColVisitDate, ColVisitTime, ColVisitNumber,
	ColUTMSource, ColUTMMedium, ColUTMCampaign, ColUTMAdContent, ColUTMKeyword,
	ColDeviceCategory, ColDeviceOS, ColDeviceBrand, ColDeviceModel,
	ColDeviceScreenRes, ColDeviceBrowser, ColGeoCountry, ColGeoCity,
}

// TargetActions are the event actions counted as a conversion.
var TargetActions = map[string]struct{}{
	"sub_car_claim_click":              {},
	"sub_car_claim_submit_click":       {},
	"sub_open_dialog_click":            {},
	"sub_custom_question_submit_click": {},
	"sub_call_number_click":            {},
	"sub_callback_submit_click":        {},
	"sub_submit_success":               {},
	"sub_car_request_submit_click":     {},
}

// IsTargetAction reports whether action is one of TargetActions.
func IsTargetAction(action string) bool {
	_, ok := TargetActions[action]
	return ok
}

// Event is one recorded action within a session.
type Event struct {
	SessionID   string
	EventAction string
}

// Record is one row of the raw session table.
type Record struct {
	SessionID              string `json:"session_id"`
	ClientID               string `json:"client_id"`
	VisitDate              string `json:"visit_date"`
	VisitTime              string `json:"visit_time"`
	VisitNumber            string `json:"visit_number"`
	UTMSource              string `json:"utm_source"`
	UTMMedium              string `json:"utm_medium"`
	UTMCampaign            string `json:"utm_campaign"`
	UTMAdContent           string `json:"utm_adcontent"`
	UTMKeyword             string `json:"utm_keyword"`
	DeviceCategory         string `json:"device_category"`
	DeviceOS               string `json:"device_os"`
	DeviceBrand            string `json:"device_brand"`
	DeviceModel            string `json:"device_model"`
	DeviceScreenResolution string `json:"device_screen_resolution"`
	DeviceBrowser          string `json:"device_browser"`
	GeoCountry             string `json:"geo_country"`
	GeoCity                string `json:"geo_city"`
}

// Labeled is a session with its conversion label.
type Labeled struct {
	Record
	Target int `json:"target"`
}

// Label returns the row's target. It is the label accessor handed to the
// dataset helpers.
func Label(l Labeled) int { return l.Target }

// fields maps each column to its slot in r, in Columns order.
func (r *Record) fields() []*string {
	return []*string{
		&r.ClientID, &r.VisitDate, &r.VisitTime, &r.VisitNumber,
		&r.UTMSource, &r.UTMMedium, &r.UTMCampaign, &r.UTMAdContent, &r.UTMKeyword,
		&r.DeviceCategory, &r.DeviceOS, &r.DeviceBrand, &r.DeviceModel,
		&r.DeviceScreenResolution, &r.DeviceBrowser, &r.GeoCountry, &r.GeoCity,
	}
}

// Values returns the attribute values in Columns order.
func (r Record) Values() []string {
	ptrs := r.fields()
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// Set assigns the value of a named column. Unknown columns are rejected.
func (r *Record) Set(column, value string) error {
	if column == ColSessionID {
		r.SessionID = value
		return nil
	}
	for i, name := range Columns {
		if name == column {
			*r.fields()[i] = value
			return nil
		}
	}
	return fmt.Errorf("unknown column %q", column)
}

// RecordFromMap builds a Record from a loosely typed row. Every column of
// Columns must be present; session_id is optional.
func RecordFromMap(m map[string]string) (Record, error) {
	var r Record
	r.SessionID = m[ColSessionID]
	ptrs := r.fields()
	for i, name := range Columns {
		v, ok := m[name]
		if !ok {
			return Record{}, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		*ptrs[i] = v
	}
	return r, nil
}

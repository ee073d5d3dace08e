package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"click-predict/internal/session"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// maxBodyBytes caps the size of a prediction request.
const maxBodyBytes = 1 << 16

// PredictionRequest is the body of POST /predict. Every field must be
// present; an empty string is accepted and treated as a missing value.
type PredictionRequest struct {
	SessionID              *string `json:"session_id" validate:"required"`
	ClientID               *string `json:"client_id" validate:"required"`
	VisitDate              *string `json:"visit_date" validate:"required"`
	VisitTime              *string `json:"visit_time" validate:"required"`
	VisitNumber            *string `json:"visit_number" validate:"required"`
	UTMSource              *string `json:"utm_source" validate:"required"`
	UTMMedium              *string `json:"utm_medium" validate:"required"`
	UTMCampaign            *string `json:"utm_campaign" validate:"required"`
	UTMAdContent           *string `json:"utm_adcontent" validate:"required"`
	UTMKeyword             *string `json:"utm_keyword" validate:"required"`
	DeviceCategory         *string `json:"device_category" validate:"required"`
	DeviceOS               *string `json:"device_os" validate:"required"`
	DeviceBrand            *string `json:"device_brand" validate:"required"`
	DeviceModel            *string `json:"device_model" validate:"required"`
	DeviceScreenResolution *string `json:"device_screen_resolution" validate:"required"`
	DeviceBrowser          *string `json:"device_browser" validate:"required"`
	GeoCountry             *string `json:"geo_country" validate:"required"`
	GeoCity                *string `json:"geo_city" validate:"required"`
}

// NewPredictionRequest builds a request carrying every field of rec.
func NewPredictionRequest(rec session.Record) PredictionRequest {
	s := func(v string) *string { return &v }
	return PredictionRequest{
		SessionID:              s(rec.SessionID),
		ClientID:               s(rec.ClientID),
		VisitDate:              s(rec.VisitDate),
		VisitTime:              s(rec.VisitTime),
		VisitNumber:            s(rec.VisitNumber),
		UTMSource:              s(rec.UTMSource),
		UTMMedium:              s(rec.UTMMedium),
		UTMCampaign:            s(rec.UTMCampaign),
		UTMAdContent:           s(rec.UTMAdContent),
		UTMKeyword:             s(rec.UTMKeyword),
		DeviceCategory:         s(rec.DeviceCategory),
		DeviceOS:               s(rec.DeviceOS),
		DeviceBrand:            s(rec.DeviceBrand),
		DeviceModel:            s(rec.DeviceModel),
		DeviceScreenResolution: s(rec.DeviceScreenResolution),
		DeviceBrowser:          s(rec.DeviceBrowser),
		GeoCountry:             s(rec.GeoCountry),
		GeoCity:                s(rec.GeoCity),
	}
}

// Record converts a validated request. Absent fields become empty strings.
func (r PredictionRequest) Record() session.Record {
	v := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return session.Record{
		SessionID:              v(r.SessionID),
		ClientID:               v(r.ClientID),
		VisitDate:              v(r.VisitDate),
		VisitTime:              v(r.VisitTime),
		VisitNumber:            v(r.VisitNumber),
		UTMSource:              v(r.UTMSource),
		UTMMedium:              v(r.UTMMedium),
		UTMCampaign:            v(r.UTMCampaign),
		UTMAdContent:           v(r.UTMAdContent),
		UTMKeyword:             v(r.UTMKeyword),
		DeviceCategory:         v(r.DeviceCategory),
		DeviceOS:               v(r.DeviceOS),
		DeviceBrand:            v(r.DeviceBrand),
		DeviceModel:            v(r.DeviceModel),
		DeviceScreenResolution: v(r.DeviceScreenResolution),
		DeviceBrowser:          v(r.DeviceBrowser),
		GeoCountry:             v(r.GeoCountry),
		GeoCity:                v(r.GeoCity),
	}
}

// PredictionResult is the body of a successful POST /predict.
type PredictionResult struct {
	SessionID string `json:"session_id"`
	Result    int    `json:"result"`
}

// ErrorDetail locates one request problem.
type ErrorDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError is the 422 response body.
type ValidationError struct {
	Detail []ErrorDetail `json:"detail"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Detail))
	for i, d := range e.Detail {
		msgs[i] = strings.Join(d.Loc, ".") + ": " + d.Msg
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func bodyError(field, msg, typ string) *ValidationError {
	loc := []string{"body"}
	if field != "" {
		loc = append(loc, field)
	}
	return &ValidationError{Detail: []ErrorDetail{{Loc: loc, Msg: msg, Type: typ}}}
}

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// getValidator returns the shared validator with english messages and json
// field names.
func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// decodePrediction reads and validates a prediction request. Any problem
// with the body is reported as a *ValidationError.
func decodePrediction(r *http.Request) (PredictionRequest, error) {
	var req PredictionRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return req, bodyError("", "could not read body", "value_error.body")
	}
	if len(body) > maxBodyBytes {
		return req, bodyError("", "body too large", "value_error.body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, bodyError("", "field required", "value_error.missing")
	}

	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return req, bodyError("", "value is not a valid dict", "type_error.dict")
			}
			return req, bodyError(typeErr.Field, "str type expected", "type_error.str")
		}
		return req, bodyError("", fmt.Sprintf("invalid JSON: %v", err), "value_error.jsondecode")
	}

	svc := getValidator()
	if err := svc.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return req, bodyError("", err.Error(), "value_error")
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			typ := "value_error." + fe.Tag()
			if fe.Tag() == "required" {
				typ = "value_error.missing"
			}
			out.Detail = append(out.Detail, ErrorDetail{
				Loc:  []string{"body", fe.Field()},
				Msg:  fe.Translate(svc.translator),
				Type: typ,
			})
		}
		return req, out
	}
	return req, nil
}

package models

import (
	"time"
)

// Form represents a form definition as listed by the visite backend
type Form struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// FormItem represents one question of a form as served by the backend.
// The JSON blobs are decoded once by the forms package.
type FormItem struct {
	UUID              string `json:"uuid"`
	FormUUID          string `json:"form_uuid,omitempty"`
	Question          string `json:"question"`
	ItemType          string `json:"item_type"`
	Required          bool   `json:"required"`
	Options           string `json:"options,omitempty"`
	AdditionalOptions string `json:"additional_options,omitempty"`
	ConditionalFields string `json:"conditional_fields,omitempty"`
	SortOrder         int    `json:"sort_order"`
}

// SubmissionRequest is the body of the create-submission call
type SubmissionRequest struct {
	FormUUID       string `json:"form_uuid"`
	SubmitterName  string `json:"submitter_name"`
	SubmitterEmail string `json:"submitter_email"`
	Status         string `json:"status"`
	UserUUID       string `json:"user_uuid,omitempty"`
	CountryUUID    string `json:"country_uuid,omitempty"`
	ProvinceUUID   string `json:"province_uuid,omitempty"`
	AreaUUID       string `json:"area_uuid,omitempty"`
}

// SubmitRequest identifies who submits a fill session and where
type SubmitRequest struct {
	SubmitterName  string `json:"submitter_name"`
	SubmitterEmail string `json:"submitter_email"`
	UserUUID       string `json:"user_uuid,omitempty"`
	CountryUUID    string `json:"country_uuid,omitempty"`
	ProvinceUUID   string `json:"province_uuid,omitempty"`
	AreaUUID       string `json:"area_uuid,omitempty"`
}

// Submission represents a VisiteHarder record: one completed form-fill
type Submission struct {
	UUID           string `json:"uuid"`
	FormUUID       string `json:"form_uuid"`
	SubmitterName  string `json:"submitter_name"`
	SubmitterEmail string `json:"submitter_email"`
	Status         string `json:"status"`
	UserUUID       string `json:"user_uuid,omitempty"`
	CountryUUID    string `json:"country_uuid,omitempty"`
	ProvinceUUID   string `json:"province_uuid,omitempty"`
	AreaUUID       string `json:"area_uuid,omitempty"`
}

// ResponseEntry is one answer tied to a form item and a submission.
// Exactly one of the typed value fields is set, as named by ValueType.
type ResponseEntry struct {
	VisiteHarderUUID string   `json:"visite_harder_uuid,omitempty"`
	FormItemUUID     string   `json:"form_item_uuid"`
	ValueType        string   `json:"value_type"`
	TextValue        *string  `json:"text_value,omitempty"`
	NumberValue      *float64 `json:"number_value,omitempty"`
	BooleanValue     *bool    `json:"boolean_value,omitempty"`
	DateValue        *string  `json:"date_value,omitempty"`
	FileURL          *string  `json:"file_url,omitempty"`
	EntryLabel       string   `json:"entry_label,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	UserUUID         string   `json:"user_uuid,omitempty"`
	CountryUUID      string   `json:"country_uuid,omitempty"`
	ProvinceUUID     string   `json:"province_uuid,omitempty"`
	AreaUUID         string   `json:"area_uuid,omitempty"`
}

// BulkResponseRequest is the body of the bulk response call
type BulkResponseRequest struct {
	VisiteHarderUUID string          `json:"visite_harder_uuid"`
	Responses        []ResponseEntry `json:"responses"`
}

// BulkResponseResult is what the backend reports for a bulk call
type BulkResponseResult struct {
	Status       string   `json:"status"`
	CreatedCount int      `json:"created_count"`
	Errors       []string `json:"errors,omitempty"`
}

// VisitRecord is a geo-tagged data point shown on the map.
// Coordinates arrive as strings or numbers depending on the backend version.
type VisitRecord struct {
	ID               int64     `json:"id"`
	Latitude         FlexFloat `json:"latitude"`
	Longitude        FlexFloat `json:"longitude"`
	VisiteHarderUUID string    `json:"visite_harder_uuid,omitempty"`
	FormItemUUID     string    `json:"form_item_uuid,omitempty"`
	TextValue        string    `json:"text_value"`
	AreaName         string    `json:"area_name,omitempty"`
	ProvinceName     string    `json:"province_name,omitempty"`
	CountryName      string    `json:"country_name,omitempty"`
	AreaUUID         string    `json:"area_uuid,omitempty"`
	ProvinceUUID     string    `json:"province_uuid,omitempty"`
	CountryUUID      string    `json:"country_uuid,omitempty"`
	UserUUID         string    `json:"user_uuid,omitempty"`
	UserName         string    `json:"user_name,omitempty"`
	Email            string    `json:"email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Country, Province and Area form the territory hierarchy
type Country struct {
	UUID string `json:"uuid,omitempty"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type Province struct {
	UUID        string `json:"uuid,omitempty"`
	Name        string `json:"name"`
	CountryUUID string `json:"country_uuid"`
}

type Area struct {
	UUID         string `json:"uuid,omitempty"`
	Name         string `json:"name"`
	ProvinceUUID string `json:"province_uuid"`
}

// User represents a field agent or administrator account
type User struct {
	UUID         string `json:"uuid,omitempty"`
	Fullname     string `json:"fullname"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Role         string `json:"role,omitempty"`
	Status       bool   `json:"status"`
	Password     string `json:"password,omitempty"`
	CountryUUID  string `json:"country_uuid,omitempty"`
	ProvinceUUID string `json:"province_uuid,omitempty"`
	AreaUUID     string `json:"area_uuid,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Code    int               `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// SubmissionLog is one row of the local submission audit trail
type SubmissionLog struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	FormUUID       string    `json:"form_uuid"`
	SubmissionUUID string    `json:"submission_uuid,omitempty"`
	Outcome        string    `json:"outcome"`
	ExpectedCount  int       `json:"expected_count"`
	CreatedCount   int       `json:"created_count"`
	UsedFallback   bool      `json:"used_fallback"`
	Error          string    `json:"error,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// SubmissionSummary aggregates the audit trail per outcome
type SubmissionSummary struct {
	Total        int            `json:"total"`
	ByOutcome    map[string]int `json:"by_outcome"`
	FallbackUsed int            `json:"fallback_used"`
	LastSubmit   *time.Time     `json:"last_submit,omitempty"`
}

// GeoFix is the last device position reported for a fill session
type GeoFix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Draft is the persisted state of a fill session
type Draft struct {
	ID        string            `json:"id"`
	FormUUID  string            `json:"form_uuid"`
	Responses map[string]string `json:"responses"`
	Location  *GeoFix           `json:"location,omitempty"`
	State     string            `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

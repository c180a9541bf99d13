// Package forms turns backend form items into typed fields and collects,
// coerces and validates the answers of one form-fill.
package forms

// ValueType names the typed slot a response value is sent in
type ValueType string

const (
	ValueText    ValueType = "text"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueDate    ValueType = "date"
	ValueFileURL ValueType = "file_url"
)

// Item types understood by the renderer. Aliases map onto the same Field.
const (
	TypeText         = "text"
	TypeTextarea     = "textarea"
	TypeEmail        = "email"
	TypePhone        = "phone"
	TypeURL          = "url"
	TypeNumber       = "number"
	TypeInteger      = "integer"
	TypeDecimal      = "decimal"
	TypeCurrency     = "currency"
	TypePercentage   = "percentage"
	TypeRange        = "range"
	TypeSlider       = "slider"
	TypeRating       = "rating"
	TypeScale        = "scale"
	TypeLinearScale  = "linear_scale"
	TypeBoolean      = "boolean"
	TypeYesNo        = "yes_no"
	TypeSwitch       = "switch"
	TypeDate         = "date"
	TypeTime         = "time"
	TypeDateTime     = "datetime"
	TypeSelect       = "select"
	TypeDropdown     = "dropdown"
	TypeRadio        = "radio"
	TypeCheckbox     = "checkbox"
	TypeMultiSelect  = "multiselect"
	TypeFile         = "file"
	TypeImage        = "image"
	TypePhoto        = "photo"
	TypeSignature    = "signature"
	TypeLocation     = "location"
	TypeGPS          = "gps"
	TypeGrid         = "grid"
	TypeCheckboxGrid = "checkbox-grid"
)

// Field is the typed configuration of one item. The implementations in this
// file are the complete set; callers dispatch with a type switch.
type Field interface {
	ValueType() ValueType
	field()
}

type TextField struct {
	Kind      string
	MaxLength int
}

type NumberField struct {
	Kind    string
	Integer bool
	Min     *float64
	Max     *float64
	Step    float64
}

type RangeField struct {
	Min  float64
	Max  float64
	Step float64
}

type RatingField struct {
	Max int
}

type ScaleField struct {
	Min      int
	Max      int
	MinLabel string
	MaxLabel string
}

type BooleanField struct{}

// DateField covers date, time and datetime inputs
type DateField struct {
	Kind string
}

// ChoiceField is a select, radio, checkbox or multiselect
type ChoiceField struct {
	Kind       string
	Options    []string
	Multiple   bool
	AllowOther bool
}

// FileField holds a reference to an uploaded or captured file
type FileField struct {
	Kind    string
	Accept  string
	Capture bool
}

type LocationField struct{}

// GridField maps each row to one column, or to several when Multi is set
type GridField struct {
	Rows    []string
	Columns []string
	Multi   bool
}

// UnknownField is rendered as plain text with a warning
type UnknownField struct {
	Type string
}

func (TextField) ValueType() ValueType     { return ValueText }
func (NumberField) ValueType() ValueType   { return ValueNumber }
func (RangeField) ValueType() ValueType    { return ValueNumber }
func (RatingField) ValueType() ValueType   { return ValueNumber }
func (ScaleField) ValueType() ValueType    { return ValueNumber }
func (BooleanField) ValueType() ValueType  { return ValueBoolean }
func (DateField) ValueType() ValueType     { return ValueDate }
func (ChoiceField) ValueType() ValueType   { return ValueText }
func (FileField) ValueType() ValueType     { return ValueFileURL }
func (LocationField) ValueType() ValueType { return ValueText }
func (GridField) ValueType() ValueType     { return ValueText }
func (UnknownField) ValueType() ValueType  { return ValueText }

func (TextField) field()     {}
func (NumberField) field()   {}
func (RangeField) field()    {}
func (RatingField) field()   {}
func (ScaleField) field()    {}
func (BooleanField) field()  {}
func (DateField) field()     {}
func (ChoiceField) field()   {}
func (FileField) field()     {}
func (LocationField) field() {}
func (GridField) field()     {}
func (UnknownField) field()  {}

// DrivesVisibility reports whether a field can show conditional sub-fields
func DrivesVisibility(f Field) bool {
	c, ok := f.(ChoiceField)
	return ok && !c.Multiple
}

// Descriptor is the rendering hint sent to clients
type Descriptor struct {
	Widget     string    `json:"widget"`
	ValueType  ValueType `json:"value_type"`
	Options    []string  `json:"options,omitempty"`
	Multiple   bool      `json:"multiple,omitempty"`
	AllowOther bool      `json:"allow_other,omitempty"`
	Min        *float64  `json:"min,omitempty"`
	Max        *float64  `json:"max,omitempty"`
	Step       float64   `json:"step,omitempty"`
	MinLabel   string    `json:"min_label,omitempty"`
	MaxLabel   string    `json:"max_label,omitempty"`
	Rows       []string  `json:"rows,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
	Accept     string    `json:"accept,omitempty"`
	Capture    bool      `json:"capture,omitempty"`
	Warning    string    `json:"warning,omitempty"`
}

// Describe picks the rendering strategy for a field
func Describe(f Field) Descriptor {
	d := Descriptor{ValueType: f.ValueType()}
	switch f := f.(type) {
	case TextField:
		d.Widget = f.Kind
	case NumberField:
		d.Widget = "number"
		d.Min, d.Max, d.Step = f.Min, f.Max, f.Step
		if f.Integer && d.Step == 0 {
			d.Step = 1
		}
	case RangeField:
		d.Widget = "range"
		d.Min, d.Max, d.Step = ptr(f.Min), ptr(f.Max), f.Step
	case RatingField:
		d.Widget = "rating"
		d.Min, d.Max, d.Step = ptr(0), ptr(float64(f.Max)), 1
	case ScaleField:
		d.Widget = "scale"
		d.Min, d.Max, d.Step = ptr(float64(f.Min)), ptr(float64(f.Max)), 1
		d.MinLabel, d.MaxLabel = f.MinLabel, f.MaxLabel
	case BooleanField:
		d.Widget = "boolean"
	case DateField:
		d.Widget = f.Kind
	case ChoiceField:
		d.Widget = f.Kind
		d.Options = f.Options
		d.Multiple = f.Multiple
		d.AllowOther = f.AllowOther
	case FileField:
		d.Widget = f.Kind
		d.Accept, d.Capture = f.Accept, f.Capture
	case LocationField:
		d.Widget = "location"
	case GridField:
		d.Widget = TypeGrid
		if f.Multi {
			d.Widget = TypeCheckboxGrid
		}
		d.Rows, d.Columns = f.Rows, f.Columns
	case UnknownField:
		d.Widget = TypeText
		d.Warning = `unknown field type "` + f.Type + `"`
	}
	return d
}

func ptr(v float64) *float64 { return &v }

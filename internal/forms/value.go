package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/visite/visite-admin/internal/models"
)

// ErrInvalidValue marks input a field cannot accept
var ErrInvalidValue = errors.New("invalid value")

// OtherPrefix is the wire encoding of a free-text "Other" choice
const OtherPrefix = "Other: "

// Choice is one selected option. Other carries the free text typed by the
// user instead of an option.
type Choice struct {
	Option string
	Other  bool
	Text   string
}

func (c Choice) String() string {
	if c.Other {
		return OtherPrefix + c.Text
	}
	return c.Option
}

// Value is a coerced answer
type Value struct {
	Type    ValueType
	Text    string
	Number  float64
	Bool    bool
	Choices []Choice
	set     bool
}

// IsEmpty reports an absent or blank answer
func (v Value) IsEmpty() bool { return !v.set }

// String returns the text form sent for text-like value types
func (v Value) String() string {
	switch v.Type {
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ValueBoolean:
		return strconv.FormatBool(v.Bool)
	}
	if len(v.Choices) > 0 {
		parts := make([]string, len(v.Choices))
		for i, c := range v.Choices {
			parts[i] = c.String()
		}
		return strings.Join(parts, ", ")
	}
	return v.Text
}

// ApplyTo stores the value in the typed slot of a response entry
func (v Value) ApplyTo(e *models.ResponseEntry) {
	e.ValueType = string(v.Type)
	switch v.Type {
	case ValueNumber:
		n := v.Number
		e.NumberValue = &n
	case ValueBoolean:
		b := v.Bool
		e.BooleanValue = &b
	case ValueDate:
		s := v.Text
		e.DateValue = &s
	case ValueFileURL:
		s := v.Text
		e.FileURL = &s
	default:
		s := v.String()
		e.TextValue = &s
	}
}

func textValue(t ValueType, s string) Value { return Value{Type: t, Text: s, set: true} }

func numberValue(n float64) Value { return Value{Type: ValueNumber, Number: n, set: true} }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

// Coerce converts raw user input into the value a field stores. Blank input
// yields an empty value and no error.
func Coerce(f Field, raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Value{Type: f.ValueType()}, nil
	}

	switch f := f.(type) {
	case TextField:
		return coerceText(f, s)
	case NumberField:
		n, err := parseNumber(s)
		if err != nil {
			return Value{}, err
		}
		if f.Integer && n != math.Trunc(n) {
			return Value{}, invalid("%q is not a whole number", s)
		}
		if f.Min != nil && n < *f.Min {
			return Value{}, invalid("must be at least %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return Value{}, invalid("must be at most %v", *f.Max)
		}
		return numberValue(n), nil
	case RangeField:
		n, err := parseNumber(s)
		if err != nil {
			return Value{}, err
		}
		if n < f.Min || n > f.Max {
			return Value{}, invalid("must be between %v and %v", f.Min, f.Max)
		}
		return numberValue(n), nil
	case RatingField:
		n, err := parseNumber(s)
		if err != nil {
			return Value{}, err
		}
		if n < 0 || n > float64(f.Max) {
			return Value{}, invalid("rating must be between 0 and %d", f.Max)
		}
		return numberValue(n), nil
	case ScaleField:
		n, err := parseNumber(s)
		if err != nil {
			return Value{}, err
		}
		if n != math.Trunc(n) || n < float64(f.Min) || n > float64(f.Max) {
			return Value{}, invalid("must be a whole number between %d and %d", f.Min, f.Max)
		}
		return numberValue(n), nil
	case BooleanField:
		b, ok := ParseBool(s)
		if !ok {
			return Value{}, invalid("%q is not a yes/no answer", s)
		}
		return Value{Type: ValueBoolean, Bool: b, set: true}, nil
	case DateField:
		return textValue(ValueDate, normalizeDate(f.Kind, s)), nil
	case ChoiceField:
		return coerceChoice(f, s)
	case FileField:
		return textValue(ValueFileURL, s), nil
	case LocationField:
		if _, _, ok := ParseLatLng(s); !ok {
			return Value{}, invalid("%q is not a lat,lng pair", s)
		}
		return textValue(ValueText, s), nil
	case GridField:
		return coerceGrid(f, s)
	case UnknownField:
		return textValue(ValueText, s), nil
	default:
		return Value{}, fmt.Errorf("unsupported field %T", f)
	}
}

func coerceText(f TextField, s string) (Value, error) {
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		return Value{}, invalid("longer than %d characters", f.MaxLength)
	}
	if f.Kind == TypeEmail {
		if _, err := mail.ParseAddress(s); err != nil {
			return Value{}, invalid("%q is not an email address", s)
		}
	}
	return textValue(ValueText, s), nil
}

func parseNumber(s string) (float64, error) {
	n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, invalid("%q is not a number", s)
	}
	return n, nil
}

// ParseBool accepts the truthy and falsy encodings clients send
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "oui":
		return true, true
	case "false", "0", "no", "off", "non":
		return false, true
	}
	return false, false
}

// ParseLatLng parses a "lat,lng" pair of finite numbers
func ParseLatLng(s string) (lat, lng float64, ok bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lng) ||
		math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return 0, 0, false
	}
	return lat, lng, true
}

var dateLayouts = map[string][]string{
	TypeDate:     {"2006-01-02", time.RFC3339},
	TypeTime:     {"15:04", "15:04:05"},
	TypeDateTime: {time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"},
}

var dateCanonical = map[string]string{
	TypeDate:     "2006-01-02",
	TypeTime:     "15:04:05",
	TypeDateTime: "2006-01-02T15:04:05",
}

// normalizeDate rewrites ISO-shaped input in canonical form. Anything else
// is kept verbatim.
func normalizeDate(kind, s string) string {
	for _, layout := range dateLayouts[kind] {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == time.RFC3339 && kind == TypeDateTime {
			return t.Format(time.RFC3339)
		}
		return t.Format(dateCanonical[kind])
	}
	return s
}

func coerceChoice(f ChoiceField, s string) (Value, error) {
	var items []string
	if f.Multiple {
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &items); err != nil {
				return Value{}, invalid("malformed selection list")
			}
		} else {
			items = strings.Split(s, ",")
		}
	} else {
		items = []string{s}
	}

	choices := make([]Choice, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		c, err := parseChoice(f, it)
		if err != nil {
			return Value{}, err
		}
		choices = append(choices, c)
	}
	if len(choices) == 0 {
		return Value{Type: ValueText}, nil
	}
	return Value{Type: ValueText, Choices: choices, Text: choices[0].String(), set: true}, nil
}

func parseChoice(f ChoiceField, s string) (Choice, error) {
	if contains(f.Options, s) {
		return Choice{Option: s}, nil
	}
	if f.AllowOther {
		if rest, ok := cutOther(s); ok {
			if rest == "" {
				return Choice{}, invalid("please specify the other value")
			}
			return Choice{Other: true, Text: rest}, nil
		}
	}
	if len(f.Options) == 0 {
		return Choice{Option: s}, nil
	}
	return Choice{}, invalid("%q is not one of the options", s)
}

func cutOther(s string) (string, bool) {
	if strings.EqualFold(s, "other") {
		return "", true
	}
	prefix := strings.TrimSpace(OtherPrefix)
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):]), true
	}
	return "", false
}

func coerceGrid(f GridField, s string) (Value, error) {
	var encoded []byte
	if f.Multi {
		var m map[string][]string
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return Value{}, invalid("grid answer must be a row to columns object")
		}
		for row, cols := range m {
			if err := checkGridCell(f, row, cols...); err != nil {
				return Value{}, err
			}
			if len(cols) == 0 {
				delete(m, row)
				continue
			}
			sort.Strings(cols)
		}
		if len(m) == 0 {
			return Value{Type: ValueText}, nil
		}
		encoded, _ = json.Marshal(m)
	} else {
		var m map[string]string
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return Value{}, invalid("grid answer must be a row to column object")
		}
		for row, col := range m {
			if col == "" {
				delete(m, row)
				continue
			}
			if err := checkGridCell(f, row, col); err != nil {
				return Value{}, err
			}
		}
		if len(m) == 0 {
			return Value{Type: ValueText}, nil
		}
		encoded, _ = json.Marshal(m)
	}
	return textValue(ValueText, string(encoded)), nil
}

func checkGridCell(f GridField, row string, cols ...string) error {
	if len(f.Rows) > 0 && !contains(f.Rows, row) {
		return invalid("unknown grid row %q", row)
	}
	if len(f.Columns) == 0 {
		return nil
	}
	for _, c := range cols {
		if !contains(f.Columns, c) {
			return invalid("unknown grid column %q", c)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/visite/visite-admin/internal/models"
)

// Definition is a form with its items parsed and ordered
type Definition struct {
	Form   models.Form
	Items  []*Item
	byUUID map[string]*Item
}

// Item is one parsed question
type Item struct {
	UUID        string
	Question    string
	Type        string
	Required    bool
	SortOrder   int
	Field       Field
	Conditional *Conditional
}

// SubField is a conditional question nested under a parent item
type SubField struct {
	ID       string
	Label    string
	Type     string
	Required bool
	Field    Field
}

// Conditional holds the sub-field groups of an item, keyed by the trigger
// value. Trigger order is the order of the source JSON object.
type Conditional struct {
	triggers []string
	groups   map[string][]SubField
}

func (c *Conditional) Triggers() []string {
	if c == nil {
		return nil
	}
	return c.triggers
}

func (c *Conditional) Group(trigger string) []SubField {
	if c == nil {
		return nil
	}
	return c.groups[trigger]
}

// SubField looks up a sub-field by trigger and id
func (c *Conditional) SubField(trigger, id string) (SubField, bool) {
	for _, sf := range c.Group(trigger) {
		if sf.ID == id {
			return sf, true
		}
	}
	return SubField{}, false
}

func (d *Definition) Item(uuid string) (*Item, bool) {
	it, ok := d.byUUID[uuid]
	return it, ok
}

// ParseError reports a malformed configuration blob on an item
type ParseError struct {
	ItemUUID string
	Blob     string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("item %s: invalid %s: %v", e.ItemUUID, e.Blob, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// fieldConfig is the union of every type-specific key found in
// additional_options and in sub-field definitions.
type fieldConfig struct {
	Min        *float64 `json:"min"`
	Max        *float64 `json:"max"`
	Step       *float64 `json:"step"`
	MaxLength  int      `json:"max_length"`
	MinLabel   string   `json:"min_label"`
	MaxLabel   string   `json:"max_label"`
	MaxRating  int      `json:"max_rating"`
	AllowOther bool     `json:"allow_other"`
	Rows       []string `json:"rows"`
	Columns    []string `json:"columns"`
	Accept     string   `json:"accept"`
	Capture    bool     `json:"capture"`
}

type rawSubField struct {
	fieldConfig
	ID       json.RawMessage `json:"id"`
	Type     string          `json:"type"`
	Label    string          `json:"label"`
	Required bool            `json:"required"`
	Options  json.RawMessage `json:"options"`
}

// Parse decodes every item of a form once. Any malformed JSON blob fails
// the whole form.
func Parse(form models.Form, items []models.FormItem) (*Definition, error) {
	sorted := make([]models.FormItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder < sorted[j].SortOrder
	})

	def := &Definition{
		Form:   form,
		Items:  make([]*Item, 0, len(sorted)),
		byUUID: make(map[string]*Item, len(sorted)),
	}

	for _, raw := range sorted {
		if raw.UUID == "" {
			return nil, fmt.Errorf("item %q has no uuid", raw.Question)
		}
		if _, dup := def.byUUID[raw.UUID]; dup {
			return nil, fmt.Errorf("duplicate item uuid %s", raw.UUID)
		}

		item, err := parseItem(raw)
		if err != nil {
			return nil, err
		}
		def.Items = append(def.Items, item)
		def.byUUID[item.UUID] = item
	}

	return def, nil
}

func parseItem(raw models.FormItem) (*Item, error) {
	var cfg fieldConfig
	if !isEmptyBlob(raw.AdditionalOptions) {
		if err := json.Unmarshal([]byte(raw.AdditionalOptions), &cfg); err != nil {
			return nil, &ParseError{ItemUUID: raw.UUID, Blob: "additional_options", Err: err}
		}
	}

	typ := normalizeType(raw.ItemType)
	item := &Item{
		UUID:      raw.UUID,
		Question:  raw.Question,
		Type:      typ,
		Required:  raw.Required,
		SortOrder: raw.SortOrder,
		Field:     buildField(typ, ParseOptions(raw.Options), cfg),
	}

	if !isEmptyBlob(raw.ConditionalFields) {
		cond, err := parseConditional(raw.ConditionalFields)
		if err != nil {
			return nil, &ParseError{ItemUUID: raw.UUID, Blob: "conditional_fields", Err: err}
		}
		item.Conditional = cond
	}

	return item, nil
}

func isEmptyBlob(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "null" || s == "{}" || s == "[]"
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.ReplaceAll(t, "_grid", "-grid")
}

func buildField(typ string, options []string, cfg fieldConfig) Field {
	switch typ {
	case TypeText, TypeTextarea, TypeEmail, TypePhone, TypeURL:
		return TextField{Kind: typ, MaxLength: cfg.MaxLength}
	case TypeNumber, TypeDecimal, TypeCurrency, TypePercentage:
		f := NumberField{Kind: typ, Min: cfg.Min, Max: cfg.Max}
		if cfg.Step != nil {
			f.Step = *cfg.Step
		}
		return f
	case TypeInteger:
		return NumberField{Kind: typ, Integer: true, Min: cfg.Min, Max: cfg.Max, Step: 1}
	case TypeRange, TypeSlider:
		f := RangeField{Min: 0, Max: 100, Step: 1}
		if cfg.Min != nil {
			f.Min = *cfg.Min
		}
		if cfg.Max != nil {
			f.Max = *cfg.Max
		}
		if cfg.Step != nil && *cfg.Step > 0 {
			f.Step = *cfg.Step
		}
		return f
	case TypeRating:
		max := cfg.MaxRating
		if max <= 0 && cfg.Max != nil {
			max = int(*cfg.Max)
		}
		if max <= 0 {
			max = 5
		}
		return RatingField{Max: max}
	case TypeScale, TypeLinearScale:
		f := ScaleField{Min: 1, Max: 5, MinLabel: cfg.MinLabel, MaxLabel: cfg.MaxLabel}
		if cfg.Min != nil {
			f.Min = int(*cfg.Min)
		}
		if cfg.Max != nil {
			f.Max = int(*cfg.Max)
		}
		return f
	case TypeBoolean, TypeYesNo, TypeSwitch:
		return BooleanField{}
	case TypeDate, TypeTime, TypeDateTime:
		return DateField{Kind: typ}
	case TypeSelect, TypeDropdown, TypeRadio:
		return ChoiceField{Kind: typ, Options: options, AllowOther: cfg.AllowOther}
	case TypeCheckbox, TypeMultiSelect:
		return ChoiceField{Kind: typ, Options: options, Multiple: true, AllowOther: cfg.AllowOther}
	case TypeFile, TypeImage, TypePhoto, TypeSignature:
		return FileField{Kind: typ, Accept: cfg.Accept, Capture: cfg.Capture || typ == TypePhoto}
	case TypeLocation, TypeGPS:
		return LocationField{}
	case TypeGrid, TypeCheckboxGrid:
		rows, cols := cfg.Rows, cfg.Columns
		return GridField{Rows: rows, Columns: cols, Multi: typ == TypeCheckboxGrid}
	default:
		return UnknownField{Type: typ}
	}
}

// ParseOptions splits the delimited options string of an item. A JSON array
// is accepted as well.
func ParseOptions(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return cleanOptions(list)
		}
	}
	sep := ","
	if strings.Contains(s, "\n") {
		sep = "\n"
	}
	return cleanOptions(strings.Split(s, sep))
}

func cleanOptions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// parseConditional decodes the trigger -> sub-fields object keeping the key
// order of the document.
func parseConditional(blob string) (*Conditional, error) {
	dec := json.NewDecoder(strings.NewReader(blob))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	cond := &Conditional{groups: make(map[string][]SubField)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		trigger, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected trigger key, got %v", tok)
		}
		if strings.Contains(trigger, keySep) {
			return nil, fmt.Errorf("trigger %q: must not contain %q", trigger, keySep)
		}

		var raws []rawSubField
		if err := dec.Decode(&raws); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", trigger, err)
		}

		subs := make([]SubField, 0, len(raws))
		seen := make(map[string]bool, len(raws))
		for i, r := range raws {
			id := rawID(r.ID)
			if id == "" {
				id = strconv.Itoa(i)
			}
			if strings.Contains(id, keySep) {
				return nil, fmt.Errorf("trigger %q: sub-field id %q must not contain %q", trigger, id, keySep)
			}
			if seen[id] {
				return nil, fmt.Errorf("trigger %q: duplicate sub-field id %s", trigger, id)
			}
			seen[id] = true

			typ := normalizeType(r.Type)
			if typ == "" {
				typ = TypeText
			}
			subs = append(subs, SubField{
				ID:       id,
				Label:    r.Label,
				Type:     typ,
				Required: r.Required,
				Field:    buildField(typ, rawOptions(r.Options), r.fieldConfig),
			})
		}

		if _, dup := cond.groups[trigger]; !dup {
			cond.triggers = append(cond.triggers, trigger)
		}
		cond.groups[trigger] = subs
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return cond, nil
}

// rawID accepts string or numeric ids
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func rawOptions(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanOptions(list)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseOptions(s)
	}
	return nil
}

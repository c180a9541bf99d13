package forms

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField is returned for keys that do not belong to the loaded form
var ErrUnknownField = errors.New("unknown field")

// MsgRequiredMissing is the aggregate message shown when validation fails
const MsgRequiredMissing = "please fill in all required fields"

const keySep = "::"

// Key identifies a response: a top-level item, or a conditional sub-field
// reached through Item's Trigger value.
type Key struct {
	Item    string
	Trigger string
	Sub     string
}

func (k Key) Conditional() bool { return k.Sub != "" }

func (k Key) String() string {
	if !k.Conditional() {
		return k.Item
	}
	return k.Item + keySep + k.Trigger + keySep + k.Sub
}

// ParseKey reverses Key.String
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySep)
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return Key{}, fmt.Errorf("%w: empty key", ErrUnknownField)
		}
		return Key{Item: parts[0]}, nil
	case 3:
		if parts[0] == "" || parts[2] == "" {
			return Key{}, fmt.Errorf("%w: malformed key %q", ErrUnknownField, s)
		}
		return Key{Item: parts[0], Trigger: parts[1], Sub: parts[2]}, nil
	}
	return Key{}, fmt.Errorf("%w: malformed key %q", ErrUnknownField, s)
}

// Entry is one collected answer
type Entry struct {
	Raw   string
	Value Value
	Err   error
}

// Answer is a non-empty, valid answer ready to be sent
type Answer struct {
	Key   Key
	Item  *Item
	Sub   *SubField
	Value Value
}

// Label describes the conditional path of an answer, empty for top-level
func (a Answer) Label() string {
	if a.Sub == nil {
		return ""
	}
	label := a.Sub.Label
	if label == "" {
		label = a.Sub.ID
	}
	return a.Item.Question + " > " + a.Key.Trigger + " > " + label
}

// Result is the outcome of a validation pass
type Result struct {
	Errors  map[string]string `json:"errors"`
	IsValid bool              `json:"is_valid"`
}

// Collector accumulates the answers of one form-fill. It is not safe for
// concurrent use.
type Collector struct {
	def        *Definition
	entries    map[Key]Entry
	visibility *Visibility
}

func NewCollector(def *Definition) *Collector {
	return &Collector{
		def:        def,
		entries:    make(map[Key]Entry),
		visibility: NewVisibility(),
	}
}

func (c *Collector) Definition() *Definition { return c.def }

func (c *Collector) Visibility() *Visibility { return c.visibility }

// resolve returns the field behind a key
func (c *Collector) resolve(k Key) (*Item, *SubField, error) {
	item, ok := c.def.Item(k.Item)
	if !ok {
		return nil, nil, fmt.Errorf("%w: item %s", ErrUnknownField, k.Item)
	}
	if !k.Conditional() {
		return item, nil, nil
	}
	sf, ok := item.Conditional.SubField(k.Trigger, k.Sub)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, k)
	}
	return item, &sf, nil
}

// Set records raw input for a key. A coercion failure is kept on the entry
// and returned, the raw text stays in the collector.
func (c *Collector) Set(k Key, raw string) error {
	item, sub, err := c.resolve(k)
	if err != nil {
		return err
	}

	field := item.Field
	if sub != nil {
		field = sub.Field
	}

	v, cerr := Coerce(field, raw)
	c.entries[k] = Entry{Raw: raw, Value: v, Err: cerr}

	if sub == nil && item.Conditional != nil && DrivesVisibility(item.Field) {
		selected := ""
		if cerr == nil {
			selected = v.String()
		}
		c.visibility.Apply(item, selected)
	}
	return cerr
}

func (c *Collector) Get(k Key) (Entry, bool) {
	e, ok := c.entries[k]
	return e, ok
}

// Filled reports whether a top-level item has a non-empty valid answer
func (c *Collector) Filled(itemUUID string) bool {
	e, ok := c.entries[Key{Item: itemUUID}]
	return ok && e.Err == nil && !e.Value.IsEmpty()
}

// Validate checks every required top-level item and every visible
// conditional sub-field.
func (c *Collector) Validate() Result {
	errs := make(map[string]string)

	check := func(k Key, required bool) {
		e, ok := c.entries[k]
		switch {
		case ok && e.Err != nil:
			errs[k.String()] = e.Err.Error()
		case required && (!ok || e.Value.IsEmpty()):
			errs[k.String()] = "this field is required"
		}
	}

	for _, item := range c.def.Items {
		check(Key{Item: item.UUID}, item.Required)
		if item.Conditional == nil {
			continue
		}
		for _, k := range c.visibility.VisibleKeys(item) {
			sf, _ := item.Conditional.SubField(k.Trigger, k.Sub)
			check(k, sf.Required)
		}
	}

	return Result{Errors: errs, IsValid: len(errs) == 0}
}

// Answers lists every non-empty valid answer in form order. Hidden
// conditional answers are kept in the collector and listed as well.
func (c *Collector) Answers() []Answer {
	var out []Answer
	add := func(k Key, item *Item, sub *SubField) {
		e, ok := c.entries[k]
		if !ok || e.Err != nil || e.Value.IsEmpty() {
			return
		}
		out = append(out, Answer{Key: k, Item: item, Sub: sub, Value: e.Value})
	}

	for _, item := range c.def.Items {
		add(Key{Item: item.UUID}, item, nil)
		for _, trigger := range item.Conditional.Triggers() {
			for _, sf := range item.Conditional.Group(trigger) {
				add(Key{Item: item.UUID, Trigger: trigger, Sub: sf.ID}, item, &sf)
			}
		}
	}
	return out
}

// Raw returns the raw input per key, for drafts
func (c *Collector) Raw() map[string]string {
	out := make(map[string]string, len(c.entries))
	for k, e := range c.entries {
		out[k.String()] = e.Raw
	}
	return out
}

// Restore replays raw input saved by Raw. Top-level keys go first so that
// visibility is recomputed before sub-fields are restored. Keys that no
// longer match the form are skipped.
func (c *Collector) Restore(raw map[string]string) {
	var subs []Key
	for s, v := range raw {
		k, err := ParseKey(s)
		if err != nil {
			continue
		}
		if k.Conditional() {
			subs = append(subs, k)
			continue
		}
		_ = c.Set(k, v)
	}
	for _, k := range subs {
		_ = c.Set(k, raw[k.String()])
	}
}

// Reset clears every answer and the visibility state
func (c *Collector) Reset() {
	c.entries = make(map[Key]Entry)
	c.visibility.Reset()
}

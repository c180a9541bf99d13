package forms

import (
	"strings"

	"golang.org/x/text/cases"
)

// MatchTrigger finds the trigger key selected by value: exact match first,
// then case-insensitive, then substring in either direction. Inside a tier
// the first key in document order wins.
func MatchTrigger(c *Conditional, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if c == nil || value == "" {
		return "", false
	}

	for _, k := range c.triggers {
		if k == value {
			return k, true
		}
	}

	fold := cases.Fold()
	fv := fold.String(value)
	folded := make([]string, len(c.triggers))
	for i, k := range c.triggers {
		folded[i] = fold.String(strings.TrimSpace(k))
		if folded[i] == fv {
			return k, true
		}
	}

	for i, k := range c.triggers {
		fk := folded[i]
		if fk == "" {
			continue
		}
		if strings.Contains(fv, fk) || strings.Contains(fk, fv) {
			return k, true
		}
	}
	return "", false
}

// Visibility tracks which conditional sub-fields are currently shown
type Visibility struct {
	shown map[string]map[string]bool
}

func NewVisibility() *Visibility {
	return &Visibility{shown: make(map[string]map[string]bool)}
}

// Apply recomputes the visible sub-fields of item for a newly selected value.
// Every sub-field of the item is hidden first, then the matched group shown.
func (v *Visibility) Apply(item *Item, value string) (string, bool) {
	if item.Conditional == nil {
		return "", false
	}

	state := make(map[string]bool)
	for _, trigger := range item.Conditional.triggers {
		for _, sf := range item.Conditional.groups[trigger] {
			state[Key{Item: item.UUID, Trigger: trigger, Sub: sf.ID}.String()] = false
		}
	}

	trigger, ok := MatchTrigger(item.Conditional, value)
	if ok {
		for _, sf := range item.Conditional.groups[trigger] {
			state[Key{Item: item.UUID, Trigger: trigger, Sub: sf.ID}.String()] = true
		}
	}
	v.shown[item.UUID] = state
	return trigger, ok
}

// Visible reports whether a key is shown. Top-level keys are always visible.
func (v *Visibility) Visible(k Key) bool {
	if !k.Conditional() {
		return true
	}
	return v.shown[k.Item][k.String()]
}

// VisibleKeys lists the shown sub-field keys of an item in form order
func (v *Visibility) VisibleKeys(item *Item) []Key {
	var keys []Key
	for _, trigger := range item.Conditional.Triggers() {
		for _, sf := range item.Conditional.Group(trigger) {
			k := Key{Item: item.UUID, Trigger: trigger, Sub: sf.ID}
			if v.Visible(k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func (v *Visibility) Reset() {
	v.shown = make(map[string]map[string]bool)
}

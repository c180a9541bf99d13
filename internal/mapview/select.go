package mapview

import (
	"errors"
)

// ErrMarkerNotFound is returned when a selected marker is not in the view
var ErrMarkerNotFound = errors.New("marker not found")

// Link is a line drawn from the selected marker to another point
type Link struct {
	From     Point    `json:"from"`
	To       Point    `json:"to"`
	Distance Distance `json:"distance"`
}

// NearestLink points at the closest other marker
type NearestLink struct {
	Link
	MarkerID int64  `json:"marker_id"`
	Label    string `json:"label"`
}

// Selection is what a marker click shows: the popup record, a line to the
// user when their position is known and a line to the nearest other marker.
type Selection struct {
	Marker  Marker       `json:"marker"`
	ToUser  *Link        `json:"to_user,omitempty"`
	Nearest *NearestLink `json:"nearest,omitempty"`
}

// Select resolves a click on marker id. The nearest marker is found by a
// linear scan over the view.
func Select(view View, id int64, user *Point) (Selection, error) {
	idx := -1
	for i, m := range view.Markers {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Selection{}, ErrMarkerNotFound
	}

	sel := Selection{Marker: view.Markers[idx]}
	from := sel.Marker.Position

	if user != nil {
		sel.ToUser = &Link{From: from, To: *user, Distance: NewDistance(Haversine(from, *user))}
	}

	if nearest, d, ok := Nearest(view.Markers, idx); ok {
		sel.Nearest = &NearestLink{
			Link:     Link{From: from, To: nearest.Position, Distance: NewDistance(d)},
			MarkerID: nearest.ID,
			Label:    nearest.Label,
		}
	}
	return sel, nil
}

// Nearest returns the closest marker to markers[idx], excluding itself
func Nearest(markers []Marker, idx int) (Marker, float64, bool) {
	if idx < 0 || idx >= len(markers) {
		return Marker{}, 0, false
	}
	from := markers[idx].Position

	best := -1
	bestDist := 0.0
	for i, m := range markers {
		if i == idx {
			continue
		}
		d := Haversine(from, m.Position)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Marker{}, 0, false
	}
	return markers[best], bestDist, true
}

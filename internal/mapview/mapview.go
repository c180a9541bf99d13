// Package mapview groups geo-tagged visit records into labelled, coloured
// markers and computes the distances and viewport shown on the map.
package mapview

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/visite/visite-admin/internal/models"
)

// DefaultPalette is the fixed 8-colour marker palette
var DefaultPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
}

const (
	DefaultMaxZoom = 15
	tileSize       = 256
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

// Marker is one record placed on the map
type Marker struct {
	ID         int64              `json:"id"`
	Position   Point              `json:"position"`
	GroupKey   string             `json:"group_key"`
	GroupIndex int                `json:"group_index"`
	SubIndex   int                `json:"sub_index"`
	Label      string             `json:"label"`
	Color      string             `json:"color"`
	ToUser     *Distance          `json:"to_user,omitempty"`
	Record     models.VisitRecord `json:"record"`
}

// Group summarises the markers sharing one visit identifier
type Group struct {
	Key   string  `json:"key"`
	Index int     `json:"index"`
	Color string  `json:"color"`
	IDs   []int64 `json:"ids"`
}

// Distance is a length in metres with its display form
type Distance struct {
	Meters float64 `json:"meters"`
	Text   string  `json:"text"`
}

// Viewport is the fitted map window
type Viewport struct {
	SouthWest Point `json:"south_west"`
	NorthEast Point `json:"north_east"`
	Center    Point `json:"center"`
	Zoom      int   `json:"zoom"`
}

// View is everything needed to draw the map
type View struct {
	Markers  []Marker  `json:"markers"`
	Groups   []Group   `json:"groups"`
	Viewport *Viewport `json:"viewport,omitempty"`
	User     *Point    `json:"user,omitempty"`
}

// Builder turns records into a View
type Builder struct {
	Palette []string
	MaxZoom int
	Width   int
	Height  int
}

func NewBuilder() *Builder {
	return &Builder{Palette: DefaultPalette, MaxZoom: DefaultMaxZoom, Width: 1024, Height: 768}
}

// Position returns the coordinates of a record when it can be placed on the
// map: both coordinates finite and non-zero.
func Position(r models.VisitRecord) (Point, bool) {
	if !r.Latitude.Valid || !r.Longitude.Valid {
		return Point{}, false
	}
	lat, lng := r.Latitude.Value, r.Longitude.Value
	if lat == 0 || lng == 0 || math.IsNaN(lat) || math.IsNaN(lng) ||
		math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

// Eligible keeps the records with a valid position and a text value
func Eligible(records []models.VisitRecord) []models.VisitRecord {
	out := make([]models.VisitRecord, 0, len(records))
	for _, r := range records {
		if _, ok := Position(r); !ok {
			continue
		}
		if strings.TrimSpace(r.TextValue) == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GroupKey is the visit uuid, or a per-record key for ungrouped records
func GroupKey(r models.VisitRecord) string {
	if k := strings.TrimSpace(r.VisiteHarderUUID); k != "" {
		return k
	}
	return fmt.Sprintf("entry-%d", r.ID)
}

// Build places one marker per eligible record. Groups are numbered from 1 in
// order of first appearance.
func (b *Builder) Build(records []models.VisitRecord, user *Point) View {
	palette := b.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}

	eligible := Eligible(records)

	var order []string
	members := make(map[string][]models.VisitRecord)
	for _, r := range eligible {
		k := GroupKey(r)
		if _, seen := members[k]; !seen {
			order = append(order, k)
		}
		members[k] = append(members[k], r)
	}

	view := View{
		Markers: make([]Marker, 0, len(eligible)),
		Groups:  make([]Group, 0, len(order)),
		User:    user,
	}

	for gi, k := range order {
		index := gi + 1
		color := palette[gi%len(palette)]
		recs := members[k]
		group := Group{Key: k, Index: index, Color: color, IDs: make([]int64, 0, len(recs))}

		for si, r := range recs {
			pos, _ := Position(r)
			label := fmt.Sprintf("%d", index)
			if len(recs) > 1 {
				label = fmt.Sprintf("%d.%d", index, si+1)
			}
			m := Marker{
				ID:         r.ID,
				Position:   pos,
				GroupKey:   k,
				GroupIndex: index,
				SubIndex:   si + 1,
				Label:      label,
				Color:      color,
				Record:     r,
			}
			if user != nil {
				d := NewDistance(Haversine(*user, pos))
				m.ToUser = &d
			}
			view.Markers = append(view.Markers, m)
			group.IDs = append(group.IDs, r.ID)
		}
		view.Groups = append(view.Groups, group)
	}

	if vp, ok := b.Fit(view.Markers); ok {
		view.Viewport = &vp
	}
	return view
}

// Haversine returns the great-circle distance in metres
func Haversine(a, b Point) float64 {
	return geo.DistanceHaversine(a.orb(), b.orb())
}

func NewDistance(m float64) Distance {
	return Distance{Meters: m, Text: FormatDistance(m)}
}

// FormatDistance renders metres under 1 km, two decimals up to 10 km and
// one decimal beyond.
func FormatDistance(m float64) string {
	switch {
	case m < 1000:
		return fmt.Sprintf("%d m", int(math.Round(m)))
	case m < 10000:
		return fmt.Sprintf("%.2f km", m/1000)
	default:
		return fmt.Sprintf("%.1f km", m/1000)
	}
}

// Fit computes the viewport showing every marker. Zoom never exceeds
// MaxZoom, so a single point or a tight cluster is not over-zoomed.
func (b *Builder) Fit(markers []Marker) (Viewport, bool) {
	if len(markers) == 0 {
		return Viewport{}, false
	}

	mp := make(orb.MultiPoint, len(markers))
	for i, m := range markers {
		mp[i] = m.Position.orb()
	}
	bound := mp.Bound()
	center := bound.Center()

	maxZoom := b.MaxZoom
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}

	zoom := maxZoom
	latFrac := (latRad(bound.Max.Lat()) - latRad(bound.Min.Lat())) / math.Pi
	lngDiff := bound.Max.Lon() - bound.Min.Lon()
	if lngDiff < 0 {
		lngDiff += 360
	}
	lngFrac := lngDiff / 360

	if latFrac > 0 {
		zoom = minInt(zoom, zoomFor(b.Height, latFrac))
	}
	if lngFrac > 0 {
		zoom = minInt(zoom, zoomFor(b.Width, lngFrac))
	}
	if zoom < 0 {
		zoom = 0
	}

	return Viewport{
		SouthWest: Point{Lat: bound.Min.Lat(), Lng: bound.Min.Lon()},
		NorthEast: Point{Lat: bound.Max.Lat(), Lng: bound.Max.Lon()},
		Center:    Point{Lat: center.Lat(), Lng: center.Lon()},
		Zoom:      zoom,
	}, true
}

func latRad(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	radX2 := math.Log((1+sin)/(1-sin)) / 2
	return math.Max(math.Min(radX2, math.Pi), -math.Pi) / 2
}

func zoomFor(px int, fraction float64) int {
	if px <= 0 {
		px = tileSize
	}
	return int(math.Floor(math.Log2(float64(px) / tileSize / fraction)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

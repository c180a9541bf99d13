package mapview

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visite/visite-admin/internal/models"
)

func record(id int64, visit string, lat, lng float64) models.VisitRecord {
	return models.VisitRecord{
		ID:               id,
		VisiteHarderUUID: visit,
		Latitude:         models.Float(lat),
		Longitude:        models.Float(lng),
		TextValue:        "answer",
	}
}

func TestBuild_GroupsByVisit(t *testing.T) {
	records := []models.VisitRecord{
		record(1, "v-1", -4.30, 15.30),
		record(2, "v-1", -4.31, 15.31),
		record(3, "", -4.40, 15.40),
		record(4, "", -4.50, 15.50),
	}

	view := NewBuilder().Build(records, nil)

	require.Len(t, view.Markers, 4)
	assert.Equal(t, "1.1", view.Markers[0].Label)
	assert.Equal(t, "1.2", view.Markers[1].Label)
	assert.Equal(t, view.Markers[0].Color, view.Markers[1].Color)

	assert.Equal(t, "2", view.Markers[2].Label)
	assert.Equal(t, "3", view.Markers[3].Label)
	assert.Equal(t, "entry-3", view.Markers[2].GroupKey)
	assert.Equal(t, "entry-4", view.Markers[3].GroupKey)
	assert.NotEqual(t, view.Markers[2].GroupKey, view.Markers[3].GroupKey)

	require.Len(t, view.Groups, 3)
	assert.Equal(t, []int64{1, 2}, view.Groups[0].IDs)
}

func TestBuild_PaletteWraps(t *testing.T) {
	var records []models.VisitRecord
	for i := int64(1); i <= 9; i++ {
		records = append(records, record(i, "", 1+float64(i)/100, 1))
	}

	view := NewBuilder().Build(records, nil)
	require.Len(t, view.Groups, 9)
	assert.Equal(t, DefaultPalette[0], view.Groups[8].Color)
	assert.Equal(t, DefaultPalette[7], view.Groups[7].Color)
}

func TestEligible(t *testing.T) {
	var nullLat models.VisitRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"latitude":null,"longitude":"15.2","text_value":"x"}`), &nullLat))

	var strCoords models.VisitRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":10,"latitude":"-4.3","longitude":"15.2","text_value":"x"}`), &strCoords))

	var badCoords models.VisitRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":11,"latitude":"abc","longitude":"15.2","text_value":"x"}`), &badCoords))

	noText := record(12, "", -4.3, 15.2)
	noText.TextValue = " "

	records := []models.VisitRecord{
		record(1, "", 0, 15.2),
		record(2, "", -4.3, 0),
		nullLat,
		strCoords,
		badCoords,
		noText,
		record(3, "", -4.3, 15.2),
	}

	got := Eligible(records)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{meters: 500, want: "500 m"},
		{meters: 999.4, want: "999 m"},
		{meters: 5000, want: "5.00 km"},
		{meters: 1234, want: "1.23 km"},
		{meters: 50000, want: "50.0 km"},
		{meters: 10000, want: "10.0 km"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDistance(tt.meters))
	}
}

func TestHaversine(t *testing.T) {
	kinshasa := Point{Lat: -4.325, Lng: 15.322}
	brazzaville := Point{Lat: -4.263, Lng: 15.242}

	d := Haversine(kinshasa, brazzaville)
	assert.InDelta(t, 11200, d, 300)
	assert.Equal(t, 0.0, Haversine(kinshasa, kinshasa))
}

func TestFit_ClampsZoom(t *testing.T) {
	b := NewBuilder()

	vp, ok := b.Fit([]Marker{{Position: Point{Lat: -4.3, Lng: 15.3}}})
	require.True(t, ok)
	assert.Equal(t, DefaultMaxZoom, vp.Zoom)
	assert.Equal(t, Point{Lat: -4.3, Lng: 15.3}, vp.Center)

	vp, ok = b.Fit([]Marker{
		{Position: Point{Lat: -10, Lng: 10}},
		{Position: Point{Lat: 10, Lng: 30}},
	})
	require.True(t, ok)
	assert.Less(t, vp.Zoom, DefaultMaxZoom)
	assert.Equal(t, Point{Lat: -10, Lng: 10}, vp.SouthWest)
	assert.Equal(t, Point{Lat: 10, Lng: 30}, vp.NorthEast)

	_, ok = b.Fit(nil)
	assert.False(t, ok)
}

func TestSelect_NearestAndUser(t *testing.T) {
	records := []models.VisitRecord{
		record(1, "a", -4.30, 15.30),
		record(2, "b", -4.31, 15.30),
		record(3, "c", -5.00, 16.00),
	}
	user := &Point{Lat: -4.30, Lng: 15.31}
	view := NewBuilder().Build(records, user)

	require.NotNil(t, view.Markers[0].ToUser)

	sel, err := Select(view, 1, user)
	require.NoError(t, err)
	require.NotNil(t, sel.Nearest)
	assert.Equal(t, int64(2), sel.Nearest.MarkerID)
	require.NotNil(t, sel.ToUser)
	assert.Equal(t, *user, sel.ToUser.To)

	sel, err = Select(view, 3, nil)
	require.NoError(t, err)
	assert.Nil(t, sel.ToUser)
	assert.Equal(t, "km", sel.Nearest.Distance.Text[len(sel.Nearest.Distance.Text)-2:])

	_, err = Select(view, 42, nil)
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestSelect_SingleMarkerHasNoNearest(t *testing.T) {
	view := NewBuilder().Build([]models.VisitRecord{record(1, "a", 1, 1)}, nil)
	sel, err := Select(view, 1, nil)
	require.NoError(t, err)
	assert.Nil(t, sel.Nearest)
}

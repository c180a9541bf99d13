package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/mapview"
	"github.com/visite/visite-admin/internal/models"
)

type markerCall struct {
	records []models.VisitRecord
	err     error
	gate    chan struct{}
}

type fakeMarkers struct {
	mu    sync.Mutex
	calls []markerCall
	seen  int
}

func (f *fakeMarkers) MapMarkers(ctx context.Context) ([]models.VisitRecord, error) {
	f.mu.Lock()
	call := f.calls[f.seen]
	f.seen++
	f.mu.Unlock()

	if call.gate != nil {
		<-call.gate
	}
	return call.records, call.err
}

func record(id int64, lat, lng float64, text string) models.VisitRecord {
	return models.VisitRecord{
		ID:        id,
		Latitude:  models.FlexFloat{Value: lat, Valid: true},
		Longitude: models.FlexFloat{Value: lng, Valid: true},
		TextValue: text,
	}
}

func TestMapService_StaleRefreshIsDropped(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeMarkers{calls: []markerCall{
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "old")}, gate: gate},
		{records: []models.VisitRecord{record(2, -4.4, 15.2, "new")}},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	slow := make(chan Snapshot, 1)
	go func() { slow <- ms.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.seen == 1
	}, time.Second, 5*time.Millisecond)

	fresh := ms.Refresh(context.Background())
	require.Len(t, fresh.Records, 1)
	assert.Equal(t, int64(2), fresh.Records[0].ID)

	close(gate)
	late := <-slow
	assert.Equal(t, fresh.Generation, late.Generation)

	current := ms.Current(context.Background())
	require.Len(t, current.Records, 1)
	assert.Equal(t, int64(2), current.Records[0].ID)
}

func TestMapService_FetchErrorGivesEmptyView(t *testing.T) {
	src := &fakeMarkers{calls: []markerCall{
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "a")}, err: errors.New("backend down")},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	result := ms.View(context.Background(), MapFilter{}, nil)
	assert.Equal(t, "backend down", result.Error)
	assert.Empty(t, result.Markers)
	assert.Zero(t, result.Total)
}

func TestMapService_CanceledRefreshKeepsSnapshot(t *testing.T) {
	src := &fakeMarkers{calls: []markerCall{
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "a")}},
		{err: context.Canceled},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	good := ms.Refresh(context.Background())
	require.Len(t, good.Records, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := ms.Refresh(ctx)
	assert.Equal(t, good.Generation, got.Generation)
	assert.Len(t, got.Records, 1)

	current := ms.Current(context.Background())
	assert.Len(t, current.Records, 1)
	assert.Empty(t, current.Err)
	assert.Equal(t, 2, src.seen)
}

func TestMapService_CanceledFirstFetchIsRetried(t *testing.T) {
	src := &fakeMarkers{calls: []markerCall{
		{err: context.Canceled},
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "a")}},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := ms.Current(ctx)
	assert.Equal(t, context.Canceled.Error(), first.Err)
	assert.Zero(t, first.Generation)

	second := ms.Current(context.Background())
	assert.Len(t, second.Records, 1)
	assert.Empty(t, second.Err)
}

func TestMapService_CurrentFetchesOnce(t *testing.T) {
	src := &fakeMarkers{calls: []markerCall{
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "a"), record(2, 0, 15.3, "no lat")}},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	first := ms.View(context.Background(), MapFilter{}, nil)
	second := ms.View(context.Background(), MapFilter{}, nil)
	assert.Equal(t, 1, src.seen)
	assert.Equal(t, 2, first.Total)
	assert.Len(t, first.Markers, 1)
	assert.Equal(t, first.FetchedAt, second.FetchedAt)
}

func TestMapService_SelectUnknownMarker(t *testing.T) {
	src := &fakeMarkers{calls: []markerCall{
		{records: []models.VisitRecord{record(1, -4.3, 15.3, "a"), record(2, -4.31, 15.31, "b")}},
	}}
	ms := NewMapService(&config.Config{}, src, zerolog.Nop())

	sel, err := ms.Select(context.Background(), MapFilter{}, 1, &mapview.Point{Lat: -4.3, Lng: 15.4})
	require.NoError(t, err)
	require.NotNil(t, sel.Nearest)
	assert.Equal(t, int64(2), sel.Nearest.MarkerID)
	assert.NotNil(t, sel.ToUser)

	_, err = ms.Select(context.Background(), MapFilter{}, 99, nil)
	assert.ErrorIs(t, err, mapview.ErrMarkerNotFound)
}

func TestFilterRecords(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 15, 0, 0, 0, time.UTC) }

	kin := record(1, -4.3, 15.3, "Marché central")
	kin.CountryUUID, kin.ProvinceUUID, kin.AreaUUID = "cd", "kinshasa", "gombe"
	kin.UserUUID, kin.UserName = "u1", "Amani Kabila"
	kin.CreatedAt = day(1)

	lub := record(2, -11.6, 27.5, "École primaire")
	lub.CountryUUID, lub.ProvinceUUID, lub.AreaUUID = "cd", "katanga", "kampemba"
	lub.UserUUID, lub.Email = "u2", "agent@example.org"
	lub.CreatedAt = day(5)

	records := []models.VisitRecord{kin, lub}

	tests := []struct {
		name   string
		filter MapFilter
		want   []int64
	}{
		{"empty", MapFilter{}, []int64{1, 2}},
		{"country", MapFilter{CountryUUID: "cd"}, []int64{1, 2}},
		{"province", MapFilter{ProvinceUUID: "katanga"}, []int64{2}},
		{"area", MapFilter{AreaUUID: "gombe"}, []int64{1}},
		{"user", MapFilter{UserUUID: "u2"}, []int64{2}},
		{"from", MapFilter{From: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}, []int64{2}},
		{"to inclusive", MapFilter{To: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}, []int64{1}},
		{"search folds case", MapFilter{Search: "MARCHÉ"}, []int64{1}},
		{"search email", MapFilter{Search: "example.org"}, []int64{2}},
		{"search user name", MapFilter{Search: "amani"}, []int64{1}},
		{"no match", MapFilter{Search: "hospital"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for _, r := range FilterRecords(records, tt.filter) {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

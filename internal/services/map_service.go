package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/mapview"
	"github.com/visite/visite-admin/internal/metrics"
	"github.com/visite/visite-admin/internal/models"
)

// MarkerSource serves the geo-tagged records drawn on the map
type MarkerSource interface {
	MapMarkers(ctx context.Context) ([]models.VisitRecord, error)
}

// MapFilter narrows the records shown. Zero fields match everything.
type MapFilter struct {
	CountryUUID  string    `form:"country_uuid"`
	ProvinceUUID string    `form:"province_uuid"`
	AreaUUID     string    `form:"area_uuid"`
	UserUUID     string    `form:"user_uuid"`
	From         time.Time `form:"from" time_format:"2006-01-02"`
	To           time.Time `form:"to" time_format:"2006-01-02"`
	Search       string    `form:"q"`
}

// Snapshot is the last marker fetch
type Snapshot struct {
	Records    []models.VisitRecord
	FetchedAt  time.Time
	Err        string
	Generation uint64
}

// MapResult is a built view plus the state of the data behind it
type MapResult struct {
	mapview.View
	Total     int       `json:"total"`
	FetchedAt time.Time `json:"fetched_at"`
	Error     string    `json:"error,omitempty"`
}

type MapService struct {
	source   MarkerSource
	builder  *mapview.Builder
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	issued   uint64
	snapshot Snapshot
}

func NewMapService(cfg *config.Config, source MarkerSource, logger zerolog.Logger) *MapService {
	builder := mapview.NewBuilder()
	if len(cfg.Map.Palette) > 0 {
		builder.Palette = cfg.Map.Palette
	}
	if cfg.Map.MaxZoom > 0 {
		builder.MaxZoom = cfg.Map.MaxZoom
	}
	if cfg.Map.ViewportWidth > 0 && cfg.Map.ViewportHeight > 0 {
		builder.Width, builder.Height = cfg.Map.ViewportWidth, cfg.Map.ViewportHeight
	}

	return &MapService{
		source:   source,
		builder:  builder,
		interval: cfg.Map.RefreshInterval,
		logger:   logger.With().Str("service", "map").Logger(),
	}
}

// Refresh fetches markers and installs them as the current snapshot,
// unless a fetch started later has already landed. A failed fetch leaves
// an empty dataset with the error message. A fetch abandoned because ctx
// was canceled leaves the current snapshot in place.
func (ms *MapService) Refresh(ctx context.Context) Snapshot {
	ms.mu.Lock()
	ms.issued++
	gen := ms.issued
	ms.mu.Unlock()

	start := time.Now()
	records, err := ms.source.MapMarkers(ctx)
	metrics.MapRefreshDuration.Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() != nil {
		ms.logger.Debug().Err(err).Uint64("generation", gen).Msg("marker fetch canceled, keeping snapshot")
		ms.mu.RLock()
		snap := ms.snapshot
		ms.mu.RUnlock()
		if snap.Generation == 0 {
			snap.Err = err.Error()
		}
		return snap
	}

	next := Snapshot{Records: records, FetchedAt: time.Now(), Generation: gen}
	if err != nil {
		metrics.MapRefreshTotal.WithLabelValues("error").Inc()
		ms.logger.Error().Err(err).Msg("failed to fetch map markers")
		next.Records = nil
		next.Err = err.Error()
	} else {
		metrics.MapRefreshTotal.WithLabelValues("ok").Inc()
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if gen < ms.snapshot.Generation {
		ms.logger.Debug().Uint64("generation", gen).Msg("dropping stale marker fetch")
		return ms.snapshot
	}
	ms.snapshot = next
	metrics.MapMarkers.Set(float64(len(mapview.Eligible(next.Records))))
	return next
}

// Current returns the snapshot, fetching it first if there is none yet
func (ms *MapService) Current(ctx context.Context) Snapshot {
	ms.mu.RLock()
	snap := ms.snapshot
	ms.mu.RUnlock()
	if snap.Generation == 0 {
		return ms.Refresh(ctx)
	}
	return snap
}

// Run refreshes the snapshot on a ticker until ctx is done
func (ms *MapService) Run(ctx context.Context) {
	if ms.interval <= 0 {
		return
	}
	ticker := time.NewTicker(ms.interval)
	defer ticker.Stop()

	ms.logger.Info().Dur("interval", ms.interval).Msg("map auto refresh started")
	ms.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			ms.logger.Info().Msg("map auto refresh stopped")
			return
		case <-ticker.C:
			ms.Refresh(ctx)
		}
	}
}

// View builds the map for the records matching filter
func (ms *MapService) View(ctx context.Context, filter MapFilter, user *mapview.Point) MapResult {
	snap := ms.Current(ctx)
	records := FilterRecords(snap.Records, filter)
	return MapResult{
		View:      ms.builder.Build(records, user),
		Total:     len(snap.Records),
		FetchedAt: snap.FetchedAt,
		Error:     snap.Err,
	}
}

// Select resolves a click on a marker in the filtered view
func (ms *MapService) Select(ctx context.Context, filter MapFilter, id int64, user *mapview.Point) (mapview.Selection, error) {
	result := ms.View(ctx, filter, user)
	return mapview.Select(result.View, id, user)
}

// FilterRecords keeps the records matching every set field of filter
func FilterRecords(records []models.VisitRecord, filter MapFilter) []models.VisitRecord {
	search := ""
	if q := strings.TrimSpace(filter.Search); q != "" {
		search = cases.Fold().String(q)
	}

	var to time.Time
	if !filter.To.IsZero() {
		// inclusive end day
		to = filter.To.Add(24 * time.Hour)
	}

	out := make([]models.VisitRecord, 0, len(records))
	for _, r := range records {
		switch {
		case filter.CountryUUID != "" && r.CountryUUID != filter.CountryUUID:
			continue
		case filter.ProvinceUUID != "" && r.ProvinceUUID != filter.ProvinceUUID:
			continue
		case filter.AreaUUID != "" && r.AreaUUID != filter.AreaUUID:
			continue
		case filter.UserUUID != "" && r.UserUUID != filter.UserUUID:
			continue
		case !filter.From.IsZero() && r.CreatedAt.Before(filter.From):
			continue
		case !to.IsZero() && !r.CreatedAt.Before(to):
			continue
		}
		if search != "" && !matchesSearch(r, search) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesSearch(r models.VisitRecord, folded string) bool {
	fold := cases.Fold()
	for _, s := range []string{r.TextValue, r.UserName, r.Email, r.AreaName, r.ProvinceName, r.CountryName} {
		if s != "" && strings.Contains(fold.String(s), folded) {
			return true
		}
	}
	return false
}

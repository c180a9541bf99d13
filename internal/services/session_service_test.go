package services

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/forms"
	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/store"
)

func TestSession_ConditionalVisibilityInView(t *testing.T) {
	h := newHarness(t, visitItems())
	id := h.start(t)

	view, err := h.sessions.SetValue(context.Background(), id, "visited", "Oui")
	require.NoError(t, err)
	require.Len(t, view.Items, 3)
	require.Len(t, view.Items[2].Conditional, 1)
	assert.Equal(t, "visited::Oui::details", view.Items[2].Conditional[0].Key)
	assert.True(t, view.Items[2].Conditional[0].Required)

	view, err = h.sessions.SetValue(context.Background(), id, "visited", "Non")
	require.NoError(t, err)
	assert.Empty(t, view.Items[2].Conditional)
}

func TestSession_InvalidValueIsKeptAndReported(t *testing.T) {
	h := newHarness(t, visitItems())
	id := h.start(t)

	view, err := h.sessions.SetValue(context.Background(), id, "count", "douze")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "count")
	require.NotNil(t, view)
	assert.Equal(t, "douze", view.Values["count"])
	assert.Contains(t, view.Errors, "count")

	result, err := h.sessions.Validate(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
}

func TestSession_UnknownFieldAndSession(t *testing.T) {
	h := newHarness(t, visitItems())
	id := h.start(t)

	_, err := h.sessions.SetValue(context.Background(), id, "nope", "x")
	assert.ErrorIs(t, err, forms.ErrUnknownField)

	_, err = h.sessions.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSession_SetLocationRejectsBadCoordinates(t *testing.T) {
	h := newHarness(t, visitItems())
	id := h.start(t)

	tests := []models.GeoFix{
		{Latitude: 91, Longitude: 0},
		{Latitude: 0, Longitude: -181},
		{Latitude: math.NaN(), Longitude: 1},
	}
	for _, fix := range tests {
		_, err := h.sessions.SetLocation(context.Background(), id, fix)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	}

	view, err := h.sessions.SetLocation(context.Background(), id, models.GeoFix{Latitude: -4.3, Longitude: 15.3})
	require.NoError(t, err)
	require.NotNil(t, view.Location)
	assert.False(t, view.Location.RecordedAt.IsZero())
}

func TestSession_DiscardDuringStartDropsFetch(t *testing.T) {
	h := newHarness(t, visitItems())
	gate := make(chan struct{})
	h.backend.itemsGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := h.sessions.Start(context.Background(), testForm)
		done <- err
	}()

	var id string
	require.Eventually(t, func() bool {
		h.sessions.mu.RLock()
		defer h.sessions.mu.RUnlock()
		for k := range h.sessions.sessions {
			id = k
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	view, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateLoading, view.State)

	_, err = h.sessions.SetValue(context.Background(), id, "name", "x")
	assert.ErrorIs(t, err, ErrSessionLoading)

	require.NoError(t, h.sessions.Discard(context.Background(), id))
	close(gate)

	assert.ErrorIs(t, <-done, ErrSessionSuperseded)
	_, err = h.sessions.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSession_OlderReloadIsDropped(t *testing.T) {
	h := newHarness(t, visitItems())
	id := h.start(t)
	h.set(t, id, "name", "kept")

	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.itemsGate = gate
	h.backend.mu.Unlock()

	first := make(chan error, 1)
	go func() {
		_, err := h.sessions.Reload(context.Background(), id)
		first <- err
	}()

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return h.backend.itemsCalls == 2
	}, time.Second, 5*time.Millisecond)

	h.backend.mu.Lock()
	h.backend.itemsGate = nil
	h.backend.mu.Unlock()

	view, err := h.sessions.Reload(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "kept", view.Values["name"])

	close(gate)
	assert.ErrorIs(t, <-first, ErrSessionSuperseded)
}

func TestSession_DraftSurvivesRestart(t *testing.T) {
	st, err := store.Open(config.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "drafts.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	fb := &fakeBackend{items: visitItems()}
	logger := zerolog.Nop()

	first := NewSessionService(NewFormService(fb, logger), st, logger)
	view, err := first.Start(context.Background(), testForm)
	require.NoError(t, err)
	id := view.ID

	_, err = first.SetValue(context.Background(), id, "visited", "Oui")
	require.NoError(t, err)
	_, err = first.SetValue(context.Background(), id, "visited::Oui::details", "porch")
	require.NoError(t, err)
	_, err = first.SetLocation(context.Background(), id, models.GeoFix{Latitude: -4.3, Longitude: 15.3})
	require.NoError(t, err)

	second := NewSessionService(NewFormService(fb, logger), st, logger)
	restored, err := second.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Oui", restored.Values["visited"])
	assert.Equal(t, "porch", restored.Values["visited::Oui::details"])
	require.Len(t, restored.Items[2].Conditional, 1)
	require.NotNil(t, restored.Location)
	assert.InDelta(t, -4.3, restored.Location.Latitude, 1e-9)

	drafts, err := second.ListDrafts(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, id, drafts[0].ID)
	assert.Equal(t, "porch", drafts[0].Responses["visited::Oui::details"])

	require.NoError(t, second.Discard(context.Background(), id))
	_, err = NewSessionService(NewFormService(fb, logger), st, logger).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	drafts, err = second.ListDrafts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestSession_ListDraftsInMemory(t *testing.T) {
	h := newHarness(t, visitItems())
	older := h.start(t)
	newer := h.start(t)
	h.set(t, newer, "name", "latest")

	drafts, err := h.sessions.ListDrafts(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, newer, drafts[0].ID)
	assert.Equal(t, "latest", drafts[0].Responses["name"])
	assert.Equal(t, older, drafts[1].ID)
}

// blockingDrafts is an in-memory DraftStore whose saves wait on gate once
// it is set.
type blockingDrafts struct {
	mu     sync.Mutex
	drafts map[string]models.Draft
	gate   chan struct{}
	saving chan struct{}
}

func (b *blockingDrafts) SaveDraft(ctx context.Context, d *models.Draft) error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		b.saving <- struct{}{}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.drafts[d.ID] = *d
	return nil
}

func (b *blockingDrafts) LoadDraft(ctx context.Context, id string) (*models.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drafts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (b *blockingDrafts) ListDrafts(ctx context.Context) ([]models.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Draft, 0, len(b.drafts))
	for _, d := range b.drafts {
		out = append(out, d)
	}
	return out, nil
}

func (b *blockingDrafts) DeleteDraft(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.drafts, id)
	return nil
}

func TestSession_DiscardDuringDraftSaveStaysDiscarded(t *testing.T) {
	drafts := &blockingDrafts{drafts: map[string]models.Draft{}, saving: make(chan struct{}, 1)}
	logger := zerolog.Nop()
	sessions := NewSessionService(NewFormService(&fakeBackend{items: visitItems()}, logger), drafts, logger)

	view, err := sessions.Start(context.Background(), testForm)
	require.NoError(t, err)
	id := view.ID

	gate := make(chan struct{})
	drafts.mu.Lock()
	drafts.gate = gate
	drafts.mu.Unlock()

	set := make(chan error, 1)
	go func() {
		_, err := sessions.SetValue(context.Background(), id, "name", "late")
		set <- err
	}()
	<-drafts.saving

	discarded := make(chan error, 1)
	go func() { discarded <- sessions.Discard(context.Background(), id) }()

	select {
	case err := <-discarded:
		t.Fatalf("discard finished while a draft save was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-set)
	require.NoError(t, <-discarded)

	_, err = drafts.LoadDraft(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = sessions.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = sessions.SetLocation(context.Background(), id, models.GeoFix{Latitude: -4.3, Longitude: 15.3})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

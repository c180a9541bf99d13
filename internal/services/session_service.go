package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/forms"
	"github.com/visite/visite-admin/internal/metrics"
	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/store"
)

type SubmitState string

const (
	StateLoading    SubmitState = "loading"
	StateIdle       SubmitState = "idle"
	StateSubmitting SubmitState = "submitting"
	StateSuccess    SubmitState = "success"
	StateFailed     SubmitState = "failed"
)

// DraftStore persists fill sessions between restarts
type DraftStore interface {
	SaveDraft(ctx context.Context, d *models.Draft) error
	LoadDraft(ctx context.Context, id string) (*models.Draft, error)
	ListDrafts(ctx context.Context) ([]models.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// Session is one in-progress form-fill. All fields are guarded by mu.
// saveMu orders draft writes against Discard and is taken before mu.
type Session struct {
	saveMu sync.Mutex
	mu     sync.Mutex

	id        string
	gen       uint64
	discarded bool
	form      models.Form
	collector *forms.Collector
	location  *models.GeoFix
	injected  map[string]bool
	state     SubmitState
	last      *SubmitResult
	createdAt time.Time
	updatedAt time.Time
}

type SubFieldView struct {
	Key      string           `json:"key"`
	Trigger  string           `json:"trigger"`
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Required bool             `json:"required"`
	Field    forms.Descriptor `json:"field"`
}

type ItemView struct {
	UUID        string           `json:"uuid"`
	Question    string           `json:"question"`
	Type        string           `json:"type"`
	Required    bool             `json:"required"`
	Field       forms.Descriptor `json:"field"`
	Conditional []SubFieldView   `json:"conditional,omitempty"`
}

// SessionView is the client-facing snapshot of a session. Conditional
// lists only the sub-fields currently shown.
type SessionView struct {
	ID         string            `json:"id"`
	FormUUID   string            `json:"form_uuid"`
	FormTitle  string            `json:"form_title"`
	State      SubmitState       `json:"state"`
	Items      []ItemView        `json:"items"`
	Values     map[string]string `json:"values"`
	Errors     map[string]string `json:"errors,omitempty"`
	Location   *models.GeoFix    `json:"location,omitempty"`
	LastResult *SubmitResult     `json:"last_result,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type SessionService struct {
	forms  *FormService
	drafts DraftStore
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService builds the session registry. drafts may be nil, in
// which case sessions only live in memory.
func NewSessionService(formService *FormService, drafts DraftStore, logger zerolog.Logger) *SessionService {
	return &SessionService{
		forms:    formService,
		drafts:   drafts,
		logger:   logger.With().Str("service", "sessions").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (ss *SessionService) register(s *Session) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if existing, ok := ss.sessions[s.id]; ok {
		return existing
	}
	ss.sessions[s.id] = s
	metrics.ActiveSessions.Set(float64(len(ss.sessions)))
	return s
}

func (ss *SessionService) remove(id string, s *Session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.sessions[id] == s {
		delete(ss.sessions, id)
	}
	metrics.ActiveSessions.Set(float64(len(ss.sessions)))
}

// Start opens a new session on a form. The session is visible in the
// loading state while the definition is fetched.
func (ss *SessionService) Start(ctx context.Context, formUUID string) (*SessionView, error) {
	now := ss.now()
	s := &Session{
		id:        uuid.New().String(),
		gen:       1,
		form:      models.Form{UUID: formUUID},
		injected:  make(map[string]bool),
		state:     StateLoading,
		createdAt: now,
		updatedAt: now,
	}
	ss.register(s)

	def, err := ss.forms.GetDefinition(ctx, formUUID)
	if err != nil {
		ss.remove(s.id, s)
		return nil, err
	}

	s.mu.Lock()
	if s.discarded || s.gen != 1 {
		s.mu.Unlock()
		ss.logger.Debug().Str("session", s.id).Msg("dropping form fetched for a discarded session")
		return nil, ErrSessionSuperseded
	}
	s.form = def.Form
	s.collector = forms.NewCollector(def)
	s.state = StateIdle
	view := s.view()
	s.mu.Unlock()

	ss.persist(ctx, s)
	ss.logger.Info().Str("session", s.id).Str("form", formUUID).Msg("fill session started")
	return view, nil
}

// Reload refetches the form definition and replays the current answers on
// it. A reload overtaken by a newer one or by Discard is dropped.
func (ss *SessionService) Reload(ctx context.Context, id string) (*SessionView, error) {
	s, err := ss.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	s.gen++
	gen := s.gen
	formUUID := s.form.UUID
	s.mu.Unlock()

	def, err := ss.forms.GetDefinition(ctx, formUUID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded || s.gen != gen {
		return nil, ErrSessionSuperseded
	}

	var raw map[string]string
	if s.collector != nil {
		raw = s.collector.Raw()
	}
	s.form = def.Form
	s.collector = forms.NewCollector(def)
	s.collector.Restore(raw)
	if s.state == StateLoading {
		s.state = StateIdle
	}
	s.updatedAt = ss.now()
	return s.view(), nil
}

// lookup finds a live session, or revives it from its draft
func (ss *SessionService) lookup(ctx context.Context, id string) (*Session, error) {
	ss.mu.RLock()
	s, ok := ss.sessions[id]
	ss.mu.RUnlock()
	if ok {
		return s, nil
	}

	if ss.drafts == nil {
		return nil, ErrSessionNotFound
	}
	d, err := ss.drafts.LoadDraft(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	def, err := ss.forms.GetDefinition(ctx, d.FormUUID)
	if err != nil {
		return nil, err
	}

	s = &Session{
		id:        d.ID,
		gen:       1,
		form:      def.Form,
		collector: forms.NewCollector(def),
		location:  d.Location,
		injected:  make(map[string]bool),
		state:     SubmitState(d.State),
		createdAt: d.CreatedAt,
		updatedAt: d.UpdatedAt,
	}
	s.collector.Restore(d.Responses)
	switch s.state {
	case StateIdle, StateFailed:
	case StateSubmitting:
		// the process stopped mid-submit, let the user retry
		s.state = StateFailed
	default:
		s.state = StateIdle
	}

	ss.logger.Info().Str("session", id).Str("form", d.FormUUID).Msg("fill session restored from draft")
	return ss.register(s), nil
}

// ready locks a session that can take edits. The caller must unlock.
func (s *Session) ready() error {
	s.mu.Lock()
	switch {
	case s.discarded:
		s.mu.Unlock()
		return ErrSessionNotFound
	case s.state == StateLoading || s.collector == nil:
		s.mu.Unlock()
		return ErrSessionLoading
	case s.state == StateSubmitting:
		s.mu.Unlock()
		return ErrSubmitInFlight
	}
	return nil
}

func (ss *SessionService) Get(ctx context.Context, id string) (*SessionView, error) {
	s, err := ss.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded {
		return nil, ErrSessionNotFound
	}
	return s.view(), nil
}

// SetValue records raw input for a response key. Invalid input is kept
// and reported as a ValidationError alongside the updated view.
func (ss *SessionService) SetValue(ctx context.Context, id, key, raw string) (*SessionView, error) {
	k, err := forms.ParseKey(key)
	if err != nil {
		return nil, err
	}

	s, err := ss.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	setErr := s.collector.Set(k, raw)
	if errors.Is(setErr, forms.ErrUnknownField) {
		s.mu.Unlock()
		return nil, setErr
	}
	delete(s.injected, k.Item)
	if s.state == StateSuccess {
		s.state = StateIdle
	}
	s.updatedAt = ss.now()
	view := s.view()
	s.mu.Unlock()

	ss.persist(ctx, s)

	if setErr != nil {
		return view, invalidField(key, setErr.Error())
	}
	return view, nil
}

// SetLocation stores the device position used for GPS injection
func (ss *SessionService) SetLocation(ctx context.Context, id string, fix models.GeoFix) (*SessionView, error) {
	switch {
	case math.IsNaN(fix.Latitude) || math.IsInf(fix.Latitude, 0) || fix.Latitude < -90 || fix.Latitude > 90:
		return nil, invalidField("latitude", "must be between -90 and 90")
	case math.IsNaN(fix.Longitude) || math.IsInf(fix.Longitude, 0) || fix.Longitude < -180 || fix.Longitude > 180:
		return nil, invalidField("longitude", "must be between -180 and 180")
	}
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = ss.now()
	}

	s, err := ss.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.location = &fix
	s.updatedAt = ss.now()
	view := s.view()
	s.mu.Unlock()

	ss.persist(ctx, s)
	return view, nil
}

// Validate runs a validation pass without submitting
func (ss *SessionService) Validate(ctx context.Context, id string) (forms.Result, error) {
	s, err := ss.lookup(ctx, id)
	if err != nil {
		return forms.Result{}, err
	}
	if err := s.ready(); err != nil {
		return forms.Result{}, err
	}
	defer s.mu.Unlock()
	return s.collector.Validate(), nil
}

// Discard drops a session and its draft. Pending fetches for it are
// dropped when they complete.
func (ss *SessionService) Discard(ctx context.Context, id string) error {
	ss.mu.Lock()
	s, ok := ss.sessions[id]
	delete(ss.sessions, id)
	metrics.ActiveSessions.Set(float64(len(ss.sessions)))
	ss.mu.Unlock()

	if ok {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		s.mu.Lock()
		s.discarded = true
		s.gen++
		s.mu.Unlock()
	}

	if ss.drafts != nil {
		if err := ss.drafts.DeleteDraft(ctx, id); err != nil {
			return err
		}
	} else if !ok {
		return ErrSessionNotFound
	}

	ss.logger.Info().Str("session", id).Msg("fill session discarded")
	return nil
}

// persist writes the current state of s as its draft, unless s has been
// discarded.
func (ss *SessionService) persist(ctx context.Context, s *Session) {
	if ss.drafts == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return
	}
	d := s.draft()
	s.mu.Unlock()

	ss.saveDraft(ctx, d)
}

// ListDrafts returns the saved sessions, most recently updated first.
// Without a draft store it lists the sessions held in memory.
func (ss *SessionService) ListDrafts(ctx context.Context) ([]models.Draft, error) {
	if ss.drafts != nil {
		drafts, err := ss.drafts.ListDrafts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list drafts: %w", err)
		}
		return drafts, nil
	}

	ss.mu.RLock()
	live := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		live = append(live, s)
	}
	ss.mu.RUnlock()

	drafts := make([]models.Draft, 0, len(live))
	for _, s := range live {
		s.mu.Lock()
		d := s.draft()
		d.UpdatedAt = s.updatedAt
		s.mu.Unlock()
		drafts = append(drafts, *d)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt) })
	return drafts, nil
}

func (ss *SessionService) saveDraft(ctx context.Context, d *models.Draft) {
	if ss.drafts == nil || d == nil {
		return
	}
	if err := ss.drafts.SaveDraft(ctx, d); err != nil {
		ss.logger.Warn().Err(err).Str("session", d.ID).Msg("failed to save draft")
	}
}

func (s *Session) draft() *models.Draft {
	var responses map[string]string
	if s.collector != nil {
		responses = s.collector.Raw()
	}
	return &models.Draft{
		ID:        s.id,
		FormUUID:  s.form.UUID,
		Responses: responses,
		Location:  s.location,
		State:     string(s.state),
		CreatedAt: s.createdAt,
	}
}

func (s *Session) view() *SessionView {
	v := &SessionView{
		ID:         s.id,
		FormUUID:   s.form.UUID,
		FormTitle:  s.form.Title,
		State:      s.state,
		Location:   s.location,
		LastResult: s.last,
		UpdatedAt:  s.updatedAt,
		Values:     map[string]string{},
	}
	if s.collector == nil {
		return v
	}

	v.Values = s.collector.Raw()
	visibility := s.collector.Visibility()
	for _, item := range s.collector.Definition().Items {
		iv := ItemView{
			UUID:     item.UUID,
			Question: item.Question,
			Type:     item.Type,
			Required: item.Required,
			Field:    forms.Describe(item.Field),
		}
		for _, k := range visibility.VisibleKeys(item) {
			sf, _ := item.Conditional.SubField(k.Trigger, k.Sub)
			iv.Conditional = append(iv.Conditional, SubFieldView{
				Key:      k.String(),
				Trigger:  k.Trigger,
				ID:       sf.ID,
				Label:    sf.Label,
				Required: sf.Required,
				Field:    forms.Describe(sf.Field),
			})
		}
		v.Items = append(v.Items, iv)
	}

	for key := range v.Values {
		k, _ := forms.ParseKey(key)
		if e, ok := s.collector.Get(k); ok && e.Err != nil {
			if v.Errors == nil {
				v.Errors = map[string]string{}
			}
			v.Errors[key] = e.Err.Error()
		}
	}
	return v
}

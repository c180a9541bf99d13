package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/forms"
	"github.com/visite/visite-admin/internal/metrics"
	"github.com/visite/visite-admin/internal/models"
)

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// SubmissionSink is the part of the backend that stores submissions
type SubmissionSink interface {
	CreateSubmission(ctx context.Context, req models.SubmissionRequest) (*models.Submission, error)
	BulkResponses(ctx context.Context, req models.BulkResponseRequest) (*models.BulkResponseResult, error)
	CreateResponse(ctx context.Context, entry models.ResponseEntry) error
}

// AuditLog records every submission attempt
type AuditLog interface {
	AppendLog(ctx context.Context, entry *models.SubmissionLog) error
}

// SubmitResult describes how a submission went
type SubmitResult struct {
	Outcome        string            `json:"outcome"`
	SubmissionUUID string            `json:"submission_uuid,omitempty"`
	ExpectedCount  int               `json:"expected_count"`
	CreatedCount   int               `json:"created_count"`
	UsedFallback   bool              `json:"used_fallback"`
	Errors         []string          `json:"errors,omitempty"`
	FieldErrors    map[string]string `json:"field_errors,omitempty"`
	Message        string            `json:"message,omitempty"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

type SubmissionService struct {
	sessions  *SessionService
	sink      SubmissionSink
	audit     AuditLog
	notifier  *NotificationService
	mailer    *EmailService
	maxFixAge time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	async     func(func())
}

// NewSubmissionService wires the submit pipeline. audit, notifier and
// mailer are optional.
func NewSubmissionService(cfg *config.Config, sessions *SessionService, sink SubmissionSink, audit AuditLog, notifier *NotificationService, mailer *EmailService, logger zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		sessions:  sessions,
		sink:      sink,
		audit:     audit,
		notifier:  notifier,
		mailer:    mailer,
		maxFixAge: cfg.Geo.MaxPositionAge,
		logger:    logger.With().Str("service", "submissions").Logger(),
		now:       time.Now,
		async:     func(f func()) { go f() },
	}
}

// Submit validates a session and sends it to the backend: the submission
// record first, then its responses in bulk, one by one if the bulk call
// fails. On success or partial success the session is reset.
func (ss *SubmissionService) Submit(ctx context.Context, sessionID string, req models.SubmitRequest) (*SubmitResult, error) {
	s, err := ss.sessions.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	now := ss.now()
	ss.injectLocation(s, now)

	check := s.collector.Validate()
	if !check.IsValid {
		if s.state != StateFailed {
			s.state = StateIdle
		}
		s.mu.Unlock()
		result := &SubmitResult{
			Outcome:     OutcomeInvalid,
			FieldErrors: check.Errors,
			Message:     forms.MsgRequiredMissing,
			SubmittedAt: now,
		}
		return result, &ValidationError{Message: forms.MsgRequiredMissing, Fields: check.Errors}
	}

	answers := s.collector.Answers()
	form := s.form
	var fix *models.GeoFix
	if s.location != nil {
		loc := *s.location
		fix = &loc
	}
	s.state = StateSubmitting
	gen := s.gen
	s.mu.Unlock()

	result := ss.send(ctx, form, answers, fix, req)
	result.SubmittedAt = now

	ss.finish(ctx, s, gen, form, req, result)

	if result.Outcome == OutcomeFailed {
		return result, fmt.Errorf("%w: %s", ErrSubmitFailed, result.Message)
	}
	return result, nil
}

func (ss *SubmissionService) send(ctx context.Context, form models.Form, answers []forms.Answer, fix *models.GeoFix, req models.SubmitRequest) *SubmitResult {
	start := time.Now()
	sub, err := ss.sink.CreateSubmission(ctx, models.SubmissionRequest{
		FormUUID:       form.UUID,
		SubmitterName:  req.SubmitterName,
		SubmitterEmail: req.SubmitterEmail,
		Status:         "submitted",
		UserUUID:       req.UserUUID,
		CountryUUID:    req.CountryUUID,
		ProvinceUUID:   req.ProvinceUUID,
		AreaUUID:       req.AreaUUID,
	})
	metrics.ObserveBackend("create_submission", start)
	if err != nil {
		ss.logger.Error().Err(err).Str("form", form.UUID).Msg("failed to create submission")
		return &SubmitResult{Outcome: OutcomeFailed, Message: err.Error()}
	}

	entries := BuildEntries(sub.UUID, answers, req, fix)
	result := &SubmitResult{
		Outcome:        OutcomeSuccess,
		SubmissionUUID: sub.UUID,
		ExpectedCount:  len(entries),
	}
	if len(entries) == 0 {
		return result
	}

	start = time.Now()
	bulk, err := ss.sink.BulkResponses(ctx, models.BulkResponseRequest{
		VisiteHarderUUID: sub.UUID,
		Responses:        entries,
	})
	metrics.ObserveBackend("bulk_responses", start)

	if err == nil {
		result.CreatedCount = bulk.CreatedCount
		// some backend versions omit the count on full success
		if bulk.Status == "success" && bulk.CreatedCount == 0 && len(bulk.Errors) == 0 {
			result.CreatedCount = len(entries)
		}
		result.Errors = bulk.Errors
		if bulk.Status == "partial_success" || result.CreatedCount < len(entries) {
			result.Outcome = OutcomePartial
			result.Message = fmt.Sprintf("%d of %d responses saved", result.CreatedCount, len(entries))
		}
		return result
	}

	ss.logger.Warn().Err(err).Str("submission", sub.UUID).Int("entries", len(entries)).
		Msg("bulk insert failed, sending responses one by one")

	result.UsedFallback = true
	created, ferr := ss.sendEach(ctx, sub.UUID, entries)
	result.CreatedCount = created
	if ferr != nil {
		var merr *multierror.Error
		if errors.As(ferr, &merr) {
			for _, e := range merr.Errors {
				result.Errors = append(result.Errors, e.Error())
			}
		} else {
			result.Errors = append(result.Errors, ferr.Error())
		}
		result.Outcome = OutcomePartial
		result.Message = fmt.Sprintf("%d of %d responses saved", created, len(entries))
	}
	return result
}

// sendEach posts entries sequentially. There is no rollback, entries that
// went through stay.
func (ss *SubmissionService) sendEach(ctx context.Context, submissionUUID string, entries []models.ResponseEntry) (int, error) {
	var (
		result  *multierror.Error
		created int
	)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("entry %d (%s): %w", i, entry.FormItemUUID, err))
			metrics.FallbackEntriesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		start := time.Now()
		err := ss.sink.CreateResponse(ctx, entry)
		metrics.ObserveBackend("create_response", start)

		if err != nil {
			result = multierror.Append(result, fmt.Errorf("entry %d (%s): %w", i, entry.FormItemUUID, err))
			metrics.FallbackEntriesTotal.WithLabelValues("error").Inc()
			ss.logger.Warn().Err(err).Str("submission", submissionUUID).Str("item", entry.FormItemUUID).
				Msg("response not saved")
			continue
		}

		created++
		metrics.FallbackEntriesTotal.WithLabelValues("ok").Inc()
		ss.logger.Info().Str("submission", submissionUUID).Str("item", entry.FormItemUUID).Msg("response saved")
	}

	return created, result.ErrorOrNil()
}

func (ss *SubmissionService) finish(ctx context.Context, s *Session, gen uint64, form models.Form, req models.SubmitRequest, result *SubmitResult) {
	s.mu.Lock()
	live := !s.discarded && s.gen == gen
	s.last = result
	if result.Outcome == OutcomeFailed {
		s.state = StateFailed
	} else {
		s.state = StateSuccess
		s.collector.Reset()
		s.location = nil
		s.injected = make(map[string]bool)
	}
	s.updatedAt = ss.now()
	s.mu.Unlock()

	if live {
		ss.sessions.persist(ctx, s)
	}

	metrics.SubmissionsTotal.WithLabelValues(result.Outcome).Inc()

	event := ss.logger.Info()
	if result.Outcome != OutcomeSuccess {
		event = ss.logger.Warn()
	}
	event.Str("session", s.id).
		Str("form", form.UUID).
		Str("submission", result.SubmissionUUID).
		Str("outcome", result.Outcome).
		Int("expected", result.ExpectedCount).
		Int("created", result.CreatedCount).
		Bool("fallback", result.UsedFallback).
		Msg("submission finished")

	if ss.audit != nil {
		entry := &models.SubmissionLog{
			SessionID:      s.id,
			FormUUID:       form.UUID,
			SubmissionUUID: result.SubmissionUUID,
			Outcome:        result.Outcome,
			ExpectedCount:  result.ExpectedCount,
			CreatedCount:   result.CreatedCount,
			UsedFallback:   result.UsedFallback,
			Error:          auditError(result),
			SubmittedAt:    result.SubmittedAt,
		}
		if err := ss.audit.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
			ss.logger.Error().Err(err).Str("session", s.id).Msg("failed to append submission log")
		}
	}

	ss.notify(form, req, *result)
}

func auditError(result *SubmitResult) string {
	var parts []string
	if result.Message != "" {
		parts = append(parts, result.Message)
	}
	return strings.Join(append(parts, result.Errors...), "; ")
}

func (ss *SubmissionService) notify(form models.Form, req models.SubmitRequest, result SubmitResult) {
	if ss.notifier != nil {
		ss.async(func() {
			if err := ss.notifier.SendSubmissionNotification(form, req, result); err != nil {
				ss.logger.Warn().Err(err).Msg("failed to send submission notification")
			}
		})
	}
	if ss.mailer != nil && result.Outcome != OutcomeFailed && req.SubmitterEmail != "" {
		ss.async(func() {
			if err := ss.mailer.SendConfirmationEmail(req.SubmitterEmail, form, req, result); err != nil {
				ss.logger.Warn().Err(err).Msg("failed to send confirmation email")
			}
		})
	}
}

// BuildEntries turns answers into wire entries for a submission. Conditional
// answers point at their parent item and carry a descriptive label.
func BuildEntries(submissionUUID string, answers []forms.Answer, req models.SubmitRequest, fix *models.GeoFix) []models.ResponseEntry {
	entries := make([]models.ResponseEntry, 0, len(answers))
	for _, a := range answers {
		e := models.ResponseEntry{
			VisiteHarderUUID: submissionUUID,
			FormItemUUID:     a.Item.UUID,
			EntryLabel:       a.Label(),
			UserUUID:         req.UserUUID,
			CountryUUID:      req.CountryUUID,
			ProvinceUUID:     req.ProvinceUUID,
			AreaUUID:         req.AreaUUID,
		}
		a.Value.ApplyTo(&e)
		if fix != nil {
			lat, lng := fix.Latitude, fix.Longitude
			e.Latitude, e.Longitude = &lat, &lng
		}
		entries = append(entries, e)
	}
	return entries
}

type coordKind int

const (
	coordNone coordKind = iota
	coordLatitude
	coordLongitude
	coordPair
)

// coordinateKind guesses from its question whether an item asks for a
// latitude, a longitude or a full position
func coordinateKind(item *forms.Item) coordKind {
	if _, ok := item.Field.(forms.LocationField); ok {
		return coordPair
	}

	words := strings.FieldsFunc(strings.ToLower(item.Question), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	var lat, lng, pair bool
	for _, w := range words {
		switch {
		case w == "lat" || strings.HasPrefix(w, "latitude"):
			lat = true
		case w == "lng" || w == "lon" || w == "long" || strings.HasPrefix(w, "longitude"):
			lng = true
		case w == "gps" || w == "coordinates" || strings.HasPrefix(w, "coordonn") || strings.HasPrefix(w, "position"):
			pair = true
		}
	}

	switch {
	case pair || (lat && lng):
		return coordPair
	case lat:
		return coordLatitude
	case lng:
		return coordLongitude
	}
	return coordNone
}

// injectLocation fills coordinate items the user left empty from the
// session's last fix, as long as the fix is recent. s.mu must be held.
func (ss *SubmissionService) injectLocation(s *Session, now time.Time) {
	fix := s.location
	if fix == nil || now.Sub(fix.RecordedAt) > ss.maxFixAge {
		return
	}

	for _, item := range s.collector.Definition().Items {
		var text string
		switch coordinateKind(item) {
		case coordLatitude:
			text = strconv.FormatFloat(fix.Latitude, 'f', -1, 64)
		case coordLongitude:
			text = strconv.FormatFloat(fix.Longitude, 'f', -1, 64)
		case coordPair:
			text = strconv.FormatFloat(fix.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(fix.Longitude, 'f', -1, 64)
		default:
			continue
		}

		key := forms.Key{Item: item.UUID}
		if e, ok := s.collector.Get(key); ok && strings.TrimSpace(e.Raw) != "" && !s.injected[item.UUID] {
			continue
		}
		if _, err := forms.Coerce(item.Field, text); err != nil {
			continue
		}
		if err := s.collector.Set(key, text); err == nil {
			s.injected[item.UUID] = true
		}
	}
}

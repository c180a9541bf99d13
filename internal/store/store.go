// Package store keeps fill-session drafts and the submission audit trail
// in sqlite or postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/models"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("not found")

type Store struct {
	db      *sql.DB
	dialect string
	logger  zerolog.Logger
}

// Open connects to the configured database and checks it is reachable
func Open(cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Type {
	case "sqlite":
		db, err = sql.Open("sqlite", cfg.Database)
	case "postgres":
		connectionString := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		db, err = sql.Open("postgres", connectionString)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:      db,
		dialect: cfg.Type,
		logger:  logger.With().Str("component", "store").Logger(),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded migrations for the store's dialect
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	dialect := "sqlite3"
	if s.dialect == "postgres" {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations/"+s.dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err == nil {
		s.logger.Info().Int64("version", version).Msg("database migrated")
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveDraft inserts or replaces a draft
func (s *Store) SaveDraft(ctx context.Context, d *models.Draft) error {
	responses, err := json.Marshal(d.Responses)
	if err != nil {
		return fmt.Errorf("failed to encode draft responses: %w", err)
	}

	var location sql.NullString
	if d.Location != nil {
		raw, err := json.Marshal(d.Location)
		if err != nil {
			return fmt.Errorf("failed to encode draft location: %w", err)
		}
		location = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := s.rebind(`
		INSERT INTO fill_sessions (id, form_uuid, responses, location, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			form_uuid = excluded.form_uuid,
			responses = excluded.responses,
			location = excluded.location,
			state = excluded.state,
			updated_at = excluded.updated_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.FormUUID,
		string(responses),
		location,
		d.State,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save draft %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) LoadDraft(ctx context.Context, id string) (*models.Draft, error) {
	query := s.rebind(`
		SELECT id, form_uuid, responses, location, state, created_at, updated_at
		FROM fill_sessions WHERE id = ?
	`)

	d, err := scanDraft(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", id, err)
	}
	return d, nil
}

// ListDrafts returns drafts, most recently updated first
func (s *Store) ListDrafts(ctx context.Context) ([]models.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_uuid, responses, location, state, created_at, updated_at
		FROM fill_sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []models.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM fill_sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*models.Draft, error) {
	var (
		d         models.Draft
		responses string
		location  sql.NullString
	)
	if err := row.Scan(&d.ID, &d.FormUUID, &responses, &location, &d.State, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(responses), &d.Responses); err != nil {
		return nil, fmt.Errorf("draft %s has corrupt responses: %w", d.ID, err)
	}
	if location.Valid && location.String != "" {
		d.Location = &models.GeoFix{}
		if err := json.Unmarshal([]byte(location.String), d.Location); err != nil {
			return nil, fmt.Errorf("draft %s has corrupt location: %w", d.ID, err)
		}
	}
	return &d, nil
}

// AppendLog records one submission attempt
func (s *Store) AppendLog(ctx context.Context, entry *models.SubmissionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO submission_log (id, session_id, form_uuid, submission_uuid, outcome,
			expected_count, created_count, used_fallback, error, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.SessionID,
		entry.FormUUID,
		nullString(entry.SubmissionUUID),
		entry.Outcome,
		entry.ExpectedCount,
		entry.CreatedCount,
		entry.UsedFallback,
		nullString(entry.Error),
		entry.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append submission log: %w", err)
	}
	return nil
}

// ListLogs pages through the audit trail, newest first. An empty formUUID
// lists every form.
func (s *Store) ListLogs(ctx context.Context, formUUID string, limit, offset int) ([]models.SubmissionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, form_uuid, submission_uuid, outcome,
			expected_count, created_count, used_fallback, error, submitted_at
		FROM submission_log
	`
	args := []any{}
	if formUUID != "" {
		query += ` WHERE form_uuid = ?`
		args = append(args, formUUID)
	}
	query += ` ORDER BY submitted_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submission logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SubmissionLog
	for rows.Next() {
		var (
			l              models.SubmissionLog
			submissionUUID sql.NullString
			errText        sql.NullString
		)
		err := rows.Scan(&l.ID, &l.SessionID, &l.FormUUID, &submissionUUID, &l.Outcome,
			&l.ExpectedCount, &l.CreatedCount, &l.UsedFallback, &errText, &l.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission log: %w", err)
		}
		l.SubmissionUUID = submissionUUID.String
		l.Error = errText.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Summary aggregates the audit trail per outcome
func (s *Store) Summary(ctx context.Context) (*models.SubmissionSummary, error) {
	summary := &models.SubmissionSummary{ByOutcome: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM submission_log GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		summary.ByOutcome[outcome] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM submission_log WHERE used_fallback = ?`), true).
		Scan(&summary.FallbackUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to count fallback submissions: %w", err)
	}

	// Selecting the column keeps its declared type, which MAX() would lose on sqlite
	var last time.Time
	err = s.db.QueryRowContext(ctx, `SELECT submitted_at FROM submission_log ORDER BY submitted_at DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read last submission: %w", err)
	default:
		summary.LastSubmit = &last
	}

	return summary, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PurgeLogs deletes audit rows older than cutoff
func (s *Store) PurgeLogs(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM submission_log WHERE submitted_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge submission logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// Package ledger persists mission metadata in an embedded SQLite database,
// separate from the bulky result store. It survives process restarts and is
// the single shared mutable state between the HTTP layer and the scheduler.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"darkroom/internal/domain"
	"darkroom/internal/sqlinline"
)

const schemaSQL = `
create table if not exists missions (
    id               text primary key,
    type             text not null,
    prompt           text not null,
    status           text not null,
    progress_message text not null default '',
    result_present   integer not null default 0,
    error_message    text not null default '',
    operation_json   text not null default '',
    created_at       text not null,
    updated_at       text not null
);
create index if not exists idx_missions_status on missions (status, created_at);
`

// Ledger is the durable ordered list of missions.
type Ledger struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Patch describes a partial, id-keyed mission update. Nil fields are left
// untouched, so overlapping writers (UI actions, scheduler progress) merge
// instead of clobbering each other.
type Patch struct {
	Status          *domain.MissionStatus
	ProgressMessage *string
	ResultPresent   *bool
	ErrorMessage    *string
	Operation       json.RawMessage
}

// Open initializes or connects to the ledger database at path.
func Open(path string, logger zerolog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: ensure directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}

	return &Ledger{db: db, path: path, logger: logger}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Enqueue inserts a new mission record.
func (l *Ledger) Enqueue(ctx context.Context, m *domain.Mission) error {
	if m.ID == "" {
		return errors.New("ledger: mission id is required")
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := l.db.ExecContext(ctx, sqlinline.QInsertMission,
		m.ID,
		string(m.Type),
		m.Prompt,
		string(m.Status),
		m.ProgressMessage,
		boolToInt(m.ResultPresent),
		m.ErrorMessage,
		string(m.Operation),
		formatTime(m.CreatedAt),
		formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert mission: %w", err)
	}
	return nil
}

// Load returns all missions in creation order. It fails soft: any read or
// scan error is logged and an empty slice is returned, never an error, so a
// corrupt ledger can never take down the caller.
func (l *Ledger) Load(ctx context.Context) []*domain.Mission {
	rows, err := l.db.QueryContext(ctx, sqlinline.QSelectMissions)
	if err != nil {
		l.logger.Error().Err(err).Msg("ledger: load failed")
		return nil
	}
	defer rows.Close()

	var missions []*domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			l.logger.Error().Err(err).Msg("ledger: scan mission failed")
			return nil
		}
		missions = append(missions, m)
	}
	if err := rows.Err(); err != nil {
		l.logger.Error().Err(err).Msg("ledger: iterate missions failed")
		return nil
	}
	return missions
}

// Get fetches a mission by id.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Mission, error) {
	row := l.db.QueryRowContext(ctx, sqlinline.QSelectMissionByID, id)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get mission: %w", err)
	}
	return m, nil
}

// Apply merges a partial update into the mission with the given id.
func (l *Ledger) Apply(ctx context.Context, id string, patch Patch) error {
	var status, progress, errMsg, operation any
	var present any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if patch.ProgressMessage != nil {
		progress = *patch.ProgressMessage
	}
	if patch.ResultPresent != nil {
		present = boolToInt(*patch.ResultPresent)
	}
	if patch.ErrorMessage != nil {
		errMsg = *patch.ErrorMessage
	}
	if patch.Operation != nil {
		operation = string(patch.Operation)
	}
	res, err := l.db.ExecContext(ctx, sqlinline.QPatchMission,
		status, progress, present, errMsg, operation, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("ledger: patch mission: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimNextPending atomically promotes the oldest pending mission to
// in-progress, but only when no mission is currently in-progress. Returns
// (nil, nil) when there is nothing to claim.
func (l *Ledger) ClaimNextPending(ctx context.Context) (*domain.Mission, error) {
	row := l.db.QueryRowContext(ctx, sqlinline.QClaimNextPending, formatTime(time.Now().UTC()))
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: claim next pending: %w", err)
	}
	return m, nil
}

// Reconcile downgrades interrupted in-progress missions back to pending.
// Run once on startup: an in-progress record left over from a previous
// process cannot be trusted to still be running anywhere. Terminal missions
// are untouched and creation order is preserved, so requeued missions keep
// their relative position. Stored operation handles are kept so video
// missions resume polling instead of resubmitting.
func (l *Ledger) Reconcile(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, sqlinline.QReconcileInterrupted, formatTime(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("ledger: reconcile: %w", err)
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return requeued, nil
}

// ClearFinished removes all completed and failed missions and returns the
// removed ids so the caller can delete the matching result store entries.
func (l *Ledger) ClearFinished(ctx context.Context) ([]string, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin clear tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlinline.QSelectFinishedIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: select finished: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ledger: scan finished id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate finished ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlinline.QDeleteFinished); err != nil {
		return nil, fmt.Errorf("ledger: delete finished: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit clear: %w", err)
	}
	return ids, nil
}

// CountByStatus returns the number of missions in the given state.
func (l *Ledger) CountByStatus(ctx context.Context, status domain.MissionStatus) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, sqlinline.QCountMissionsByStatus, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: count by status: %w", err)
	}
	return count, nil
}

func scanMission(scanner interface{ Scan(dest ...any) error }) (*domain.Mission, error) {
	var m domain.Mission
	var missionType, status, operation, createdAt, updatedAt string
	var present int
	if err := scanner.Scan(
		&m.ID,
		&missionType,
		&m.Prompt,
		&status,
		&m.ProgressMessage,
		&present,
		&m.ErrorMessage,
		&operation,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	m.Type = domain.MissionType(missionType)
	m.Status = domain.MissionStatus(status)
	m.ResultPresent = present != 0
	if operation != "" {
		m.Operation = json.RawMessage(operation)
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &m, nil
}

// timeLayout keeps a fixed-width fractional second so that lexicographic
// ordering in SQL matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

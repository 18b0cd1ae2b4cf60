/*
Package sqlite provides a SQLite-backed implementation of draft.Store.

PURPOSE:
  Keeps edit sessions across restarts of the console backend. The Policy API
  stays the source of truth for persisted installments. This store only holds
  the unsubmitted edit state.

KEY TABLES:
  drafts: One row per edit session. The schedule is serialized as JSON
          (installments_json) since it is always read and written whole.

OPTIMISTIC LOCKING:
  Update is a compare-and-swap on the version column:
    UPDATE drafts SET ... WHERE id = ? AND version = ?
  Zero affected rows means either the draft is gone or someone else wrote
  first. A follow-up lookup tells the two apart.

INDEXES:
  - idx_drafts_updated_at: DeleteStale (sweeper) and List ordering

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/drafts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - draft/store.go: Interface definition
  - draft/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
)

// timeLayout is fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements draft.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ draft.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every ":memory:" connection is a separate database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable (health checks).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL DEFAULT '',
		editing BOOLEAN NOT NULL DEFAULT FALSE,
		total TEXT NOT NULL,
		installment_count INTEGER NOT NULL DEFAULT 0,
		first_due_date TEXT,
		installments_json TEXT NOT NULL,
		submitting BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_drafts_updated_at
		ON drafts(updated_at);
	CREATE INDEX IF NOT EXISTS idx_drafts_policy
		ON drafts(policy_id) WHERE policy_id <> '';
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before submissions were claimed lack the column.
	return s.addColumnIfMissing("drafts", "submitting", "BOOLEAN NOT NULL DEFAULT FALSE")
}

func (s *Store) addColumnIfMissing(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// =============================================================================
// DRAFT STORE (draft.Store interface)
// =============================================================================

func (s *Store) Create(ctx context.Context, d draft.Draft) error {
	insts, err := json.Marshal(d.Installments)
	if err != nil {
		return fmt.Errorf("failed to encode installments: %w", err)
	}

	query := `
		INSERT INTO drafts
		(id, policy_id, editing, total, installment_count, first_due_date,
		 installments_json, submitting, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.PolicyID,
		d.Editing,
		d.Total.String(),
		d.Count,
		nullString(d.FirstDueDate.String()),
		string(insts),
		d.Submitting,
		d.Version,
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return draft.ErrDuplicate
		}
		return fmt.Errorf("failed to create draft: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id draft.ID) (draft.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, policy_id, editing, total, installment_count, first_due_date,
		       installments_json, submitting, version, created_at, updated_at
		FROM drafts WHERE id = ?
	`, id)

	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return draft.Draft{}, draft.ErrDraftNotFound
	}
	if err != nil {
		return draft.Draft{}, fmt.Errorf("failed to load draft %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d draft.Draft, prevVersion int) error {
	insts, err := json.Marshal(d.Installments)
	if err != nil {
		return fmt.Errorf("failed to encode installments: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET policy_id = ?, editing = ?, total = ?, installment_count = ?, first_due_date = ?,
		    installments_json = ?, submitting = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		d.PolicyID,
		d.Editing,
		d.Total.String(),
		d.Count,
		nullString(d.FirstDueDate.String()),
		string(insts),
		d.Submitting,
		d.Version,
		formatTime(d.UpdatedAt),
		d.ID,
		prevVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", d.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", d.ID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM drafts WHERE id = ?`, d.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return draft.ErrDraftNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", d.ID, err)
	}
	return draft.ErrConcurrentModification
}

func (s *Store) Delete(ctx context.Context, id draft.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	if n == 0 {
		return draft.ErrDraftNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]draft.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, editing, total, installment_count, first_due_date,
		       installments_json, submitting, version, created_at, updated_at
		FROM drafts ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	result := []draft.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE updated_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale drafts: %w", err)
	}
	return int(n), nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (draft.Draft, error) {
	var (
		d                    draft.Draft
		total, insts         string
		firstDue             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.PolicyID, &d.Editing, &total, &d.Count, &firstDue,
		&insts, &d.Submitting, &d.Version, &createdAt, &updatedAt); err != nil {
		return draft.Draft{}, err
	}

	var err error
	if d.Total, err = decimal.NewFromString(total); err != nil {
		return draft.Draft{}, fmt.Errorf("bad total %q: %w", total, err)
	}
	if firstDue.Valid {
		if d.FirstDueDate, err = installment.ParseDate(firstDue.String); err != nil {
			return draft.Draft{}, err
		}
	}
	if err := json.Unmarshal([]byte(insts), &d.Installments); err != nil {
		return draft.Draft{}, fmt.Errorf("bad installments: %w", err)
	}
	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return draft.Draft{}, err
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return draft.Draft{}, err
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

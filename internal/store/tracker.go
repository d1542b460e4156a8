package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Tracker is the primary RecordStore: an issue-shaped SQLite database in
// the layout the git-backed tracker keeps alongside its JSONL export.
type Tracker struct {
	db *sql.DB
}

// OpenTracker opens an existing tracker database. It returns an error
// wrapping ErrUnavailable when the database cannot be reached, which the
// router uses to engage the fallback log.
func OpenTracker(dbPath string) (*Tracker, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, dbPath, err)
	}
	return openTrackerDB(dbPath)
}

// InitTracker creates the tracker database (and its directory) if needed
// and opens it.
func InitTracker(dbPath string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create tracker dir: %w", err)
	}
	return openTrackerDB(dbPath)
}

func openTrackerDB(dbPath string) (*Tracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrUnavailable, err)
	}

	t := &Tracker{db: db}

	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", classify(err))
	}

	return t, nil
}

func (t *Tracker) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS issue_labels (
		issue_id TEXT NOT NULL REFERENCES issues(id),
		label    TEXT NOT NULL,
		PRIMARY KEY (issue_id, label)
	);
	CREATE INDEX IF NOT EXISTS idx_labels_label ON issue_labels(label);
	CREATE INDEX IF NOT EXISTS idx_issues_updated ON issues(updated_at DESC);
	`
	_, err := t.db.Exec(schema)
	return err
}

// newID returns a collision-resistant, lexically sortable identifier.
// ulid.Make is safe for concurrent writers.
func (t *Tracker) newID() string {
	return ulid.Make().String()
}

// classify maps driver errors onto the port taxonomy: an unreachable
// database engine becomes ErrUnavailable, everything else passes through
// as a plain (retryable) storage error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "no such file or directory") ||
		strings.Contains(msg, "database disk image is malformed") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (t *Tracker) Create(ctx context.Context, iss Issue) (string, error) {
	id := iss.ID
	if id == "" {
		id = t.newID()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO issues (id, title, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, iss.Title, iss.Body,
		iss.CreatedAt.UTC().Format(time.RFC3339Nano),
		iss.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert issue: %w", classify(err))
	}
	for _, label := range iss.Labels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_labels (issue_id, label) VALUES (?, ?)`, id, label); err != nil {
			return "", fmt.Errorf("insert label: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return "", classify(err)
	}
	return id, nil
}

// Update applies a partial mutation. Concurrent updates to the same
// issue are last-write-wins with no locking; two racing status
// transitions leave whichever write landed last. That is an accepted
// tradeoff of the multi-process model, not a bug.
func (t *Tracker) Update(ctx context.Context, id string, mut Mutation) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists); err != nil {
		return classify(err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if mut.Title != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE issues SET title = ? WHERE id = ?`, *mut.Title, id); err != nil {
			return classify(err)
		}
	}
	if mut.Body != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE issues SET body = ? WHERE id = ?`, *mut.Body, id); err != nil {
			return classify(err)
		}
	}
	if mut.Labels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = ?`, id); err != nil {
			return classify(err)
		}
		for _, label := range mut.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO issue_labels (issue_id, label) VALUES (?, ?)`, id, label); err != nil {
				return classify(err)
			}
		}
	}
	updatedAt := time.Now().UTC()
	if mut.UpdatedAt != nil {
		updatedAt = mut.UpdatedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE issues SET updated_at = ? WHERE id = ?`,
		updatedAt.Format(time.RFC3339Nano), id); err != nil {
		return classify(err)
	}

	return classify(tx.Commit())
}

func (t *Tracker) Get(ctx context.Context, id string) (*Issue, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT id, title, body, created_at, updated_at FROM issues WHERE id = ?`, id)
	iss, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := t.loadLabels(ctx, iss); err != nil {
		return nil, classify(err)
	}
	return iss, nil
}

func (t *Tracker) List(ctx context.Context, filter LabelFilter) ([]Issue, error) {
	query := `SELECT id, title, body, created_at, updated_at FROM issues ORDER BY updated_at DESC`
	args := []interface{}{}
	if len(filter) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter)), ",")
		query = fmt.Sprintf(`
			SELECT i.id, i.title, i.body, i.created_at, i.updated_at
			FROM issues i
			JOIN issue_labels l ON l.issue_id = i.id
			WHERE l.label IN (%s)
			GROUP BY i.id
			HAVING COUNT(DISTINCT l.label) = ?
			ORDER BY i.updated_at DESC`, placeholders)
		for _, l := range filter {
			args = append(args, l)
		}
		args = append(args, len(filter))
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		iss, err := scanIssue(rows)
		if err != nil {
			return nil, classify(err)
		}
		issues = append(issues, *iss)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for i := range issues {
		if err := t.loadLabels(ctx, &issues[i]); err != nil {
			return nil, classify(err)
		}
	}
	return issues, nil
}

func (t *Tracker) loadLabels(ctx context.Context, iss *Issue) error {
	rows, err := t.db.QueryContext(ctx,
		`SELECT label FROM issue_labels WHERE issue_id = ? ORDER BY label`, iss.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return err
		}
		iss.Labels = append(iss.Labels, label)
	}
	return rows.Err()
}

func (t *Tracker) Close() error {
	return t.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row scanner) (*Issue, error) {
	var iss Issue
	var createdAt, updatedAt string
	if err := row.Scan(&iss.ID, &iss.Title, &iss.Body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	iss.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	iss.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &iss, nil
}

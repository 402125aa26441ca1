package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/autotag/pkg/autotag/internalerr"
	"github.com/cognicore/autotag/pkg/autotag/store"
)

// Store implements store.Store using SQLite
type Store struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode and foreign keys enabled
// and creates the schema if needed.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	// WAL for concurrent readers during classification batches
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", internalerr.ErrStoreUnavailable, path, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// dsn applies per-connection pragmas so every pooled connection enforces
// foreign keys and waits on locks. Transactions take the write lock up front
// so concurrent label replaces queue instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS item_errors (
	item_id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	message TEXT NOT NULL,
	run_id TEXT,
	recorded_at TEXT,
	FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS label_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	UNIQUE(group_id, name),
	FOREIGN KEY(group_id) REFERENCES label_groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS item_labels (
	item_id TEXT NOT NULL,
	label_id INTEGER NOT NULL,
	UNIQUE(item_id, label_id),
	FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE,
	FOREIGN KEY(label_id) REFERENCES labels(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_item_labels_item ON item_labels(item_id);

CREATE TABLE IF NOT EXISTS label_vectors (
	label_id INTEGER PRIMARY KEY,
	vector TEXT NOT NULL,
	FOREIGN KEY(label_id) REFERENCES labels(id) ON DELETE CASCADE
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// UpsertItem inserts or updates a content item's body
func (s *Store) UpsertItem(ctx context.Context, itemID, body string) error {
	if itemID == "" {
		return fmt.Errorf("item id: %w", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO items (id, body) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET body=excluded.body`, itemID, body)
	return err
}

// ListItemIDs returns every content item id in lexical order
func (s *Store) ListItemIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnsureLabelGroup returns the named group, creating it when missing
func (s *Store) EnsureLabelGroup(ctx context.Context, name string) (store.LabelGroup, error) {
	if name == "" {
		return store.LabelGroup{}, fmt.Errorf("group name: %w", internalerr.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO label_groups (name) VALUES (?)`, name); err != nil {
		return store.LabelGroup{}, err
	}
	return s.GetLabelGroup(ctx, name)
}

// GetContentBody returns the body of a content item
func (s *Store) GetContentBody(ctx context.Context, itemID string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM items WHERE id = ?`, itemID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
	}
	return body, err
}

// GetLabelGroup looks up a group by name
func (s *Store) GetLabelGroup(ctx context.Context, name string) (store.LabelGroup, error) {
	g := store.LabelGroup{Name: name}
	err := s.db.QueryRowContext(ctx, `SELECT id FROM label_groups WHERE name = ?`, name).Scan(&g.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.LabelGroup{}, fmt.Errorf("label group %q: %w", name, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.LabelGroup{}, err
	}
	return g, nil
}

// GetLabel returns a label by id
func (s *Store) GetLabel(ctx context.Context, labelID int64) (store.Label, error) {
	var l store.Label
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, group_id FROM labels WHERE id = ?`, labelID,
	).Scan(&l.ID, &l.Name, &l.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Label{}, fmt.Errorf("label %d: %w", labelID, internalerr.ErrNotFound)
	}
	return l, err
}

// FindLabel looks up a label by exact name within a group
func (s *Store) FindLabel(ctx context.Context, groupID int64, name string) (store.Label, bool, error) {
	var l store.Label
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, group_id FROM labels WHERE group_id = ? AND name = ?`, groupID, name,
	).Scan(&l.ID, &l.Name, &l.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Label{}, false, nil
	}
	if err != nil {
		return store.Label{}, false, err
	}
	return l, true, nil
}

// CreateLabel creates a label, returning the existing one on a name clash
func (s *Store) CreateLabel(ctx context.Context, groupID int64, name string) (store.Label, error) {
	if strings.TrimSpace(name) == "" {
		return store.Label{}, fmt.Errorf("label name: %w", internalerr.ErrInvalidInput)
	}

	const stmt = `
INSERT INTO labels (group_id, name) VALUES (?, ?)
ON CONFLICT(group_id, name) DO UPDATE SET name=excluded.name
RETURNING id;
`
	l := store.Label{Name: name, GroupID: groupID}
	if err := s.db.QueryRowContext(ctx, stmt, groupID, name).Scan(&l.ID); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return store.Label{}, fmt.Errorf("label group %d: %w", groupID, internalerr.ErrNotFound)
		}
		return store.Label{}, err
	}
	return l, nil
}

// ListLabels returns every label in a group ordered by id
func (s *Store) ListLabels(ctx context.Context, groupID int64) ([]store.Label, error) {
	return s.queryLabels(ctx, `
SELECT id, name, group_id FROM labels
WHERE group_id = ?
ORDER BY id`, groupID)
}

// GetItemLabels returns the item's labels within a group ordered by id
func (s *Store) GetItemLabels(ctx context.Context, itemID string, groupID int64) ([]store.Label, error) {
	return s.queryLabels(ctx, `
SELECT l.id, l.name, l.group_id
FROM item_labels il
JOIN labels l ON l.id = il.label_id
WHERE il.item_id = ? AND l.group_id = ?
ORDER BY l.id`, itemID, groupID)
}

func (s *Store) queryLabels(ctx context.Context, query string, args ...any) ([]store.Label, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Label
	for rows.Next() {
		var l store.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.GroupID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReplaceItemLabels removes the item's associations in the group and applies
// labelIDs inside one transaction.
func (s *Store) ReplaceItemLabels(ctx context.Context, itemID string, groupID int64, labelIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, itemID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
		}
		return err
	}

	ids := store.UniqueIDs(labelIDs)
	for _, id := range ids {
		var gid int64
		err := tx.QueryRowContext(ctx, `SELECT group_id FROM labels WHERE id = ?`, id).Scan(&gid)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("label %d: %w", id, internalerr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if gid != groupID {
			return fmt.Errorf("label %d not in group %d: %w", id, groupID, internalerr.ErrInvalidInput)
		}
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM item_labels
WHERE item_id = ?
AND label_id IN (SELECT id FROM labels WHERE group_id = ?)`, itemID, groupID); err != nil {
		return err
	}

	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO item_labels (item_id, label_id) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, itemID, id); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetLabelVector returns the stored vector for a label
func (s *Store) GetLabelVector(ctx context.Context, labelID int64) ([]float64, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM label_vectors WHERE label_id = ?`, labelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false, fmt.Errorf("decode vector for label %d: %w", labelID, err)
	}
	return vec, true, nil
}

// SetLabelVector stores the vector for a label as a JSON array
func (s *Store) SetLabelVector(ctx context.Context, labelID int64, vector []float64) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO label_vectors (label_id, vector)
SELECT id, ? FROM labels WHERE id = ?
ON CONFLICT(label_id) DO UPDATE SET vector=excluded.vector`, string(raw), labelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("label %d: %w", labelID, internalerr.ErrNotFound)
	}
	return nil
}

// PersistItemError records the last error on an item
func (s *Store) PersistItemError(ctx context.Context, itemID string, e store.ItemError) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO item_errors (item_id, code, message, run_id, recorded_at)
SELECT id, ?, ?, ?, ? FROM items WHERE id = ?
ON CONFLICT(item_id) DO UPDATE SET
	code=excluded.code,
	message=excluded.message,
	run_id=excluded.run_id,
	recorded_at=excluded.recorded_at`,
		e.Code, e.Message, e.RunID, at.UTC().Format(time.RFC3339Nano), itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %q: %w", itemID, internalerr.ErrNotFound)
	}
	return nil
}

// ClearItemError removes the error record, if any
func (s *Store) ClearItemError(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM item_errors WHERE item_id = ?`, itemID)
	return err
}

// GetItemError returns the recorded error for an item
func (s *Store) GetItemError(ctx context.Context, itemID string) (store.ItemError, bool, error) {
	var (
		e     store.ItemError
		runID sql.NullString
		at    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, message, run_id, recorded_at FROM item_errors WHERE item_id = ?`, itemID,
	).Scan(&e.Code, &e.Message, &runID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ItemError{}, false, nil
	}
	if err != nil {
		return store.ItemError{}, false, err
	}

	e.RunID = runID.String
	if at.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, at.String); err == nil {
			e.At = ts
		}
	}
	return e, true, nil
}

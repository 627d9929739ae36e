package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the registry in a single SQLite database file. The
// full dataset record is stored as JSON alongside extracted filter columns;
// chain-link uniqueness is enforced by the schema itself.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS datasets (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	upload_time DATETIME NOT NULL,
	complete INTEGER NOT NULL DEFAULT 0,
	invalidated INTEGER NOT NULL DEFAULT 0,
	record JSON NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_links (
	predecessor_id TEXT PRIMARY KEY,
	successor_id TEXT NOT NULL UNIQUE,
	linked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS permission_grants (
	dataset_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	granted_at DATETIME NOT NULL,
	PRIMARY KEY (dataset_id, subject_kind, subject_id, operation)
);
`

// OpenSQLite opens (creating if necessary) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; serialize at the pool level so
	// concurrent registry operations queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), sqliteSchema)
	if err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, ds *dataset.Dataset, predecessorID string) error {
	record, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if predecessorID != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM datasets WHERE id = ?`, predecessorID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check predecessor: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("predecessor %s: %w", predecessorID, dataset.ErrNotFound)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, owner, upload_time, complete, invalidated, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Owner, ds.UploadTime.UTC(), boolInt(ds.Complete), boolInt(ds.Invalidated), record)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dataset %s already exists", dataset.ErrChainConflict, ds.ID)
		}
		return fmt.Errorf("insert dataset: %w", err)
	}

	if predecessorID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chain_links (predecessor_id, successor_id, linked_at)
			VALUES (?, ?, ?)`,
			predecessorID, ds.ID, time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already has a successor", dataset.ErrChainConflict, predecessorID)
			}
			return fmt.Errorf("insert chain link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM datasets WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, dataset.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select dataset: %w", err)
	}
	return unmarshalRecord(record)
}

func (s *SQLiteStore) UpdateDataset(ctx context.Context, ds *dataset.Dataset) error {
	record, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE datasets SET owner = ?, upload_time = ?, complete = ?, invalidated = ?, record = ?
		WHERE id = ?`,
		ds.Owner, ds.UploadTime.UTC(), boolInt(ds.Complete), boolInt(ds.Invalidated), record, ds.ID)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", ds.ID, dataset.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]*dataset.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM datasets ORDER BY upload_time DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*dataset.Dataset
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		ds, err := unmarshalRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Grant(ctx context.Context, g dataset.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (dataset_id, subject_kind, subject_id, operation, granted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dataset_id, subject_kind, subject_id, operation) DO NOTHING`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Revoke(ctx context.Context, g dataset.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permission_grants
		WHERE dataset_id = ? AND subject_kind = ? AND subject_id = ? AND operation = ?`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HasGrant(ctx context.Context, g dataset.Grant) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM permission_grants
		WHERE dataset_id = ? AND subject_kind = ? AND subject_id = ? AND operation = ?`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("select grant: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Grants(ctx context.Context, datasetID string) ([]dataset.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, subject_kind, subject_id, operation
		FROM permission_grants WHERE dataset_id = ?
		ORDER BY subject_kind, subject_id, operation`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []dataset.Grant
	for rows.Next() {
		var g dataset.Grant
		var kind, op string
		if err := rows.Scan(&g.DatasetID, &kind, &g.Subject.ID, &op); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Subject.Kind = dataset.SubjectKind(kind)
		g.Operation = dataset.Operation(op)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ApplyGrants(ctx context.Context, grants, revokes []dataset.Grant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, g := range grants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_grants (dataset_id, subject_kind, subject_id, operation, granted_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (dataset_id, subject_kind, subject_id, operation) DO NOTHING`,
			g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("apply grant %s: %w", g.Subject, err)
		}
	}
	for _, g := range revokes {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM permission_grants
			WHERE dataset_id = ? AND subject_kind = ? AND subject_id = ? AND operation = ?`,
			g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation)
		if err != nil {
			return fmt.Errorf("apply revoke %s: %w", g.Subject, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grants: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SuccessorOf(ctx context.Context, id string) (string, error) {
	var successor string
	err := s.db.QueryRowContext(ctx,
		`SELECT successor_id FROM chain_links WHERE predecessor_id = ?`, id).Scan(&successor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select successor: %w", err)
	}
	return successor, nil
}

func (s *SQLiteStore) PredecessorOf(ctx context.Context, id string) (string, error) {
	var predecessor string
	err := s.db.QueryRowContext(ctx,
		`SELECT predecessor_id FROM chain_links WHERE successor_id = ?`, id).Scan(&predecessor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select predecessor: %w", err)
	}
	return predecessor, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func unmarshalRecord(record []byte) (*dataset.Dataset, error) {
	var ds dataset.Dataset
	if err := json.Unmarshal(record, &ds); err != nil {
		return nil, fmt.Errorf("unmarshal dataset record: %w", err)
	}
	return &ds, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects primary-key/unique failures without binding to a
// driver-specific error type (modernc.org/sqlite reports them as formatted
// constraint errors).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "duplicate key")
}

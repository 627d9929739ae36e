package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// PostgresStore implements Store with SQL persistence for multi-node
// deployments. Caller owns the *sql.DB (driver: lib/pq).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS datasets (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	upload_time TIMESTAMPTZ NOT NULL,
	complete BOOLEAN NOT NULL DEFAULT FALSE,
	invalidated BOOLEAN NOT NULL DEFAULT FALSE,
	record JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_links (
	predecessor_id TEXT PRIMARY KEY,
	successor_id TEXT NOT NULL UNIQUE,
	linked_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS permission_grants (
	dataset_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (dataset_id, subject_kind, subject_id, operation)
);

CREATE INDEX IF NOT EXISTS idx_datasets_upload_time ON datasets (upload_time DESC);
`

// Init applies the schema. Run once at startup.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	if err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateDataset(ctx context.Context, ds *dataset.Dataset, predecessorID string) error {
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
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM datasets WHERE id = $1`, predecessorID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check predecessor: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("predecessor %s: %w", predecessorID, dataset.ErrNotFound)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, owner, upload_time, complete, invalidated, record)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ds.ID, ds.Owner, ds.UploadTime.UTC(), ds.Complete, ds.Invalidated, record)
	if err != nil {
		if isPGUniqueViolation(err) {
			return fmt.Errorf("%w: dataset %s already exists", dataset.ErrChainConflict, ds.ID)
		}
		return fmt.Errorf("insert dataset: %w", err)
	}

	if predecessorID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chain_links (predecessor_id, successor_id, linked_at)
			VALUES ($1, $2, $3)`,
			predecessorID, ds.ID, time.Now().UTC())
		if err != nil {
			if isPGUniqueViolation(err) {
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

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM datasets WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, dataset.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select dataset: %w", err)
	}
	return unmarshalRecord(record)
}

func (s *PostgresStore) UpdateDataset(ctx context.Context, ds *dataset.Dataset) error {
	record, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE datasets SET owner = $1, upload_time = $2, complete = $3, invalidated = $4, record = $5
		WHERE id = $6`,
		ds.Owner, ds.UploadTime.UTC(), ds.Complete, ds.Invalidated, record, ds.ID)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", ds.ID, dataset.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]*dataset.Dataset, error) {
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

func (s *PostgresStore) Grant(ctx context.Context, g dataset.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (dataset_id, subject_kind, subject_id, operation, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id, subject_kind, subject_id, operation) DO NOTHING`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, g dataset.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permission_grants
		WHERE dataset_id = $1 AND subject_kind = $2 AND subject_id = $3 AND operation = $4`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasGrant(ctx context.Context, g dataset.Grant) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM permission_grants
		WHERE dataset_id = $1 AND subject_kind = $2 AND subject_id = $3 AND operation = $4`,
		g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("select grant: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Grants(ctx context.Context, datasetID string) ([]dataset.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, subject_kind, subject_id, operation
		FROM permission_grants WHERE dataset_id = $1
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

func (s *PostgresStore) ApplyGrants(ctx context.Context, grants, revokes []dataset.Grant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, g := range grants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_grants (dataset_id, subject_kind, subject_id, operation, granted_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (dataset_id, subject_kind, subject_id, operation) DO NOTHING`,
			g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("apply grant %s: %w", g.Subject, err)
		}
	}
	for _, g := range revokes {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM permission_grants
			WHERE dataset_id = $1 AND subject_kind = $2 AND subject_id = $3 AND operation = $4`,
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

func (s *PostgresStore) SuccessorOf(ctx context.Context, id string) (string, error) {
	var successor string
	err := s.db.QueryRowContext(ctx,
		`SELECT successor_id FROM chain_links WHERE predecessor_id = $1`, id).Scan(&successor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select successor: %w", err)
	}
	return successor, nil
}

func (s *PostgresStore) PredecessorOf(ctx context.Context, id string) (string, error) {
	var predecessor string
	err := s.db.QueryRowContext(ctx,
		`SELECT predecessor_id FROM chain_links WHERE successor_id = $1`, id).Scan(&predecessor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select predecessor: %w", err)
	}
	return predecessor, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// isPGUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505).
func isPGUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

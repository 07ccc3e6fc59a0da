package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/engine/services/install"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// db abstracts the pool operations PostgresStore needs, satisfied by
// *pgxpool.Pool in production and pgxmock in tests — the same split the
// teacher's storage package draws between its DB interface and pgStorage.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore is a Store backed by two tables treated as a key/value
// view — workflow_specs keyed by code, workflow_instances keyed by id —
// rather than a normalized relational schema (spec.md's Non-goals
// exclude prescribing one). Row-level locking for WithInstance comes
// from a plain `SELECT ... FOR UPDATE` inside a per-call transaction,
// following the teacher's storage.go's begin/defer-rollback/commit shape
// for every method.
type PostgresStore struct {
	DB    db
	types *install.DocumentTypes
}

// NewPostgresStore wraps a production connection pool as a Store.
func NewPostgresStore(pool *pgxpool.Pool, types *install.DocumentTypes) *PostgresStore {
	return &PostgresStore{DB: pool, types: types}
}

// newPostgresStoreWithDB builds a PostgresStore against any db
// implementation, letting tests substitute pgxmock for *pgxpool.Pool.
func newPostgresStoreWithDB(conn db, types *install.DocumentTypes) *PostgresStore {
	return &PostgresStore{DB: conn, types: types}
}

// EnsureSchema creates the two backing tables if they do not already
// exist. Not run automatically — the host calls it once at startup (or
// manages the schema via its own migration tool), matching spec.md's
// Non-goal of not prescribing a migration system.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.DB.Exec(timeoutCtx, `
        CREATE TABLE IF NOT EXISTS workflow_specs (
            code       TEXT PRIMARY KEY,
            raw        JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE TABLE IF NOT EXISTS workflow_instances (
            id            UUID PRIMARY KEY,
            workflow_code TEXT NOT NULL,
            doc_type      TEXT NOT NULL,
            doc_id        TEXT NOT NULL,
            data          JSONB NOT NULL,
            created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (doc_type, doc_id)
        );`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSpec(ctx context.Context, spec *wfspec.WorkflowSpec, raw []byte) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.DB.Exec(timeoutCtx, `
        INSERT INTO workflow_specs (code, raw) VALUES ($1, $2)`,
		spec.Code, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("save spec %s: %w", spec.Code, err)
	}
	return nil
}

func (s *PostgresStore) LoadSpec(ctx context.Context, code string) (*wfspec.WorkflowSpec, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw []byte
	err := s.DB.QueryRow(timeoutCtx, `SELECT raw FROM workflow_specs WHERE code = $1`, code).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load spec %s: %w", code, err)
	}
	return install.Install(raw, s.types)
}

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *wfinstance.WorkflowInstance) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := MarshalInstance(inst)
	if err != nil {
		return err
	}

	_, err = s.DB.Exec(timeoutCtx, `
        INSERT INTO workflow_instances (id, workflow_code, doc_type, doc_id, data) VALUES ($1, $2, $3, $4, $5)`,
		inst.ID, inst.Spec.Code, inst.Document.Type(), inst.Document.ID(), data)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create instance %s: %w", inst.ID, err)
	}
	return nil
}

// GetInstanceByDocument resolves the single instance bound to
// (docType, docID), the §6.2 `get(document)` operation. Unlike
// WithInstance it takes no row lock: a bare lookup, not a
// load-mutate-save cycle.
func (s *PostgresStore) GetInstanceByDocument(ctx context.Context, docType, docID string) (*wfinstance.WorkflowInstance, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var workflowCode string
	var data []byte
	err := s.DB.QueryRow(timeoutCtx, `
        SELECT workflow_code, data FROM workflow_instances WHERE doc_type = $1 AND doc_id = $2`,
		docType, docID).Scan(&workflowCode, &data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load instance for document %s/%s: %w", docType, docID, err)
	}

	spec, err := s.LoadSpec(timeoutCtx, workflowCode)
	if err != nil {
		return nil, fmt.Errorf("load spec %s for document %s/%s: %w", workflowCode, docType, docID, err)
	}
	return UnmarshalInstance(data, spec, nil)
}

// WithInstance wraps the whole load-mutate-save cycle in one READ
// COMMITTED transaction and locks the instance's own row with SELECT ...
// FOR UPDATE before fn runs, so a second concurrent call for the same
// instance blocks until the first commits — the row-level locking
// spec.md §4.4 requires so two requests can never both consume the same
// input node.
func (s *PostgresStore) WithInstance(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, inst *wfinstance.WorkflowInstance) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction for instance %s: %w", id, err)
	}
	defer tx.Rollback(timeoutCtx)

	var workflowCode string
	var data []byte
	err = tx.QueryRow(timeoutCtx, `
        SELECT workflow_code, data FROM workflow_instances WHERE id = $1 FOR UPDATE`, id).
		Scan(&workflowCode, &data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("load instance %s: %w", id, err)
	}

	var rawSpec []byte
	if err := tx.QueryRow(timeoutCtx, `SELECT raw FROM workflow_specs WHERE code = $1`, workflowCode).Scan(&rawSpec); err != nil {
		return fmt.Errorf("load spec %s for instance %s: %w", workflowCode, id, err)
	}
	spec, err := install.Install(rawSpec, s.types)
	if err != nil {
		return fmt.Errorf("reinstall spec %s: %w", workflowCode, err)
	}

	inst, err := UnmarshalInstance(data, spec, nil)
	if err != nil {
		return err
	}

	if err := fn(timeoutCtx, inst); err != nil {
		return err
	}

	newData, err := MarshalInstance(inst)
	if err != nil {
		return err
	}
	_, err = tx.Exec(timeoutCtx, `
        UPDATE workflow_instances SET data = $1, updated_at = now() WHERE id = $2`,
		newData, id)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", id, err)
	}

	return tx.Commit(timeoutCtx)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// failure (SQLSTATE 23505), matching any error in the chain that reports
// a SQLState rather than a concrete pgconn type.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	for e := err; e != nil; {
		if ss, ok := e.(sqlStater); ok {
			s = ss
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return s != nil && s.SQLState() == "23505"
}

// Package store persists WorkflowSpecs and WorkflowInstances as a
// transactional key/value view of those entities (spec.md's explicit
// Non-goal rules out a relational schema or ORM migrations, but still
// mandates "a transactional key/value view"). Two implementations are
// provided: MemStore for tests and demos, and a Postgres-backed store
// for hosts that want durability, both satisfying the same Store
// interface so the runner never depends on which one is wired in.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/caseflow/engine/services/install"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by SaveSpec/CreateInstance when the target
// key is already taken.
var ErrAlreadyExists = errors.New("store: already exists")

// Store is the durability boundary the runner's host wires in. Every
// instance mutation happens inside WithInstance's callback so that the
// load-mutate-save cycle is one transaction: spec.md §4.4's ordering
// guarantee ("two concurrent requests must not both consume the same
// input node") is met by WithInstance taking a row-level lock on the
// instance for the lifetime of the callback.
type Store interface {
	// SaveSpec persists spec under its own Code, raw being the exact
	// declarative document install.Install accepted for it (re-parsed on
	// load rather than re-serializing the linked graph). Fails with
	// ErrAlreadyExists if the code is taken.
	SaveSpec(ctx context.Context, spec *wfspec.WorkflowSpec, raw []byte) error
	// LoadSpec re-installs and returns the spec saved under code.
	LoadSpec(ctx context.Context, code string) (*wfspec.WorkflowSpec, error)

	// CreateInstance persists a freshly created instance (runner.Create's
	// result, still pending). Fails with ErrAlreadyExists if inst.ID or its
	// Document's (Type, ID) identity is already taken — a document may
	// have at most one live instance (spec.md §3.2).
	CreateInstance(ctx context.Context, inst *wfinstance.WorkflowInstance) error

	// GetInstanceByDocument resolves the single instance bound to the
	// document identified by (docType, docID), the §6.2 `get(document)`
	// operation. Fails with ErrNotFound if no instance has ever been
	// created for that document.
	GetInstanceByDocument(ctx context.Context, docType, docID string) (*wfinstance.WorkflowInstance, error)

	// WithInstance loads the instance identified by id under a row-level
	// lock, re-installs its saved WorkflowSpec, runs fn against the
	// live tree, and — only if fn returns nil — persists the resulting
	// tree and commits. Any error from fn rolls back without persisting.
	WithInstance(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, inst *wfinstance.WorkflowInstance) error) error
}

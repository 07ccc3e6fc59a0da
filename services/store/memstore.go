package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/caseflow/engine/services/install"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// docKey identifies a document by its (Type, ID) identity pair, the same
// pair CreateInstance/GetInstanceByDocument index on.
type docKey struct {
	docType string
	docID   string
}

// MemStore is an in-memory Store guarded by a single mutex, grounded on
// the teacher's storagemock pattern of exercising the same Storage
// interface with a simpler backing map. It round-trips every spec and
// instance through the same JSON encoding the Postgres store uses, so
// tests exercise the real (de)serialization path rather than aliasing
// live pointers across calls.
type MemStore struct {
	mu    sync.Mutex
	types *install.DocumentTypes

	specs      map[string][]byte // workflow code -> raw declarative document
	instances  map[uuid.UUID][]byte
	byDocument map[docKey]uuid.UUID
}

// NewMemStore builds an empty in-memory store. types is the registry
// used to re-install a spec from its raw document on every LoadSpec.
func NewMemStore(types *install.DocumentTypes) *MemStore {
	return &MemStore{
		types:      types,
		specs:      make(map[string][]byte),
		instances:  make(map[uuid.UUID][]byte),
		byDocument: make(map[docKey]uuid.UUID),
	}
}

func (s *MemStore) SaveSpec(_ context.Context, spec *wfspec.WorkflowSpec, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.specs[spec.Code]; exists {
		return ErrAlreadyExists
	}
	s.specs[spec.Code] = append([]byte(nil), raw...)
	return nil
}

func (s *MemStore) LoadSpec(_ context.Context, code string) (*wfspec.WorkflowSpec, error) {
	s.mu.Lock()
	raw, ok := s.specs[code]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return install.Install(raw, s.types)
}

func (s *MemStore) CreateInstance(_ context.Context, inst *wfinstance.WorkflowInstance) error {
	data, err := MarshalInstance(inst)
	if err != nil {
		return err
	}
	key := docKey{docType: inst.Document.Type(), docID: inst.Document.ID()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := s.byDocument[key]; exists {
		return ErrAlreadyExists
	}
	s.instances[inst.ID] = data
	s.byDocument[key] = inst.ID
	return nil
}

// GetInstanceByDocument resolves the instance bound to (docType, docID)
// via the byDocument index CreateInstance maintains.
func (s *MemStore) GetInstanceByDocument(_ context.Context, docType, docID string) (*wfinstance.WorkflowInstance, error) {
	s.mu.Lock()
	id, ok := s.byDocument[docKey{docType: docType, docID: docID}]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	data, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.loadInstance(data)
}

func (s *MemStore) loadInstance(data []byte) (*wfinstance.WorkflowInstance, error) {
	var dto workflowInstanceDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	spec, err := install.Install(s.specs[dto.WorkflowCode], s.types)
	if err != nil {
		return nil, err
	}
	return UnmarshalInstance(data, spec, nil)
}

// WithInstance holds the store's single mutex for the duration of fn,
// which stands in for Postgres' per-row lock: no other call can
// load-mutate-save the same (or any other) instance concurrently. That
// is stricter than row-level locking, but MemStore exists for tests and
// demos, not throughput.
func (s *MemStore) WithInstance(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, inst *wfinstance.WorkflowInstance) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}

	inst, err := s.loadInstance(data)
	if err != nil {
		return err
	}

	if err := fn(ctx, inst); err != nil {
		return err
	}

	newData, err := MarshalInstance(inst)
	if err != nil {
		return err
	}
	s.instances[id] = newData
	return nil
}

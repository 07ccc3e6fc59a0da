// Package wfdoc defines the opaque host collaborators the workflow engine
// binds to: the business document a workflow instance tracks, and the
// user whose permissions gate transitions. The engine never inspects a
// Document's fields beyond the identity pair (Type, ID); it never
// evaluates permissions itself, only asks the User.
package wfdoc

import "context"

// Document is a stable, typed reference to an external business object.
// Two documents are the same instance iff Type() and ID() both match.
type Document interface {
	Type() string
	ID() string
}

// User exposes the single capability the engine needs: whether it holds
// a named permission with respect to a document. Hosts implement this
// against their own identity/authorization system.
type User interface {
	HasPermission(ctx context.Context, code string, doc Document) bool
}

// Ref is a minimal Document implementation for hosts and tests that have
// no richer document type of their own.
type Ref struct {
	DocType string
	DocID   string
}

func (r Ref) Type() string { return r.DocType }
func (r Ref) ID() string   { return r.DocID }

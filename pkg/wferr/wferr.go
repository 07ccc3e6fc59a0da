// Package wferr defines the error taxonomy shared by every workflow
// component. A single tagged-variant type carries a stable code string
// and a reference to the offending entity, so a host can map a failure
// onto an HTTP status without inspecting error text.
package wferr

import "fmt"

// Family groups error codes by the semantics a host should apply to them.
type Family string

const (
	// FamilyInvalidState covers spec/graph validation failures. Maps to 400.
	FamilyInvalidState Family = "invalid-state"
	// FamilyDenial covers permission failures. Maps to 403.
	FamilyDenial Family = "denial"
	// FamilyRuntime covers execution failures. Maps to 500, except the
	// not-found subset which a host typically maps to 404.
	FamilyRuntime Family = "runtime"
)

// Invalid-state codes (spec.md §7.1).
const (
	CodeWorkflowHasNoMainCourse          = "workflow-has-no-main-course"
	CodeWorkflowCircularDependentCourses = "workflow-has-circular-dependent-courses"
	CodeCourseMissingRequiredNode        = "course-missing-required-node"
	CodeCourseMultipleRequiredNodes      = "course-multiple-required-nodes"
	CodeCourseUnreachableByEnter         = "course-has-unreachable-nodes-by-enter"
	CodeCourseUnreachableByExit          = "course-has-unreachable-nodes-by-exit"
	CodeCourseHasAutomaticPath           = "course-has-automatic-path"
	CodeCourseHasInvalidCallers          = "course-has-invalid-callers"
	CodeNodeHasInbounds                  = "node-has-inbounds"
	CodeNodeHasNoInbound                 = "node-has-no-inbound"
	CodeNodeHasOutbounds                 = "node-has-outbounds"
	CodeNodeHasNoOutbound                = "node-has-no-outbound"
	CodeNodeHasMultipleOutbounds         = "node-has-multiple-outbounds"
	CodeNodeHasOneOutbound               = "node-has-one-outbound"
	CodeNodeNotEnoughBranches            = "node-not-enough-branches"
	CodeNodeInconsistentBranches         = "node-inconsistent-branches"
	CodeNodeInconsistentJoiner           = "node-inconsistent-joiner"
	CodeNodeHasBranches                  = "node-has-branches"
	CodeTransitionInconsistent           = "transition-inconsistent"
	CodeTransitionActionNameNotUnique    = "transition-action-name-not-unique"
	CodeTransitionPriorityNotUnique      = "transition-priority-not-unique"

	// Installer-specific invalid-state codes not in spec.md's taxonomy
	// table verbatim, but required to report §4.1/§6.1 installer failures
	// with the same family.
	CodeModelNotFound            = "model-not-found"
	CodeModelNotADocumentType    = "model-not-a-document-type"
	CodeSpecMalformed            = "spec-malformed"
	CodeCourseUnreachableFromRoot = "course-unreachable-from-root"
)

// Denial codes (spec.md §7.2).
const (
	CodeCreateDenied                  = "create-denied"
	CodeCancelDeniedByWorkflow        = "cancel-denied-by-workflow"
	CodeCancelDeniedByCourse          = "cancel-denied-by-course"
	CodeAdvanceDeniedByNode           = "advance-denied-by-node"
	CodeAdvanceDeniedByTransition     = "advance-denied-by-transition"
	CodeAdvanceDeniedWrongNodeType    = "advance-denied-wrong-node-type"
)

// Runtime codes (spec.md §7.3).
const (
	CodeInstanceNotPending       = "instance-not-pending"
	CodeCourseNotPending         = "course-not-pending"
	CodeCourseNotWaiting         = "course-not-waiting"
	CodeCourseAlreadyTerminated  = "course-already-terminated"
	CodeCourseInstanceNotExist   = "course-instance-does-not-exist"
	CodeNoSuchTransition         = "node-transition-does-not-exist"
	CodeMultiplexerUnsatisfied   = "multiplexer-unsatisfied"
	CodeSplitJoinUnresolved      = "split-join-unresolved"
	CodeInvalidJoinerResult      = "invalid-joiner-result"
	CodeCourseNotJoinable        = "course-not-joinable"
	CodeForeignNode              = "foreign-node"
	CodeNoChildren               = "no-children"
	CodeExecutionError           = "execution-error"
)

// Error is the single error type raised by every workflow component. It
// mirrors the original implementation's WorkflowExceptionMixin "raiser"
// field: every raised error names the entity that caused it.
type Error struct {
	Family Family
	Code   string
	// Entity is the offending spec/instance entity (a *wfspec.NodeSpec,
	// *wfinstance.CourseInstance, etc). Left nil for errors raised before
	// any entity exists (e.g. malformed installer input).
	Entity any
	// Detail carries auxiliary structured context, e.g. the requiredKind
	// for CodeCourseMissingRequiredNode.
	Detail string
	// Err is the wrapped cause, if any (e.g. a user callable's error).
	Err error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s", e.Code, e.Detail, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidState constructs a FamilyInvalidState error.
func InvalidState(code string, entity any, detail string) *Error {
	return &Error{Family: FamilyInvalidState, Code: code, Entity: entity, Detail: detail}
}

// Denied constructs a FamilyDenial error.
func Denied(code string, entity any) *Error {
	return &Error{Family: FamilyDenial, Code: code, Entity: entity}
}

// Runtime constructs a FamilyRuntime error, optionally wrapping a cause
// (e.g. a failing landingHandler/condition/joiner).
func Runtime(code string, entity any, cause error) *Error {
	return &Error{Family: FamilyRuntime, Code: code, Entity: entity, Err: cause}
}

// FieldMustBeNullCode and FieldRequiredCode build the generic
// "<field>-must-be-null" / "<field>-required" codes spec.md §7.1's field
// presence table leaves parameterized over the field name.
func FieldMustBeNullCode(field string) string { return field + "-must-be-null" }
func FieldRequiredCode(field string) string   { return field + "-required" }

// CodeMatches reports whether err is itself a *Error with the given code.
// It does not unwrap err.
func CodeMatches(err error, code string) bool {
	var we *Error
	if e, ok := err.(*Error); ok {
		we = e
		return we.Code == code
	}
	return false
}

// Package install accepts the declarative workflow description of
// spec.md §6.1 (JSON or YAML, auto-detected) and produces a fully linked,
// fully validated *wfspec.WorkflowSpec in one pass: on any failure the
// caller gets nothing, matching the atomicity property of spec.md §4.1
// step 4 — a host's own transaction (wrapping whatever it does with the
// returned spec) supplies the rest of that guarantee.
package install

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"github.com/caseflow/engine/pkg/wferr"
	"github.com/caseflow/engine/services/wfspec"
)

// DocumentTypes is the host's registry of model names the installer may
// bind a workflow to, standing in for the original's Django model
// registry (spec.md §4.1 step 1: "a model naming a concrete document type
// that the host recognizes"). A name absent from the registry fails with
// CodeModelNotFound (a LookupError-class failure in the source's terms);
// a name present but marked non-document fails with
// CodeModelNotADocumentType (a TypeError-class failure).
type DocumentTypes struct {
	recognized map[string]bool
}

// NewDocumentTypes builds an empty registry.
func NewDocumentTypes() *DocumentTypes {
	return &DocumentTypes{recognized: make(map[string]bool)}
}

// RegisterDocument marks name as a valid workflow document type.
func (d *DocumentTypes) RegisterDocument(name string) *DocumentTypes {
	d.recognized[name] = true
	return d
}

// RegisterNonDocument marks name as a model the host knows about but
// that cannot carry a workflow (e.g. a lookup table).
func (d *DocumentTypes) RegisterNonDocument(name string) *DocumentTypes {
	d.recognized[name] = false
	return d
}

func (d *DocumentTypes) check(name string) error {
	isDoc, known := d.recognized[name]
	if !known {
		return wferr.InvalidState(wferr.CodeModelNotFound, name, "")
	}
	if !isDoc {
		return wferr.InvalidState(wferr.CodeModelNotADocumentType, name, "")
	}
	return nil
}

// declaration mirrors the wire shape of spec.md §6.1.
type declaration struct {
	Model            string         `json:"model" yaml:"model"`
	Code             string         `json:"code" yaml:"code"`
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description" yaml:"description"`
	CreatePermission string         `json:"createPermission" yaml:"createPermission"`
	CancelPermission string         `json:"cancelPermission" yaml:"cancelPermission"`
	Courses          []declCourse   `json:"courses" yaml:"courses"`
}

type declCourse struct {
	Code             string            `json:"code" yaml:"code"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description" yaml:"description"`
	CancelPermission string            `json:"cancelPermission" yaml:"cancelPermission"`
	Nodes            []declNode        `json:"nodes" yaml:"nodes"`
	Transitions      []declTransition  `json:"transitions" yaml:"transitions"`
}

type declNode struct {
	Type              string   `json:"type" yaml:"type"`
	Code              string   `json:"code" yaml:"code"`
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description" yaml:"description"`
	LandingHandler    string   `json:"landingHandler" yaml:"landingHandler"`
	ExitValue         *uint8   `json:"exitValue" yaml:"exitValue"`
	Joiner            string   `json:"joiner" yaml:"joiner"`
	ExecutePermission string   `json:"executePermission" yaml:"executePermission"`
	Branches          []string `json:"branches" yaml:"branches"`
}

type declTransition struct {
	Origin      string `json:"origin" yaml:"origin"`
	Destination string `json:"destination" yaml:"destination"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	ActionName  string `json:"actionName" yaml:"actionName"`
	Permission  string `json:"permission" yaml:"permission"`
	Condition   string `json:"condition" yaml:"condition"`
	Priority    *uint8 `json:"priority" yaml:"priority"`
}

// parse auto-detects JSON vs YAML: a document whose first non-whitespace
// byte opens a JSON object or array is parsed as JSON; anything else
// (including YAML's block style, which is not valid JSON) falls back to
// YAML. goccy/go-yaml accepts flow-style JSON too, but trying JSON first
// gives precise encoding/json error messages for the common case.
func parse(raw []byte) (*declaration, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, wferr.InvalidState(wferr.CodeSpecMalformed, nil, "empty input")
	}

	var d declaration
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, wferr.InvalidState(wferr.CodeSpecMalformed, nil, errors.Wrap(err, "parsing JSON").Error())
		}
		return &d, nil
	}
	if err := yaml.Unmarshal(trimmed, &d); err != nil {
		return nil, wferr.InvalidState(wferr.CodeSpecMalformed, nil, errors.Wrap(err, "parsing YAML").Error())
	}
	return &d, nil
}

// Install parses raw, builds a WorkflowSpec, infers course depths, links
// transitions and branches, and runs the full structural validator. Any
// failure returns before the caller ever sees a partially built spec.
func Install(raw []byte, types *DocumentTypes) (*wfspec.WorkflowSpec, error) {
	d, err := parse(raw)
	if err != nil {
		return nil, err
	}

	if !wfspec.IsSlug(d.Code) {
		return nil, wferr.InvalidState(wferr.CodeSpecMalformed, d.Code, "workflow code must be a slug")
	}
	if err := types.check(d.Model); err != nil {
		return nil, err
	}

	w := &wfspec.WorkflowSpec{
		Code:             d.Code,
		Name:             d.Name,
		Description:      d.Description,
		DocumentType:     d.Model,
		CreatePermission: d.CreatePermission,
		CancelPermission: d.CancelPermission,
	}

	if err := buildCourses(w, d.Courses); err != nil {
		return nil, err
	}
	if err := linkBranchesAndTransitions(w, d.Courses); err != nil {
		return nil, err
	}
	if err := inferDepths(w); err != nil {
		return nil, err
	}
	if err := wfspec.Validate(w); err != nil {
		return nil, err
	}
	return w, nil
}

func buildCourses(w *wfspec.WorkflowSpec, declCourses []declCourse) error {
	seenRoot := false
	for _, dc := range declCourses {
		if dc.Code != "" && !wfspec.IsSlug(dc.Code) {
			return wferr.InvalidState(wferr.CodeSpecMalformed, dc.Code, "course code must be a slug")
		}
		if dc.Code == "" {
			if seenRoot {
				return wferr.InvalidState(wferr.CodeWorkflowHasNoMainCourse, w, "multiple courses with empty code")
			}
			seenRoot = true
		}

		c := &wfspec.CourseSpec{
			Workflow:         w,
			Code:             dc.Code,
			Name:             dc.Name,
			Description:      dc.Description,
			CancelPermission: dc.CancelPermission,
		}
		for _, dn := range dc.Nodes {
			kind := wfspec.NodeKind(dn.Type)
			if !wfspec.IsSlug(dn.Code) {
				return wferr.InvalidState(wferr.CodeSpecMalformed, dn.Code, "node code must be a slug")
			}
			n := &wfspec.NodeSpec{
				Course:            c,
				Type:              kind,
				Code:              dn.Code,
				Name:              dn.Name,
				Description:       dn.Description,
				LandingHandler:    dn.LandingHandler,
				ExitValue:         dn.ExitValue,
				Joiner:            dn.Joiner,
				ExecutePermission: dn.ExecutePermission,
			}
			c.Nodes = append(c.Nodes, n)
		}
		w.Courses = append(w.Courses, c)
	}
	if !seenRoot {
		return wferr.InvalidState(wferr.CodeWorkflowHasNoMainCourse, w, "")
	}
	return nil
}

// linkBranchesAndTransitions resolves the string references (course codes
// for split branches, node codes for transition endpoints) that buildCourses
// could not resolve on a first pass, since a branch or a transition may
// reference a course or node declared later in the document.
func linkBranchesAndTransitions(w *wfspec.WorkflowSpec, declCourses []declCourse) error {
	for i, dc := range declCourses {
		c := w.Courses[i]

		for _, dn := range dc.Nodes {
			n, ok := c.Node(dn.Code)
			if !ok {
				return wferr.InvalidState(wferr.CodeSpecMalformed, dn.Code, "node vanished during linking")
			}
			for _, branchCode := range dn.Branches {
				branch, ok := w.Course(branchCode)
				if !ok {
					return wferr.InvalidState(wferr.CodeSpecMalformed, n, fmt.Sprintf("unknown branch course %q", branchCode))
				}
				n.Branches = append(n.Branches, branch)
				branch.Callers = append(branch.Callers, n)
			}
		}

		for _, dt := range dc.Transitions {
			origin, ok := c.Node(dt.Origin)
			if !ok {
				return wferr.InvalidState(wferr.CodeSpecMalformed, c, fmt.Sprintf("unknown transition origin %q", dt.Origin))
			}
			destination, ok := c.Node(dt.Destination)
			if !ok {
				return wferr.InvalidState(wferr.CodeSpecMalformed, c, fmt.Sprintf("unknown transition destination %q", dt.Destination))
			}
			t := &wfspec.TransitionSpec{
				Course:      c,
				Origin:      origin,
				Destination: destination,
				Name:        dt.Name,
				Description: dt.Description,
				ActionName:  dt.ActionName,
				Permission:  dt.Permission,
				Condition:   dt.Condition,
				Priority:    dt.Priority,
			}
			origin.Outbound = append(origin.Outbound, t)
			destination.Inbound = append(destination.Inbound, t)
		}
	}
	return nil
}

// inferDepths computes each course's depth as one greater than the
// minimum depth among its callers (spec.md §4.1 step 3), via a BFS over
// the branch graph starting from the root at depth 0: standard BFS visits
// vertices in non-decreasing distance order, so the first time a course is
// reached is necessarily its minimum distance from the root.
func inferDepths(w *wfspec.WorkflowSpec) error {
	// Every course's Depth is still its zero value here, so RootCourse
	// (which matches on Depth == 0) cannot be used yet; find the root by
	// its empty code instead, as buildCourses already guaranteed
	// uniqueness of.
	var root *wfspec.CourseSpec
	for _, c := range w.Courses {
		if c.Code == "" {
			root = c
			break
		}
	}
	if root == nil {
		return wferr.InvalidState(wferr.CodeWorkflowHasNoMainCourse, w, "")
	}

	root.Depth = 0
	visited := map[*wfspec.CourseSpec]bool{root: true}
	queue := []*wfspec.CourseSpec{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range cur.NodesOfKind(wfspec.KindSplit) {
			for _, branch := range n.Branches {
				if visited[branch] {
					continue
				}
				branch.Depth = cur.Depth + 1
				visited[branch] = true
				queue = append(queue, branch)
			}
		}
	}

	for _, c := range w.Courses {
		if !visited[c] {
			return wferr.InvalidState(wferr.CodeCourseUnreachableFromRoot, c, "")
		}
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/services/wfinstance"
	"github.com/caseflow/engine/services/wfspec"
)

// courseInstanceDTO is the wire shape of one CourseInstance. Children is
// set iff the course's current node is a split; its order always matches
// the split NodeSpec's Branches order, which is how fromDTO zips them
// back onto the right CourseSpec on the way in.
type courseInstanceDTO struct {
	CurrentNode string              `json:"currentNode,omitempty"`
	TermLevel   int                 `json:"termLevel,omitempty"`
	Children    []courseInstanceDTO `json:"children,omitempty"`
}

type workflowInstanceDTO struct {
	ID           uuid.UUID         `json:"id"`
	WorkflowCode string            `json:"workflowCode"`
	DocType      string            `json:"docType"`
	DocID        string            `json:"docId"`
	Root         courseInstanceDTO `json:"root"`
}

func toCourseDTO(c *wfinstance.CourseInstance) courseInstanceDTO {
	dto := courseInstanceDTO{TermLevel: c.TermLevel}
	if c.Current == nil {
		return dto
	}
	dto.CurrentNode = c.Current.Spec.Code
	if c.Current.Spec.Type == wfspec.KindSplit {
		for _, branch := range c.Current.Branches {
			dto.Children = append(dto.Children, toCourseDTO(branch))
		}
	}
	return dto
}

// MarshalInstance serializes inst to the store's wire format. The
// attached Document is reduced to its (Type, ID) identity pair — the
// engine never looks at anything else on a Document (pkg/wfdoc), so
// that pair is all a reload needs to reconstruct an equivalent one.
func MarshalInstance(inst *wfinstance.WorkflowInstance) ([]byte, error) {
	dto := workflowInstanceDTO{
		ID:           inst.ID,
		WorkflowCode: inst.Spec.Code,
		DocType:      inst.Document.Type(),
		DocID:        inst.Document.ID(),
		Root:         toCourseDTO(inst.Root),
	}
	return json.Marshal(dto)
}

// DocumentRehydrator lets a host reattach its own Document implementation
// on load instead of the bare wfdoc.Ref UnmarshalInstance falls back to.
// Needed whenever a host's conditions/CEL evaluation depend on document
// fields beyond the (Type, ID) identity pair this package persists.
type DocumentRehydrator func(docType, docID string) (wfdoc.Document, error)

// UnmarshalInstance rebuilds a WorkflowInstance against spec, which must
// be the same WorkflowSpec (by Code) the instance was created against.
// rehydrate may be nil, in which case the Document is a plain wfdoc.Ref.
func UnmarshalInstance(data []byte, spec *wfspec.WorkflowSpec, rehydrate DocumentRehydrator) (*wfinstance.WorkflowInstance, error) {
	var dto workflowInstanceDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	if dto.WorkflowCode != spec.Code {
		return nil, fmt.Errorf("instance %s belongs to workflow %q, not %q", dto.ID, dto.WorkflowCode, spec.Code)
	}

	var doc wfdoc.Document
	if rehydrate != nil {
		d, err := rehydrate(dto.DocType, dto.DocID)
		if err != nil {
			return nil, fmt.Errorf("rehydrate document: %w", err)
		}
		doc = d
	} else {
		doc = wfdoc.Ref{DocType: dto.DocType, DocID: dto.DocID}
	}

	inst := &wfinstance.WorkflowInstance{ID: dto.ID, Spec: spec, Document: doc}
	root, err := fromCourseDTO(dto.Root, spec.RootCourse(), nil)
	if err != nil {
		return nil, err
	}
	inst.Root = root
	attachWorkflow(inst.Root, inst)
	return inst, nil
}

func fromCourseDTO(dto courseInstanceDTO, spec *wfspec.CourseSpec, parent *wfinstance.NodeInstance) (*wfinstance.CourseInstance, error) {
	if spec == nil {
		return nil, fmt.Errorf("unmarshal instance: course spec missing during linking")
	}
	c := &wfinstance.CourseInstance{Spec: spec, Parent: parent, TermLevel: dto.TermLevel}
	if dto.CurrentNode == "" {
		return c, nil
	}

	nodeSpec, ok := spec.Node(dto.CurrentNode)
	if !ok {
		return nil, fmt.Errorf("unmarshal instance: course %q has no node %q", spec.Code, dto.CurrentNode)
	}
	ni := &wfinstance.NodeInstance{Course: c, Spec: nodeSpec}
	c.Current = ni

	if nodeSpec.Type != wfspec.KindSplit {
		return c, nil
	}
	if len(dto.Children) != len(nodeSpec.Branches) {
		return nil, fmt.Errorf("unmarshal instance: split %q expects %d branch courses, got %d",
			nodeSpec.Code, len(nodeSpec.Branches), len(dto.Children))
	}
	for i, childDTO := range dto.Children {
		child, err := fromCourseDTO(childDTO, nodeSpec.Branches[i], ni)
		if err != nil {
			return nil, err
		}
		ni.Branches = append(ni.Branches, child)
	}
	return c, nil
}

func attachWorkflow(c *wfinstance.CourseInstance, w *wfinstance.WorkflowInstance) {
	c.Workflow = w
	if c.Current == nil {
		return
	}
	for _, branch := range c.Current.Branches {
		attachWorkflow(branch, w)
	}
}

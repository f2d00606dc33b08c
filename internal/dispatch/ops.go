package dispatch

// Op is a known agent operation. Incoming type-tag strings are translated
// to Ops at the bus boundary; unrecognized tags never reach a handler.
type Op int

const (
	OpExplainConcept Op = iota
	OpVisualizeArchitecture
	OpGuideWorkflow
	OpAnalyzePattern
	OpListConcepts
	OpFindSimilarConcepts
	OpGetDialogHistory
	OpGetWorkflowStatus
	OpGetCapabilities
)

type opInfo struct {
	tag      string
	query    bool
	required []string // string fields that must be present in the body
}

var ops = map[Op]opInfo{
	OpExplainConcept:        {tag: "explain_concept", required: []string{"concept"}},
	OpVisualizeArchitecture: {tag: "visualize_architecture"},
	OpGuideWorkflow:         {tag: "guide_workflow", required: []string{"workflow_type"}},
	OpAnalyzePattern:        {tag: "analyze_pattern"},
	OpListConcepts:          {tag: "list_concepts", query: true},
	OpFindSimilarConcepts:   {tag: "find_similar_concepts", query: true, required: []string{"concept"}},
	OpGetDialogHistory:      {tag: "get_dialog_history", query: true, required: []string{"dialog_id"}},
	OpGetWorkflowStatus:     {tag: "get_workflow_status", query: true, required: []string{"workflow_id"}},
	OpGetCapabilities:       {tag: "get_capabilities", query: true},
}

var tagToOp = func() map[string]Op {
	m := make(map[string]Op, len(ops))
	for op, info := range ops {
		m[info.tag] = op
	}
	return m
}()

// ParseOp resolves a wire type tag to its operation.
func ParseOp(tag string) (Op, bool) {
	op, ok := tagToOp[tag]
	return op, ok
}

// String returns the wire type tag.
func (op Op) String() string { return ops[op].tag }

// IsQuery reports whether the operation follows request-reply semantics.
func (op Op) IsQuery() bool { return ops[op].query }

// validate checks the required string fields for op. It returns an
// invalid_payload error naming the first problem found.
func validate(op Op, body map[string]any) *Error {
	for _, field := range ops[op].required {
		v, ok := body[field]
		if !ok {
			return NewError(KindInvalidPayload, false, "missing required field %q", field)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return NewError(KindInvalidPayload, false, "field %q must be a non-empty string", field)
		}
	}
	return nil
}

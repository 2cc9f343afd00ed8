package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ParseErrorKind enumerates the ways a workflow document can fail validation.
type ParseErrorKind string

const (
	ErrSyntax            ParseErrorKind = "syntax"
	ErrDuplicateTaskID   ParseErrorKind = "duplicate_task_id"
	ErrMissingDependency ParseErrorKind = "missing_dependency"
	ErrCycle             ParseErrorKind = "cycle"
)

// knownTopLevelFields lists the document keys the parser binds; anything
// else becomes a ParseWarning instead of a hard failure.
var knownTopLevelFields = map[string]bool{
	"id": true, "workflow_id": true, "title": true, "mode": true,
	"persona": true, "tags": true, "priority": true, "tasks": true,
	"metadata": true,
}

// knownTaskFields lists the per-task keys with dedicated Task fields;
// anything else is passed through opaquely into Task.Metadata.
var knownTaskFields = map[string]bool{
	"id": true, "description": true, "dependencies": true, "parameters": true,
	"timeout_seconds": true, "retry_count": true, "priority": true, "tags": true,
	"metadata": true,
}

// ParseError reports why a workflow document was rejected. Parsing has no
// side effects: a ParseError means nothing was scheduled or dispatched.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
	// TaskID/DependencyID are populated for task-scoped errors.
	TaskID       string
	DependencyID string
	// CyclePath holds the offending back-edge pair when Kind == ErrCycle.
	CyclePath []string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrDuplicateTaskID:
		return fmt.Sprintf("parse error: duplicate task id %q", e.TaskID)
	case ErrMissingDependency:
		return fmt.Sprintf("parse error: task %q depends on non-existent task %q", e.TaskID, e.DependencyID)
	case ErrCycle:
		return fmt.Sprintf("parse error: dependency cycle detected: %v", e.CyclePath)
	default:
		return fmt.Sprintf("parse error: %s", e.Message)
	}
}

// rawDocument mirrors the external JSON document shape before validation.
type rawDocument struct {
	WorkflowID string                 `json:"workflow_id"`
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Mode       string                 `json:"mode"`
	Persona    string                 `json:"persona"`
	Tags       []string               `json:"tags"`
	Priority   int                    `json:"priority"`
	Tasks      []json.RawMessage      `json:"tasks"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// rawTask mirrors one task's external JSON shape before validation.
type rawTask struct {
	ID             string                 `json:"id"`
	Description    string                 `json:"description"`
	Dependencies   []string               `json:"dependencies"`
	Parameters     map[string]interface{} `json:"parameters"`
	TimeoutSeconds *int                   `json:"timeout_seconds"`
	RetryCount     *int                   `json:"retry_count"`
	Priority       int                    `json:"priority"`
	Tags           []string               `json:"tags"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// ParseFile reads and validates a workflow document from a file path.
func ParseFile(path string) (Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return Workflow{}, &ParseError{Kind: ErrSyntax, Message: err.Error()}
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a workflow document from an in-memory reader.
func Parse(r io.Reader) (Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Workflow{}, &ParseError{Kind: ErrSyntax, Message: err.Error()}
	}
	return ParseBytes(data)
}

// ParseBytes validates a workflow document already held in memory. Unknown
// top-level keys are collected as ParseWarnings rather than rejected;
// unknown per-task keys pass through into that Task's Metadata.
func ParseBytes(data []byte) (Workflow, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Workflow{}, &ParseError{Kind: ErrSyntax, Message: err.Error()}
	}

	var loose map[string]json.RawMessage
	_ = json.Unmarshal(data, &loose)
	var warnings []string
	for key := range loose {
		if !knownTopLevelFields[key] {
			warnings = append(warnings, key)
		}
	}

	wfID := raw.WorkflowID
	if wfID == "" {
		wfID = raw.ID
	}

	tasks := make([]Task, 0, len(raw.Tasks))
	for _, rawTaskMsg := range raw.Tasks {
		task, err := parseTask(rawTaskMsg)
		if err != nil {
			return Workflow{}, err
		}
		tasks = append(tasks, task)
	}

	wf := Workflow{
		WorkflowID:    wfID,
		Title:         raw.Title,
		Mode:          Mode(raw.Mode),
		Persona:       raw.Persona,
		Tags:          raw.Tags,
		Priority:      raw.Priority,
		Tasks:         tasks,
		Metadata:      raw.Metadata,
		ParseWarnings: warnings,
	}

	if err := validate(wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// parseTask decodes one task element, binding recognized fields and
// stashing everything else into Task.Metadata.
func parseTask(msg json.RawMessage) (Task, error) {
	var rt rawTask
	if err := json.Unmarshal(msg, &rt); err != nil {
		return Task{}, &ParseError{Kind: ErrSyntax, Message: err.Error()}
	}

	var loose map[string]json.RawMessage
	_ = json.Unmarshal(msg, &loose)
	metadata := rt.Metadata
	for key, raw := range loose {
		if knownTaskFields[key] {
			continue
		}
		if metadata == nil {
			metadata = make(map[string]interface{})
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			metadata[key] = v
		}
	}

	return Task{
		ID:             rt.ID,
		Description:    rt.Description,
		Dependencies:   rt.Dependencies,
		Parameters:     rt.Parameters,
		TimeoutSeconds: rt.TimeoutSeconds,
		RetryCount:     rt.RetryCount,
		Priority:       rt.Priority,
		Tags:           rt.Tags,
		Metadata:       metadata,
	}, nil
}

func validate(wf Workflow) error {
	seen := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if seen[t.ID] {
			return &ParseError{Kind: ErrDuplicateTaskID, TaskID: t.ID}
		}
		seen[t.ID] = true
	}
	for _, t := range wf.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return &ParseError{Kind: ErrMissingDependency, TaskID: t.ID, DependencyID: dep}
			}
		}
	}
	if path, ok := findCycle(wf); ok {
		return &ParseError{Kind: ErrCycle, CyclePath: path}
	}
	return nil
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// findCycle runs a 3-color DFS over the dependency graph and returns the
// offending back-edge pair (the node currently on the stack and the gray
// node it points back to) the first time one is found.
func findCycle(wf Workflow) ([]string, bool) {
	deps := make(map[string][]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		deps[t.ID] = t.Dependencies
	}
	colors := make(map[string]color, len(wf.Tasks))
	var stack []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch colors[dep] {
			case white:
				if path, found := visit(dep); found {
					return path, true
				}
			case gray:
				return []string{id, dep}, true
			case black:
				// already fully explored, safe
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil, false
	}

	for _, t := range wf.Tasks {
		if colors[t.ID] == white {
			if path, found := visit(t.ID); found {
				return path, true
			}
		}
	}
	return nil, false
}

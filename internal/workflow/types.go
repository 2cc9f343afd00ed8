// Package workflow defines the workflow/task document model and the parser
// that turns an external JSON-shaped document into a validated Workflow.
package workflow

// Mode tags the persona/behavior profile a workflow runs under.
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeDream   Mode = "dream"
	ModeExplore Mode = "explore"
	ModeChaos   Mode = "chaos"
)

// DependencyKind distinguishes how strictly a dependency gates its task.
// Only KindRequired is used: the document format has no syntax for a
// dependency kind, so every edge is required. KindOptional and
// KindConditional are reserved and do not change scheduling behavior.
type DependencyKind string

const (
	KindRequired    DependencyKind = "required"
	KindOptional    DependencyKind = "optional"
	KindConditional DependencyKind = "conditional"
)

// Task is a single unit of work inside a Workflow.
type Task struct {
	ID             string                 `json:"id"`
	Description    string                 `json:"description"`
	Dependencies   []string               `json:"dependencies,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	TimeoutSeconds *int                   `json:"timeout_seconds,omitempty"`
	RetryCount     *int                   `json:"retry_count,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	// Metadata holds per-task document keys the parser didn't recognize,
	// passed through opaquely rather than rejected.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TypeTag returns the handler type tag for this task, defaulting to
// "generic" when parameters["type"] is absent.
func (t Task) TypeTag() string {
	if t.Parameters == nil {
		return "generic"
	}
	if v, ok := t.Parameters["type"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "generic"
}

// Workflow is a validated, acyclic collection of Tasks.
type Workflow struct {
	WorkflowID string                 `json:"workflow_id"`
	Title      string                 `json:"title"`
	Mode       Mode                   `json:"mode,omitempty"`
	Persona    string                 `json:"persona,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Priority   int                    `json:"priority,omitempty"`
	Tasks      []Task                 `json:"tasks"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	// ParseWarnings lists top-level document keys the parser didn't
	// recognize; unknown top-level keys are warnings, not parse failures.
	// Empty for a document using only recognized fields.
	ParseWarnings []string `json:"-"`
}

// TaskByID returns the task with the given id and whether it was found.
func (w Workflow) TaskByID(id string) (Task, bool) {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Package aggregator builds a ResultDocument from a completed (or aborted)
// workflow run: identity/mode/persona metadata, per-task results, an
// execution graph, extracted artifacts, and a human-readable summary.
package aggregator

import (
	"time"

	"github.com/swarmguard/taskrunner/internal/artifact"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

// OverallStatus is the workflow-level outcome derived from its task
// success rate.
type OverallStatus string

const (
	OverallSuccess        OverallStatus = "success"
	OverallPartialSuccess OverallStatus = "partial_success"
	OverallFailure        OverallStatus = "failure"
)

// GraphNode is one task's entry in the ExecutionGraph.
type GraphNode struct {
	TaskID     string               `json:"task_id"`
	Status     scheduler.TaskStatus `json:"status"`
	DurationMs int64                `json:"duration_ms"`
}

// GraphEdge is one dependency edge in the ExecutionGraph. Only "required"
// edges are emitted today; optional/conditional kinds are reserved.
type GraphEdge struct {
	Source string                  `json:"source"`
	Target string                  `json:"target"`
	Kind   workflow.DependencyKind `json:"kind"`
}

// ExecutionGraph materializes the workflow's dependency graph annotated
// with each task's terminal status and duration.
type ExecutionGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ResultDocument is the full output of one workflow run.
type ResultDocument struct {
	DocumentID       string                          `json:"document_id"`
	WorkflowID       string                          `json:"workflow_id"`
	Mode             workflow.Mode                   `json:"mode,omitempty"`
	Persona          string                          `json:"persona,omitempty"`
	Priority         int                             `json:"priority,omitempty"`
	Tags             []string                        `json:"tags,omitempty"`
	OverallStatus    OverallStatus                   `json:"overall_status"`
	SuccessRate      float64                         `json:"success_rate"`
	TotalExecutionMs int64                           `json:"total_execution_time_ms"`
	TaskResults      map[string]scheduler.TaskResult `json:"task_results"`
	ExecutionGraph   ExecutionGraph                  `json:"execution_graph"`
	Artifacts        []artifact.Artifact             `json:"artifacts,omitempty"`
	Summary          string                          `json:"summary"`
	Metadata         map[string]interface{}          `json:"metadata,omitempty"`
	GeneratedAt      time.Time                       `json:"generated_at"`
}

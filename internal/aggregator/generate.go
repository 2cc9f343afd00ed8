package aggregator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/taskrunner/internal/artifact"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

// Generate builds a ResultDocument from wf and its per-task results:
// seed identity, insert results, compute success rate and execution time,
// materialize the execution graph, extract artifacts, generate a summary.
func Generate(wf workflow.Workflow, results map[string]scheduler.TaskResult, extractor *artifact.Extractor) ResultDocument {
	doc := ResultDocument{
		DocumentID:  uuid.NewString(),
		WorkflowID:  wf.WorkflowID,
		Mode:        wf.Mode,
		Persona:     wf.Persona,
		Priority:    wf.Priority,
		Tags:        wf.Tags,
		TaskResults: results,
		GeneratedAt: time.Now(),
		Metadata:    map[string]interface{}{},
	}

	for k, v := range wf.Metadata {
		doc.Metadata["workflow_"+k] = v
	}
	doc.Metadata["generated_at"] = doc.GeneratedAt.Format(time.RFC3339)

	doc.SuccessRate = successRate(wf, results)
	doc.OverallStatus = overallStatus(doc.SuccessRate)
	doc.TotalExecutionMs = totalExecutionTime(results)
	doc.ExecutionGraph = buildExecutionGraph(wf, results)

	if extractor != nil {
		outputs := make(map[string]map[string]interface{}, len(results))
		for id, r := range results {
			outputs[id] = r.Output
		}
		artifacts, warnings := extractor.Extract(doc.DocumentID, outputs)
		doc.Artifacts = artifacts
		if len(warnings) > 0 {
			warningStrs := make([]string, len(warnings))
			for i, w := range warnings {
				warningStrs[i] = w.String()
			}
			doc.Metadata["artifact_warnings"] = warningStrs
		}
	}

	doc.Summary = GenerateSummary(wf, doc)
	return doc
}

// GenerateFailureDocument produces a ResultDocument for a run that never
// reached the scheduler (a ParseError, say): overall status is failure,
// success rate 0, and the summary carries the error message.
func GenerateFailureDocument(wf workflow.Workflow, reason string) ResultDocument {
	return ResultDocument{
		DocumentID:    uuid.NewString(),
		WorkflowID:    wf.WorkflowID,
		Mode:          wf.Mode,
		Persona:       wf.Persona,
		Priority:      wf.Priority,
		Tags:          wf.Tags,
		OverallStatus: OverallFailure,
		SuccessRate:   0,
		TaskResults:   map[string]scheduler.TaskResult{},
		Summary:       fmt.Sprintf("workflow %q failed before execution: %s", wf.WorkflowID, reason),
		GeneratedAt:   time.Now(),
	}
}

func successRate(wf workflow.Workflow, results map[string]scheduler.TaskResult) float64 {
	if len(wf.Tasks) == 0 {
		return 1.0
	}
	completed := 0
	for _, t := range wf.Tasks {
		if r, ok := results[t.ID]; ok && r.Status == scheduler.StatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(wf.Tasks))
}

func overallStatus(rate float64) OverallStatus {
	switch {
	case rate >= 1.0:
		return OverallSuccess
	case rate <= 0.0:
		return OverallFailure
	default:
		return OverallPartialSuccess
	}
}

// totalExecutionTime spans min(start) to max(end) across all results with
// timestamps set. Auto-failed and pre-dispatch-cancelled tasks carry
// synthetic start==end record timestamps; those fall inside the run window
// and are intentionally included.
func totalExecutionTime(results map[string]scheduler.TaskResult) int64 {
	var minStart, maxEnd time.Time
	found := false
	for _, r := range results {
		if r.StartTime.IsZero() || r.EndTime.IsZero() {
			continue
		}
		if !found || r.StartTime.Before(minStart) {
			minStart = r.StartTime
		}
		if !found || r.EndTime.After(maxEnd) {
			maxEnd = r.EndTime
		}
		found = true
	}
	if !found {
		return 0
	}
	return maxEnd.Sub(minStart).Milliseconds()
}

func buildExecutionGraph(wf workflow.Workflow, results map[string]scheduler.TaskResult) ExecutionGraph {
	graph := ExecutionGraph{}
	for _, t := range wf.Tasks {
		r := results[t.ID]
		graph.Nodes = append(graph.Nodes, GraphNode{
			TaskID:     t.ID,
			Status:     r.Status,
			DurationMs: r.DurationMs,
		})
		for _, dep := range t.Dependencies {
			graph.Edges = append(graph.Edges, GraphEdge{
				Source: dep,
				Target: t.ID,
				Kind:   workflow.KindRequired,
			})
		}
	}
	return graph
}

// GenerateSummary renders a human-readable one-page summary: workflow
// identity, counts by status, success rate, elapsed time, and a per-task
// one-liner.
func GenerateSummary(wf workflow.Workflow, doc ResultDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %q (%s)\n", wf.Title, wf.WorkflowID)
	if wf.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s", wf.Mode)
		if wf.Persona != "" {
			fmt.Fprintf(&b, " | Persona: %s", wf.Persona)
		}
		b.WriteString("\n")
	}

	counts := map[scheduler.TaskStatus]int{}
	for _, r := range doc.TaskResults {
		counts[r.Status]++
	}
	fmt.Fprintf(&b, "Status: %s (success rate %.0f%%)\n", doc.OverallStatus, doc.SuccessRate*100)
	fmt.Fprintf(&b, "Completed: %d, Failed: %d, Timeout: %d, Cancelled: %d\n",
		counts[scheduler.StatusCompleted], counts[scheduler.StatusFailed], counts[scheduler.StatusTimeout], counts[scheduler.StatusCancelled])
	fmt.Fprintf(&b, "Total execution time: %dms\n", doc.TotalExecutionMs)
	b.WriteString("\nTasks:\n")
	for _, t := range wf.Tasks {
		r := doc.TaskResults[t.ID]
		line := fmt.Sprintf("  - %s: %s (%dms)", t.ID, r.Status, r.DurationMs)
		if r.Error != "" {
			line += fmt.Sprintf(" (%s)", r.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

func stringParam(task workflow.Task, key string) (string, bool) {
	if task.Parameters == nil {
		return "", false
	}
	v, ok := task.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FileOperation implements the file_operation handler: read, write,
// append, delete. write and append create parent directories as needed.
func FileOperation(ctx context.Context, task workflow.Task, _ map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	op, ok := stringParam(task, "operation")
	if !ok || op == "" {
		return nil, fmt.Errorf("file_operation: %q parameter is required", "operation")
	}
	path, ok := stringParam(task, "file_path")
	if !ok || path == "" {
		return nil, fmt.Errorf("file_operation: %q parameter is required", "file_path")
	}

	switch op {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("file_operation: read %s: %w", path, err)
		}
		return map[string]interface{}{"content": string(data), "bytes_read": len(data)}, nil

	case "write", "append":
		content, ok := stringParam(task, "content")
		if !ok {
			return nil, fmt.Errorf("file_operation: %q parameter is required for %s", "content", op)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("file_operation: create parent dirs for %s: %w", path, err)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if op == "append" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("file_operation: open %s: %w", path, err)
		}
		defer f.Close()
		n, err := f.WriteString(content)
		if err != nil {
			return nil, fmt.Errorf("file_operation: write %s: %w", path, err)
		}
		return map[string]interface{}{"bytes_written": n}, nil

	case "delete":
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("file_operation: delete %s: %w", path, err)
		}
		return map[string]interface{}{"deleted": path}, nil

	default:
		return nil, fmt.Errorf("file_operation: unknown operation %q", op)
	}
}

// DataProcessing implements the data_processing handler. filter is fully
// implemented; map/reduce are intentionally thin placeholders.
func DataProcessing(ctx context.Context, task workflow.Task, depResults map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	op, _ := stringParam(task, "operation")
	if op == "" {
		op = "filter"
	}

	input, err := resolveInputData(task, depResults)
	if err != nil {
		return nil, err
	}

	switch op {
	case "filter":
		items, ok := input.([]interface{})
		if !ok {
			return nil, fmt.Errorf("data_processing: filter requires an array input")
		}
		key, _ := stringParam(task, "filter_key")
		var value interface{}
		if task.Parameters != nil {
			value = task.Parameters["filter_value"]
		}
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if fmt.Sprintf("%v", m[key]) == fmt.Sprintf("%v", value) {
				out = append(out, item)
			}
		}
		return map[string]interface{}{"result": out, "count": len(out)}, nil

	case "map":
		return map[string]interface{}{"result": input}, nil

	case "reduce":
		return map[string]interface{}{"result": nil}, nil

	default:
		return nil, fmt.Errorf("data_processing: unknown operation %q", op)
	}
}

func resolveInputData(task workflow.Task, depResults map[string]scheduler.TaskResult) (interface{}, error) {
	if task.Parameters == nil {
		return nil, fmt.Errorf("data_processing: no input_data or input_from_dependency provided")
	}
	v, hasData := task.Parameters["input_data"]
	from, hasFrom := stringParam(task, "input_from_dependency")
	hasFrom = hasFrom && from != ""
	if hasData && hasFrom {
		return nil, fmt.Errorf("data_processing: input_data and input_from_dependency are mutually exclusive")
	}
	if hasData {
		return v, nil
	}
	if hasFrom {
		dr, ok := depResults[from]
		if !ok {
			return nil, fmt.Errorf("data_processing: dependency %q result not available", from)
		}
		if dr.Output == nil {
			return nil, nil
		}
		if v, ok := dr.Output["result"]; ok {
			return v, nil
		}
		return dr.Output, nil
	}
	return nil, fmt.Errorf("data_processing: no input_data or input_from_dependency provided")
}

// SystemCommand implements the system_command handler, using
// CommandContext so the scheduler's per-task timeout/cancellation actually
// terminates the child process.
func SystemCommand(ctx context.Context, task workflow.Task, _ map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	command, ok := stringParam(task, "command")
	if !ok || command == "" {
		return nil, fmt.Errorf("system_command: %q parameter is required", "command")
	}
	var args []string
	if task.Parameters != nil {
		if raw, ok := task.Parameters["args"].([]interface{}); ok {
			for _, a := range raw {
				args = append(args, fmt.Sprintf("%v", a))
			}
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	exitCode := 0
	success := true
	if runErr != nil {
		success = false
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	out := map[string]interface{}{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"success":   success,
	}
	if !success {
		return out, fmt.Errorf("system_command: command %q exited with code %d", command, exitCode)
	}
	return out, nil
}

// Generic implements the default handler: returns the task's description
// and parameters verbatim.
func Generic(ctx context.Context, task workflow.Task, _ map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	return map[string]interface{}{
		"message":    task.Description,
		"parameters": task.Parameters,
	}, nil
}

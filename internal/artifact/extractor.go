// Package artifact extracts files and text blobs referenced by a task's
// output into a document-scoped artifact directory. Extraction never
// fails the overall run: a copy failure becomes a warning and that
// artifact is skipped.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a produced artifact by its content.
type Kind string

const (
	KindFile  Kind = "file"
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindJSON  Kind = "json"
	KindLog   Kind = "log"
)

// Artifact is one piece of output material produced by a task.
type Artifact struct {
	DisplayName string `json:"display_name"`
	Kind        Kind   `json:"kind"`
	ProducedBy  string `json:"produced_by_task_id"`
	Locator     string `json:"locator"`
	SizeBytes   int64  `json:"size_bytes"`
	MIMEType    string `json:"mime_type"`
}

var extensionKinds = map[string]Kind{
	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage, ".gif": KindImage, ".webp": KindImage,
	".json": KindJSON,
	".txt":  KindText, ".md": KindText, ".html": KindText, ".css": KindText, ".js": KindText,
	".log": KindLog,
}

var extensionMIME = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".gif": "image/gif", ".webp": "image/webp",
	".json": "application/json",
	".txt":  "text/plain", ".md": "text/markdown", ".html": "text/html", ".css": "text/css", ".js": "application/javascript",
	".log": "text/plain",
}

func classify(path string) (Kind, string) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := extensionKinds[ext]
	if !ok {
		kind = KindFile
	}
	mime, ok := extensionMIME[ext]
	if !ok {
		mime = "application/octet-stream"
	}
	return kind, mime
}

// Warning records a non-fatal problem encountered while extracting
// artifacts for one task output.
type Warning struct {
	TaskID string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("artifact extraction for task %s: %s", w.TaskID, w.Reason)
}

// Extractor copies referenced files into a per-document artifact directory
// and materializes text outputs as their own artifacts.
type Extractor struct {
	// ArtifactsDir is the root directory artifacts are copied into; a
	// subdirectory named after the document ID is created under it.
	ArtifactsDir string
}

// NewExtractor returns an Extractor rooted at artifactsDir.
func NewExtractor(artifactsDir string) *Extractor {
	return &Extractor{ArtifactsDir: artifactsDir}
}

// Extract inspects taskOutputs (task_id -> handler output map) for
// output["files"] (a list of source locator strings) and output["text"] (a
// string), copying files into documentID's artifact directory and
// materializing non-empty text as a "<task_id>_output.txt" artifact.
// Extraction never aborts: failures are appended to the returned warnings
// slice and that artifact is skipped.
func (e *Extractor) Extract(documentID string, taskOutputs map[string]map[string]interface{}) ([]Artifact, []Warning) {
	var artifacts []Artifact
	var warnings []Warning

	destDir := filepath.Join(e.ArtifactsDir, documentID)

	for taskID, output := range taskOutputs {
		if output == nil {
			continue
		}
		if rawFiles, ok := output["files"]; ok {
			files := toStringSlice(rawFiles)
			for _, src := range files {
				art, err := e.copyFile(destDir, taskID, src)
				if err != nil {
					warnings = append(warnings, Warning{TaskID: taskID, Reason: err.Error()})
					continue
				}
				artifacts = append(artifacts, art)
			}
		}
		if text, ok := output["text"].(string); ok && text != "" {
			art, err := e.writeText(destDir, taskID, text)
			if err != nil {
				warnings = append(warnings, Warning{TaskID: taskID, Reason: err.Error()})
				continue
			}
			artifacts = append(artifacts, art)
		}
	}
	return artifacts, warnings
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (e *Extractor) copyFile(destDir, taskID, src string) (Artifact, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return Artifact{}, fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	name := filepath.Base(src)
	destPath := filepath.Join(destDir, name)
	out, err := os.Create(destPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact copy %s: %w", destPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return Artifact{}, fmt.Errorf("copy %s: %w", src, err)
	}

	kind, mime := classify(src)
	return Artifact{
		DisplayName: name,
		Kind:        kind,
		ProducedBy:  taskID,
		Locator:     destPath,
		SizeBytes:   n,
		MIMEType:    mime,
	}, nil
}

func (e *Extractor) writeText(destDir, taskID, text string) (Artifact, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	name := fmt.Sprintf("%s_output.txt", taskID)
	destPath := filepath.Join(destDir, name)
	if err := os.WriteFile(destPath, []byte(text), 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write text artifact: %w", err)
	}
	return Artifact{
		DisplayName: name,
		Kind:        KindText,
		ProducedBy:  taskID,
		Locator:     destPath,
		SizeBytes:   int64(len(text)),
		MIMEType:    "text/plain",
	}, nil
}

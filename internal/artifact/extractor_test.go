package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtractCopiesFilesAndText(t *testing.T) {
	srcDir := t.TempDir()
	imgPath := filepath.Join(srcDir, "chart.png")
	if err := os.WriteFile(imgPath, []byte("fake-png-bytes"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	destDir := t.TempDir()
	ex := NewExtractor(destDir)
	artifacts, warnings := ex.Extract("doc-1", map[string]map[string]interface{}{
		"task-a": {"files": []interface{}{imgPath}, "text": "hello world"},
	})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts (file + text), got %d", len(artifacts))
	}
	foundImage, foundText := false, false
	for _, a := range artifacts {
		if a.Kind == KindImage {
			foundImage = true
		}
		if a.Kind == KindText && a.DisplayName == "task-a_output.txt" {
			foundText = true
		}
	}
	if !foundImage || !foundText {
		t.Fatalf("expected both an image and a text artifact, got %+v", artifacts)
	}
}

func TestExtractCopyFailureBecomesWarningNotError(t *testing.T) {
	destDir := t.TempDir()
	ex := NewExtractor(destDir)
	artifacts, warnings := ex.Extract("doc-2", map[string]map[string]interface{}{
		"task-a": {"files": []interface{}{"/nonexistent/path/file.txt"}},
	})
	if len(artifacts) != 0 {
		t.Fatalf("expected no artifacts for a missing source file, got %v", artifacts)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", warnings)
	}
}

func TestExtractEmptyTextProducesNoArtifact(t *testing.T) {
	destDir := t.TempDir()
	ex := NewExtractor(destDir)
	artifacts, warnings := ex.Extract("doc-3", map[string]map[string]interface{}{
		"task-a": {"text": ""},
	})
	if len(artifacts) != 0 || len(warnings) != 0 {
		t.Fatalf("expected no artifacts/warnings for empty text, got %v / %v", artifacts, warnings)
	}
}

package environment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadPythonVersionFallsBackWithoutManifest(t *testing.T) {
	if v := readPythonVersion(t.TempDir(), "django/django"); v != defaultPythonVersion {
		t.Errorf("got %q, want default %q", v, defaultPythonVersion)
	}
}

func TestReadPythonVersionUsesManifestEntry(t *testing.T) {
	dir := t.TempDir()
	manifest := map[string]string{"django_django": "3.11"}
	data, _ := json.Marshal(manifest)
	if err := os.WriteFile(filepath.Join(dir, recommendedPythonVersionFile), data, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if v := readPythonVersion(dir, "django/django"); v != "3.11" {
		t.Errorf("got %q, want 3.11", v)
	}
	if v := readPythonVersion(dir, "acme/widgets"); v != defaultPythonVersion {
		t.Errorf("unlisted repo got %q, want default %q", v, defaultPythonVersion)
	}
}

func TestReadPythonVersionToleratesMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, recommendedPythonVersionFile), []byte("not json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if v := readPythonVersion(dir, "django/django"); v != defaultPythonVersion {
		t.Errorf("got %q, want default %q", v, defaultPythonVersion)
	}
}

func TestGenerateDockerfileInterpolatesVersion(t *testing.T) {
	content := generateDockerfile("3.12")
	if !strings.Contains(content, "FROM python:3.12-slim") {
		t.Errorf("Dockerfile missing interpolated version:\n%s", content)
	}
	if !strings.Contains(content, "ARG HOST_UID") || !strings.Contains(content, "ARG HOST_GID") {
		t.Errorf("Dockerfile missing host UID/GID args:\n%s", content)
	}
}

func TestImageNameForPythonVersion(t *testing.T) {
	if got := imageNameForPythonVersion("3.10"); got != "featbench_3.10" {
		t.Errorf("got %q, want featbench_3.10", got)
	}
}

func TestRecordPythonVersionCreatesAndUpdatesManifest(t *testing.T) {
	dir := t.TempDir()

	if err := recordPythonVersion(dir, "django/django", "3.11"); err != nil {
		t.Fatalf("recordPythonVersion: %v", err)
	}
	if v := readPythonVersion(dir, "django/django"); v != "3.11" {
		t.Fatalf("got %q, want 3.11", v)
	}

	// An existing entry for another repo must survive the update.
	if err := recordPythonVersion(dir, "acme/widgets", "3.9"); err != nil {
		t.Fatalf("recordPythonVersion (second repo): %v", err)
	}
	if v := readPythonVersion(dir, "django/django"); v != "3.11" {
		t.Errorf("django entry lost after second write: got %q", v)
	}
	if v := readPythonVersion(dir, "acme/widgets"); v != "3.9" {
		t.Errorf("got %q, want 3.9", v)
	}
}

package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vmbroker/internal/catalog"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAWS(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aws.json", `{"accessKeyId":"AKIATEST","secretAccessKey":"secret"}`)

	creds, err := NewStore(dir).LoadAWS()
	if err != nil {
		t.Fatalf("LoadAWS() returned error: %v", err)
	}
	if creds.AccessKeyID != "AKIATEST" || creds.SecretAccessKey != "secret" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestLoadAWSMissingFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aws.json", `{"accessKeyId":"AKIATEST"}`)

	_, err := NewStore(dir).LoadAWS()
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if unavailable.Provider != catalog.ProviderAWS {
		t.Errorf("Provider = %v, want AWS", unavailable.Provider)
	}
}

func TestLoadAWSMissingFile(t *testing.T) {
	_, err := NewStore(t.TempDir()).LoadAWS()
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestLoadGCPPreferred(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gcp.json", `{"type":"service_account","project_id":"my-project"}`)

	creds, err := NewStore(dir).LoadGCP()
	if err != nil {
		t.Fatalf("LoadGCP() returned error: %v", err)
	}
	if creds.ProjectID != "my-project" {
		t.Errorf("ProjectID = %q, want my-project", creds.ProjectID)
	}
	if creds.FilePath != filepath.Join(dir, "gcp.json") {
		t.Errorf("FilePath = %q", creds.FilePath)
	}
}

func TestLoadGCPScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aws.json", `{"accessKeyId":"AKIATEST","secretAccessKey":"secret"}`)
	writeFile(t, dir, "service-account.json", `{"type":"service_account","project_id":"scanned"}`)

	creds, err := NewStore(dir).LoadGCP()
	if err != nil {
		t.Fatalf("LoadGCP() returned error: %v", err)
	}
	if creds.ProjectID != "scanned" {
		t.Errorf("ProjectID = %q, want scanned", creds.ProjectID)
	}
}

func TestLoadGCPRejectsMissingProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gcp.json", `{"type":"service_account"}`)

	_, err := NewStore(dir).LoadGCP()
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aws.json", `{"accessKeyId":"AKIATEST","secretAccessKey":"secret"}`)

	status := NewStore(dir).Check()
	if !status.AWS {
		t.Error("expected AWS credentials to be valid")
	}
	if status.GCP || status.DigitalOcean {
		t.Error("expected GCP and DigitalOcean credentials to be missing")
	}
	if !status.HasAny() {
		t.Error("HasAny() should be true")
	}
}

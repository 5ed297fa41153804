package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vmbroker/internal/catalog"
)

// UnavailableError indicates that credentials for a provider could not be
// loaded. Callers must not proceed with partial credentials.
type UnavailableError struct {
	Provider catalog.Provider
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("credentials unavailable for %s: %s", e.Provider, e.Reason)
}

// AWSCredentials holds a static AWS access key pair
type AWSCredentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// GCPCredentials holds a GCP service account key. Only the fields the engine
// needs are parsed; the raw file is handed to the SDK untouched.
type GCPCredentials struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`

	// FilePath is the location of the key file, passed to the GCP SDK
	FilePath string `json:"-"`
}

// DigitalOceanCredentials holds a personal access token
type DigitalOceanCredentials struct {
	Token string `json:"token"`
}

// Store loads per-provider credential files from a single directory.
// Credentials are read once and treated as read-only; call the Load methods
// again for an explicit reload.
type Store struct {
	dir string
}

// NewStore creates a credential store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// LoadAWS reads aws.json from the credentials directory
func (s *Store) LoadAWS() (*AWSCredentials, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "aws.json"))
	if err != nil {
		return nil, &UnavailableError{Provider: catalog.ProviderAWS, Reason: err.Error()}
	}

	var creds AWSCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &UnavailableError{Provider: catalog.ProviderAWS, Reason: fmt.Sprintf("malformed aws.json: %v", err)}
	}

	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, &UnavailableError{Provider: catalog.ProviderAWS, Reason: "aws.json missing accessKeyId or secretAccessKey"}
	}

	return &creds, nil
}

// LoadGCP finds a service account key file in the credentials directory.
// gcp.json is preferred; otherwise the first JSON file containing
// "type": "service_account" is used.
func (s *Store) LoadGCP() (*GCPCredentials, error) {
	preferred := filepath.Join(s.dir, "gcp.json")
	if creds, err := s.parseGCPKeyFile(preferred); err == nil {
		return creds, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &UnavailableError{Provider: catalog.ProviderGCP, Reason: err.Error()}
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.EqualFold(name, "aws.json") {
			continue
		}
		if creds, err := s.parseGCPKeyFile(filepath.Join(s.dir, name)); err == nil {
			return creds, nil
		}
	}

	return nil, &UnavailableError{Provider: catalog.ProviderGCP, Reason: "no service account key file found in " + s.dir}
}

func (s *Store) parseGCPKeyFile(path string) (*GCPCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var creds GCPCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Type != "service_account" {
		return nil, fmt.Errorf("%s is not a service account key", path)
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("%s has no resolvable project_id", path)
	}

	creds.FilePath = path
	return &creds, nil
}

// LoadDigitalOcean reads digitalocean.json from the credentials directory
func (s *Store) LoadDigitalOcean() (*DigitalOceanCredentials, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "digitalocean.json"))
	if err != nil {
		return nil, &UnavailableError{Provider: catalog.ProviderDigitalOcean, Reason: err.Error()}
	}

	var creds DigitalOceanCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &UnavailableError{Provider: catalog.ProviderDigitalOcean, Reason: fmt.Sprintf("malformed digitalocean.json: %v", err)}
	}

	if creds.Token == "" {
		return nil, &UnavailableError{Provider: catalog.ProviderDigitalOcean, Reason: "digitalocean.json missing token"}
	}

	return &creds, nil
}

// Status reports which providers have usable credentials
type Status struct {
	AWS          bool
	GCP          bool
	DigitalOcean bool
}

// HasAny returns true if at least one provider is usable
func (s Status) HasAny() bool {
	return s.AWS || s.GCP || s.DigitalOcean
}

// Check probes all provider credential files without keeping the material
func (s *Store) Check() Status {
	var status Status
	if _, err := s.LoadAWS(); err == nil {
		status.AWS = true
	}
	if _, err := s.LoadGCP(); err == nil {
		status.GCP = true
	}
	if _, err := s.LoadDigitalOcean(); err == nil {
		status.DigitalOcean = true
	}
	return status
}

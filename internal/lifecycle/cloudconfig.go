package lifecycle

import (
	"bytes"
	"fmt"
	"text/template"
)

const cloudConfigTemplate = `#cloud-config
ssh_pwauth: no
users:
  - name: {{.Username}}
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
    ssh_authorized_keys:
      - "{{.PublicKey}}"`

type cloudConfigData struct {
	Username  string
	PublicKey string
}

// GenerateCloudConfig renders the cloud-init user-data that provisions the
// login user with the given SSH key
func GenerateCloudConfig(username, publicKey string) (string, error) {
	tmpl, err := template.New("cloud-config").Parse(cloudConfigTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloud-config template: %v", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cloudConfigData{Username: username, PublicKey: publicKey}); err != nil {
		return "", fmt.Errorf("failed to execute cloud-config template: %v", err)
	}
	return buf.String(), nil
}

// Package ssh manages the key pair injected into provisioned instances.
package ssh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyName = "vmbroker_key"
	publicKeyName  = "vmbroker_key.pub"
)

// KeyPair points at an on-disk SSH key pair. PublicKey holds the
// authorized_keys line ready for cloud-init.
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// GetOrGenerateKeyPair returns the key pair under keyDir, generating a new
// RSA pair on first use. A private key without its public half gets the
// public key rederived rather than regenerated.
func GetOrGenerateKeyPair(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %v", err)
	}

	privatePath := filepath.Join(keyDir, privateKeyName)
	publicPath := filepath.Join(keyDir, publicKeyName)

	if _, err := os.Stat(privatePath); err == nil {
		if data, err := os.ReadFile(publicPath); err == nil {
			return &KeyPair{
				PrivateKeyPath: privatePath,
				PublicKeyPath:  publicPath,
				PublicKey:      strings.TrimSpace(string(data)),
			}, nil
		}
		return rederivePublicKey(privatePath, publicPath)
	}

	return generateKeyPair(privatePath, publicPath)
}

func generateKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := os.WriteFile(privatePath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privatePath, publicPath)
}

func rederivePublicKey(privatePath, publicPath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %v", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key at %s is not PEM encoded", privatePath)
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privatePath, publicPath)
}

func writePublicKey(key *rsa.PublicKey, privatePath, publicPath string) (*KeyPair, error) {
	publicKey, err := ssh.NewPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %v", err)
	}

	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(publicKey)))
	if err := os.WriteFile(publicPath, []byte(line+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %v", err)
	}

	return &KeyPair{
		PrivateKeyPath: privatePath,
		PublicKeyPath:  publicPath,
		PublicKey:      line,
	}, nil
}

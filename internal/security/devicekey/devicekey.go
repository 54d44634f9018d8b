// Package devicekey manages the 32-byte local HMAC key that signs the
// user's security policy, and the manifest that records a signature.
package devicekey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	keyFilename      = "localgpt.device.key"
	manifestFilename = ".localgpt_manifest.json"
	keyLen           = 32
)

// Manifest is the signature sidecar written alongside the policy file.
type Manifest struct {
	Version       int    `json:"version"`
	HMACSHA256    string `json:"hmac_sha256"`
	ContentSHA256 string `json:"content_sha256"`
	SignedAt      string `json:"signed_at"`
	SignedBy      string `json:"signed_by"`
}

// EnsureDeviceKey creates a 32-byte CSPRNG key at stateDir/localgpt.device.key
// with mode 0600 if one does not already exist. Idempotent.
func EnsureDeviceKey(stateDir string) error {
	keyPath := filepath.Join(stateDir, keyFilename)
	if _, err := os.Stat(keyPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat device key: %w", err)
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return fmt.Errorf("generate device key: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return fmt.Errorf("write device key: %w", err)
	}
	if err := os.Chmod(keyPath, 0o600); err != nil {
		return fmt.Errorf("chmod device key: %w", err)
	}
	return nil
}

// ReadDeviceKey reads and validates the device key from stateDir.
func ReadDeviceKey(stateDir string) ([]byte, error) {
	keyPath := filepath.Join(stateDir, keyFilename)
	b, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read device key (run `localgpt init`?): %w", err)
	}
	if len(b) != keyLen {
		return nil, fmt.Errorf("device key has unexpected length %d (expected %d)", len(b), keyLen)
	}
	return b, nil
}

// ContentSHA256 returns the lowercase-hex SHA-256 of the UTF-8 content.
func ContentSHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ComputeHMAC returns the lowercase-hex HMAC-SHA256 of content using key.
func ComputeHMAC(key []byte, content string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPolicy reads the policy file from workspace, computes its SHA-256 and
// HMAC-SHA256 using the device key in stateDir, and writes a pretty-printed
// manifest next to the policy. signedBy is "cli" or "gui".
func SignPolicy(workspace, stateDir, signedBy string) (*Manifest, error) {
	policyPath := filepath.Join(workspace, "LocalGPT.md")
	content, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	key, err := ReadDeviceKey(stateDir)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:       1,
		ContentSHA256: ContentSHA256(string(content)),
		HMACSHA256:    ComputeHMAC(key, string(content)),
		SignedAt:      time.Now().UTC().Format(time.RFC3339),
		SignedBy:      signedBy,
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(workspace, manifestFilename)
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// ReadManifest parses the manifest file from the workspace.
func ReadManifest(workspace string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(workspace, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// VerifySignature returns true iff the policy content's SHA-256 and
// HMAC-SHA256 both match the workspace manifest.
func VerifySignature(workspace, stateDir string) (bool, error) {
	content, err := os.ReadFile(filepath.Join(workspace, "LocalGPT.md"))
	if err != nil {
		return false, fmt.Errorf("read policy file: %w", err)
	}
	m, err := ReadManifest(workspace)
	if err != nil {
		return false, err
	}
	key, err := ReadDeviceKey(stateDir)
	if err != nil {
		return false, err
	}
	if ContentSHA256(string(content)) != m.ContentSHA256 {
		return false, nil
	}
	return hmac.Equal([]byte(ComputeHMAC(key, string(content))), []byte(m.HMACSHA256)), nil
}

// ManifestFilename is the sidecar filename used by protected-path checks.
const ManifestFilename = manifestFilename

// KeyFilename is the device key filename used by protected-path checks.
const KeyFilename = keyFilename

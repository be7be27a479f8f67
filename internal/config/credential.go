package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const credentialFile = "credential"

// CredentialStore keeps the user's poll generator API key on this machine
// only. The key is opaque: any non-empty string is accepted.
type CredentialStore struct {
	path string
}

// DefaultCredentialStore stores the key under the user config directory.
func DefaultCredentialStore() (*CredentialStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locate user config dir: %w", err)
	}
	return NewCredentialStore(filepath.Join(dir, "pollcast", credentialFile)), nil
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

func (s *CredentialStore) Path() string {
	return s.path
}

// Load returns the stored key, or "" when none is stored.
func (s *CredentialStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes key with owner-only permissions. The returned warning is
// non-empty when the key does not look like a known provider key; the key is
// stored regardless.
func (s *CredentialStore) Save(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("credential is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return "", fmt.Errorf("create credential dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace credential: %w", err)
	}
	return CheckCredentialFormat(key), nil
}

func (s *CredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

var knownKeyPrefixes = []string{"sk-or-", "sk-ant-", "sk-", "AIza"}

// CheckCredentialFormat returns a warning for keys that match no known
// provider prefix. It never rejects a key.
func CheckCredentialFormat(key string) string {
	for _, prefix := range knownKeyPrefixes {
		if strings.HasPrefix(key, prefix) {
			return ""
		}
	}
	return "credential does not look like an OpenRouter, OpenAI, Anthropic or Gemini key; it was saved anyway"
}

// Mask shows only the last four characters of key.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

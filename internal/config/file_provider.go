package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errSecretsPathUnset = errors.New("secrets path not configured")

// FileProvider reads one value per file from a mounted secrets directory.
// JWT_SECRET is looked up as jwt-secret, then jwt_secret, then JWT_SECRET,
// which covers Kubernetes secret keys and Docker secrets alike.
type FileProvider struct {
	secretsPath string
}

// NewFileProvider creates a provider rooted at secretsPath
func NewFileProvider(secretsPath string) *FileProvider {
	return &FileProvider{secretsPath: secretsPath}
}

// GetSecret returns the trimmed file content for key. No matching file is
// not an error.
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, _, err := f.Lookup(ctx, key)
	return value, err
}

// Lookup returns the value for key and the file it was read from
func (f *FileProvider) Lookup(ctx context.Context, key string) (string, string, error) {
	if f.secretsPath == "" {
		return "", "", errSecretsPathUnset
	}
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", "", fmt.Errorf("invalid secret key %q", key)
	}

	for _, name := range secretFileNames(key) {
		path := filepath.Join(f.secretsPath, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), "file:" + path, nil
	}
	return "", "", nil
}

// secretFileNames lists the file names tried for key, most specific first
func secretFileNames(key string) []string {
	lower := strings.ToLower(key)
	names := []string{strings.ReplaceAll(lower, "_", "-")}
	if lower != names[0] {
		names = append(names, lower)
	}
	if key != lower {
		names = append(names, key)
	}
	return names
}

// Name returns the provider name
func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether the secrets path is an existing directory
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.secretsPath == "" {
		return false
	}
	info, err := os.Stat(f.secretsPath)
	return err == nil && info.IsDir()
}

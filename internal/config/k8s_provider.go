package config

import (
	"context"
	"os"
	"strings"
)

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// K8sProvider reads secrets mounted into a pod. It only reports itself
// available inside a cluster, so local runs fall through to the next provider.
type K8sProvider struct {
	fileProvider *FileProvider
	tokenPath    string
}

// NewK8sProvider creates a provider over the given mount path (default /var/secrets)
func NewK8sProvider(secretsPath string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = "/var/secrets"
	}
	return &K8sProvider{
		fileProvider: NewFileProvider(secretsPath),
		tokenPath:    serviceAccountTokenPath,
	}
}

// GetSecret retrieves a secret from the mounted secret directory
func (k *K8sProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return k.fileProvider.GetSecret(ctx, key)
}

// Lookup returns the value for key and the mounted file that held it
func (k *K8sProvider) Lookup(ctx context.Context, key string) (string, string, error) {
	value, source, err := k.fileProvider.Lookup(ctx, key)
	return value, strings.Replace(source, "file:", "kubernetes:", 1), err
}

// Name returns the provider name
func (k *K8sProvider) Name() string {
	return "kubernetes"
}

// IsAvailable checks for a service account token and the secret mount
func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(k.tokenPath); err != nil {
		return false
	}
	return k.fileProvider.IsAvailable(ctx)
}

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvVarProvider resolves a reference by reading the environment variable of
// that name.
type EnvVarProvider struct{}

// NewEnvVarProvider creates an EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// FileProvider resolves a reference by reading the file of that name under
// Dir, the layout used by mounted container secrets. Trailing newlines are
// trimmed.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filepath.IsLocal(key) {
			return nil, fmt.Errorf("secret reference %q escapes %s", key, p.Dir)
		}
		data, err := os.ReadFile(filepath.Join(p.Dir, key))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read secret %q: %w", key, err)
		}
		result[key] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}

// NewSecretProviderFromEnv returns a FileProvider when SECRETS_DIR is set
// and an EnvVarProvider otherwise.
func NewSecretProviderFromEnv() SecretProvider {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return NewFileProvider(dir)
	}
	return NewEnvVarProvider()
}

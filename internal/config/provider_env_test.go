package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("MARINA_TEST_SECRET", "value-1")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"MARINA_TEST_SECRET", "MARINA_TEST_ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MARINA_TEST_SECRET": "value-1"}, got)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db-url"), []byte("postgres://from-file\n"), 0o600))

	p := NewFileProvider(dir)
	got, err := p.GetParametersBatch(context.Background(), []string{"db-url", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db-url": "postgres://from-file"}, got)

	_, err = p.GetParametersBatch(context.Background(), []string{"../etc/passwd"})
	assert.Error(t, err)
}

func TestNewBuildInfo(t *testing.T) {
	info := NewBuildInfo()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "none", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
}

func TestNewSecretProviderFromEnv(t *testing.T) {
	t.Setenv("SECRETS_DIR", "")
	assert.IsType(t, &EnvVarProvider{}, NewSecretProviderFromEnv())

	t.Setenv("SECRETS_DIR", "/run/secrets")
	fp, ok := NewSecretProviderFromEnv().(*FileProvider)
	require.True(t, ok)
	assert.Equal(t, "/run/secrets", fp.Dir)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.Port)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgkv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
pd_endpoints = ["10.0.0.1:2379", "10.0.0.2:2379"]
pg_port = 6000
pg_keyspace = "acme"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.PDEndpoints)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "acme", cfg.Keyspace)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgkv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`pg_port = 6000`), 0o644))

	t.Setenv("PG_PORT", "7000")
	t.Setenv("PG_KEYSPACE", "envspace")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "envspace", cfg.Keyspace)
}

func TestLoadBadPort(t *testing.T) {
	t.Setenv("PG_PORT", "not-a-number")
	_, err := Load("")
	require.Error(t, err)
}

func TestTLSEnabledRequiresBoth(t *testing.T) {
	cfg := Config{TLSCert: "cert.pem"}
	assert.False(t, cfg.TLSEnabled())
	cfg.TLSKey = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestSplitUsername(t *testing.T) {
	ks, user := SplitUsername("acme.alice", "default")
	assert.Equal(t, "acme", ks)
	assert.Equal(t, "alice", user)

	ks, user = SplitUsername("acme:alice", "default")
	assert.Equal(t, "acme", ks)
	assert.Equal(t, "alice", user)

	ks, user = SplitUsername("alice", "default")
	assert.Equal(t, "default", ks)
	assert.Equal(t, "alice", user)
}

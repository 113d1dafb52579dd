package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	SetDefaults(v)

	// An explicit but missing file is a real error, not the not-found fallback.
	_, err := LoadWith(v)
	require.Error(t, err)

	v = viper.New()
	v.AddConfigPath(t.TempDir())
	cfg, err := LoadWith(v)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Chain.Mode)
	assert.Equal(t, 5, cfg.Registry.DefaultMaxBatchSize)
	assert.Equal(t, 10*time.Second, cfg.Settlement.TenantTimeout())
	assert.Equal(t, uint64(100), cfg.Keeper.BalanceCheckEvery)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
registry:
  owner: "0x00000000000000000000000000000000000000aa"
  settlers:
    - "0x00000000000000000000000000000000000000bb"
accounts:
  - name: platform
    address: "0x00000000000000000000000000000000000000cc"
    api_key: sk-platform
    qps: 5
    burst: 10
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))
	t.Setenv("SETTLEGATE_SETTLEMENT_BUDGET", "42")

	v := viper.New()
	v.Set("config", file)
	cfg, err := LoadWith(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 42, cfg.Settlement.Budget)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "sk-platform", cfg.Accounts[0].APIKey)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000bb"}, cfg.Registry.Settlers)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 10, cfg.Calls.Tariff.MinCost)
	assert.InDelta(t, 0.15, cfg.Calls.Tariff.PlatformFee, 1e-9)
	assert.InDelta(t, 1.0, cfg.Calls.DefaultPrice, 1e-9)
	assert.Equal(t, time.Minute, cfg.Calls.InitiateWindow)
	assert.Equal(t, 64, cfg.Signal.SendQueue)
	assert.Empty(t, cfg.Users)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("DIAL_PORT", "9090")

	yaml := `
mode: debug
port: 7000
calls:
  tariff:
    min_cost: 20
users:
  - id: alice
    name: Alice
    token_balance: 100
  - id: bob
    role: professional
    price_per_minute: 5
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 20, cfg.Calls.Tariff.MinCost)
	assert.Equal(t, 10, cfg.Calls.Tariff.MinBalance)
	require.Len(t, cfg.Users, 2)
	assert.Equal(t, domain.UserID("alice"), cfg.Users[0].ID)
	assert.Equal(t, 100, cfg.Users[0].TokenBalance)
	assert.Equal(t, domain.RoleProfessional, cfg.Users[1].Role)
	assert.InDelta(t, 5.0, cfg.Users[1].PricePerMinute, 1e-9)
}

func TestLoadClientFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	fs := ClientFlags()
	require.NoError(t, fs.Parse([]string{"--user_id", "u1", "--media", "device"}))
	cfg, err := LoadClient(fs)
	require.NoError(t, err)
	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, "device", cfg.Media)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, DefaultSTUN, cfg.STUN)
	assert.Equal(t, 30*time.Second, cfg.NegotiationTimeout)
}

func TestLoadClientNeedsIdentity(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	fs := ClientFlags()
	require.NoError(t, fs.Parse(nil))
	_, err := LoadClient(fs)
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt_secret: secret
shopify:
  shop_domain: shop.myshopify.com
  access_token: token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 30*time.Minute, cfg.Catalog.SyncInterval)
	assert.Equal(t, 50, cfg.Catalog.PageSize)
	assert.Equal(t, "2024-10", cfg.Shopify.APIVersion)
	assert.Equal(t, 10*time.Second, cfg.Shopify.OrderTimeout)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, 2, cfg.RateLimit.Refill)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Interval)
	assert.Equal(t, 168*time.Hour, cfg.Dedup.Retention)
	assert.False(t, cfg.Search.StrictPrice)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadMissingRequired(t *testing.T) {
	path := writeConfig(t, `
shopify:
  shop_domain: shop.myshopify.com
  access_token: token
`)

	if _, ok := os.LookupEnv("JWT_SECRET"); ok {
		t.Skip("JWT_SECRET is set in the environment")
	}

	_, err := Load(path)
	require.Error(t, err)
}

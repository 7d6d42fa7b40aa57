package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOWNLOAD_DIR", filepath.Join(dir, "dl"))
	t.Setenv("COOKIE_DIR", filepath.Join(dir, "cookies"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:5050", cfg.Addr())

	// Load creates the working directories.
	assert.DirExists(t, cfg.DownloadDir)
	assert.DirExists(t, cfg.CookieDir)
}

func TestLoadClamping(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOWNLOAD_DIR", filepath.Join(dir, "dl"))
	t.Setenv("COOKIE_DIR", filepath.Join(dir, "cookies"))

	tests := []struct {
		name        string
		concurrent  string
		port        string
		wantWorkers int
		wantPort    int
	}{
		{"zero workers", "0", "5050", 1, 5050},
		{"negative workers", "-2", "5050", 1, 5050},
		{"too many workers", "50", "5050", MaxConcurrentCeiling, 5050},
		{"bad port", "3", "99999", 3, DefaultPort},
		{"non-numeric", "lots", "5050", DefaultMaxConcurrent, 5050},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv("MAX_CONCURRENT_DOWNLOADS", test.concurrent)
			t.Setenv("PORT", test.port)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, test.wantWorkers, cfg.MaxConcurrent)
			assert.Equal(t, test.wantPort, cfg.Port)
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOWNLOAD_DIR", filepath.Join(dir, "dl"))
	t.Setenv("COOKIE_DIR", filepath.Join(dir, "cookies"))
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://app.example.com ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.AllowedOrigins)
}

package transit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
scratchDir: /var/cache/transit
agencies:
  - key: ttc
    name: Toronto Transit Commission
    timezone: America/Toronto
    snapshotURL: https://example.com/ttc/snapshot.db
    archiveURL: https://example.com/ttc/gtfs.zip
    tripUpdatesURL: https://example.com/ttc/tripupdates.pb
    alertsURL: https://example.com/ttc/alerts.pb
    stopsDSN: postgres://transit@localhost/stops?sslmode=disable
  - key: go
    timezone: America/Toronto
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/transit", cfg.ScratchDir)
	require.Len(t, cfg.Agencies, 2)

	ttc, ok := cfg.Agency("ttc")
	require.True(t, ok)
	assert.Equal(t, "Toronto Transit Commission", ttc.Name)
	assert.Equal(t, "https://example.com/ttc/gtfs.zip", ttc.ArchiveURL)
	assert.NotEmpty(t, ttc.StopsDSN)

	_, ok = cfg.Agency("nope")
	assert.False(t, ok)
}

func TestLoadConfigValidation(t *testing.T) {
	for name, content := range map[string]string{
		"no scratch dir": `
agencies:
  - key: ttc
    timezone: America/Toronto
`,
		"no agencies": `
scratchDir: /tmp/transit
agencies: []
`,
		"agency missing timezone": `
scratchDir: /tmp/transit
agencies:
  - key: ttc
`,
		"bad url": `
scratchDir: /tmp/transit
agencies:
  - key: ttc
    timezone: America/Toronto
    archiveURL: not a url
`,
	} {
		path := writeConfig(t, content)
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "scratchDir: [unterminated")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestNewEngineUnknownAgency(t *testing.T) {
	cfg := &Config{ScratchDir: t.TempDir()}
	_, err := NewEngine(cfg, "ttc", nil)
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Influx.Org = "TallinnAtom"
	cfg.Influx.Bucket = "TallinnAtom"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, cfg.OfflineThreshold.Std())
	assert.Equal(t, time.Second, cfg.CacheTTL.Std())
	assert.Equal(t, "device_status", cfg.Measurement)
}

func TestValidateRequiresStoreSettings(t *testing.T) {
	cfg := Default()
	cfg.Influx.Org = ""

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateClampsStreamInterval(t *testing.T) {
	cfg := Default()
	cfg.Influx.Org = "org"
	cfg.Influx.Bucket = "bucket"
	cfg.StreamInterval = Duration(10 * time.Millisecond)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Millisecond, cfg.StreamInterval.Std())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"influx": {"url": "http://influx:8086", "org": "file-org", "bucket": "file-bucket"},
		"team": "FileTeam",
		"cache_ttl": "2s",
		"stream_interval": 1500
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("TEAM_FILTER", "EnvTeam")
	t.Setenv("OFFLINE_SECONDS", "30")
	t.Setenv("PORT", "8080")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-org", cfg.Influx.Org)
	assert.Equal(t, "EnvTeam", cfg.Team, "env should override file")
	assert.Equal(t, 30*time.Second, cfg.OfflineThreshold.Std())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.CacheTTL.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.StreamInterval.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Millisecond, d.Std())

	require.Error(t, d.UnmarshalJSON([]byte(`"nope"`)))
	require.Error(t, d.UnmarshalJSON([]byte(`true`)))
}

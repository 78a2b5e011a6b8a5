package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/insightd/internal/insight"
)

const sampleConfig = `
data_dir: /var/lib/insightd
user_id: alice
remote:
  backend: memory
summarizer:
  endpoint: https://summaries.example.com/v1/generate-insight
  token: secret
  timeout: 12s
insight:
  generation_timeout: 30s
  max_entries: 10
  migrate_on_load: false
log:
  level: debug
`

// TestDecode tests that the file is read over the defaults.
func TestDecode(t *testing.T) {
	cfg, err := Decode(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "alice", cfg.UserID)
	require.Equal(t, RemoteMemory, cfg.Remote.Backend)
	require.Equal(t, Duration(12*time.Second), cfg.Summarizer.Timeout)
	require.Equal(t, DefaultListenAddr, cfg.Realtime.Listen)

	icfg := cfg.InsightConfig()
	require.Equal(t, 30*time.Second, icfg.GenerationTimeout)
	require.Equal(t, 10, icfg.MaxEntries)
	require.False(t, icfg.MigrateOnLoad)
	require.Equal(t, insight.DefaultTierTimeout, icfg.TierTimeout)

	scfg := cfg.SummarizerConfig()
	require.Equal(t, 12*time.Second, scfg.Timeout)
	require.Equal(t, "secret", cfg.SummarizerToken())

	resolved, err := cfg.Resolve()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/insightd/insights.db", resolved.Remote.Path)
	require.Equal(t, "/var/lib/insightd/local.db", resolved.Local.Path)
	require.Equal(t, "/var/lib/insightd/logs", resolved.Log.Dir)
}

// TestDecodeRejects tests malformed files.
func TestDecodeRejects(t *testing.T) {
	_, err := Decode(strings.NewReader("summarizer:\n  timeout: soon\n"))
	require.Error(t, err)

	_, err = Decode(strings.NewReader("colour: blue\n"))
	require.Error(t, err)

	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg.Remote.Backend = "postgres"
	_, err = cfg.Resolve()
	require.Error(t, err)

	cfg = Default()
	cfg.Log.Level = "chatty"
	_, err = cfg.Resolve()
	require.Error(t, err)
}

// TestLoad tests the missing file handling.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(dir, "insightd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.UserID)
}

// TestExpandPath tests home and environment expansion.
func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INSIGHTD_TEST_DIR", "/srv")

	p, err := ExpandPath("~/.insightd/local.db")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".insightd", "local.db"), p)

	p, err = ExpandPath("$INSIGHTD_TEST_DIR/data")
	require.NoError(t, err)
	require.Equal(t, "/srv/data", p)

	p, err = ExpandPath("relative/path")
	require.NoError(t, err)
	require.Equal(t, "relative/path", p)
}

// TestSummarizerTokenEnv tests the environment fallback for the token.
func TestSummarizerTokenEnv(t *testing.T) {
	t.Setenv(DefaultTokenEnv, "from-env")

	cfg := Default()
	require.Equal(t, "from-env", cfg.SummarizerToken())

	cfg.Summarizer.TokenEnv = ""
	require.Empty(t, cfg.SummarizerToken())
}

// TestBuildLogConfig tests the logger config derived from the file.
func TestBuildLogConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Dir = "/tmp/logs"

	lc := cfg.BuildLogConfig(nil)
	require.Equal(t, "/tmp/logs", lc.File.Dir)

	cfg.Log.Disable = true
	lc = cfg.BuildLogConfig(nil)
	require.Empty(t, lc.File.Dir)
}

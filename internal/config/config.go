// Package config loads the insightd YAML configuration file and turns it
// into the configs of the individual components.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roasbeef/insightd/internal/build"
	"github.com/roasbeef/insightd/internal/db"
	"github.com/roasbeef/insightd/internal/insight"
	"github.com/roasbeef/insightd/internal/summarizer"
)

const (
	// DefaultDataDir holds the databases, logs and the config file.
	DefaultDataDir = "~/.insightd"

	// DefaultConfigFilename is the config file name inside the data dir.
	DefaultConfigFilename = "insightd.yaml"

	// DefaultRemoteFilename is the remote insight database file.
	DefaultRemoteFilename = "insights.db"

	// DefaultLocalFilename is the on-device key/value store file.
	DefaultLocalFilename = "local.db"

	// DefaultListenAddr is where serve exposes the realtime endpoint.
	DefaultListenAddr = "localhost:8473"

	// DefaultTokenEnv is read for the summarizer token when the file does
	// not carry one.
	DefaultTokenEnv = "INSIGHTD_TOKEN"

	// RemoteSQLite and RemoteMemory are the remote store backends.
	RemoteSQLite = "sqlite"
	RemoteMemory = "memory"
)

// Duration is a time.Duration written as a string like "45s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)

	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// File is the on-disk configuration.
type File struct {
	DataDir    string           `yaml:"data_dir"`
	UserID     string           `yaml:"user_id"`
	Remote     RemoteConfig     `yaml:"remote"`
	Local      LocalConfig      `yaml:"local"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Insight    InsightConfig    `yaml:"insight"`
	Log        LogConfig        `yaml:"log"`
}

// RemoteConfig selects the remote insight database.
type RemoteConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LocalConfig locates the on-device store.
type LocalConfig struct {
	Path string `yaml:"path"`
}

// SummarizerConfig configures the summarization service client.
type SummarizerConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Token       string   `yaml:"token"`
	TokenEnv    string   `yaml:"token_env"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// RealtimeConfig configures the change feed. When URL is set the feed is a
// remote realtime endpoint, otherwise changes are only shared in process.
type RealtimeConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Listen string `yaml:"listen"`
}

// InsightConfig tunes the insight engine.
type InsightConfig struct {
	GenerationTimeout Duration `yaml:"generation_timeout"`
	TierTimeout       Duration `yaml:"tier_timeout"`
	MaxEntries        int      `yaml:"max_entries"`
	PruneSuperseded   bool     `yaml:"prune_superseded"`

	// MigrateOnLoad defaults to true when unset.
	MigrateOnLoad *bool `yaml:"migrate_on_load"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Dir         string `yaml:"dir"`
	MaxFiles    int    `yaml:"max_files"`
	MaxFileSize int    `yaml:"max_file_size_mb"`
	Disable     bool   `yaml:"disable_file"`
}

// Default returns the configuration used when no file exists.
func Default() File {
	return File{
		DataDir: DefaultDataDir,
		Remote: RemoteConfig{
			Backend: RemoteSQLite,
		},
		Summarizer: SummarizerConfig{
			TokenEnv:    DefaultTokenEnv,
			Timeout:     Duration(summarizer.DefaultTimeout),
			MaxAttempts: summarizer.DefaultMaxAttempts,
		},
		Realtime: RealtimeConfig{
			Listen: DefaultListenAddr,
		},
		Insight: InsightConfig{
			GenerationTimeout: Duration(insight.DefaultGenerationTimeout),
			TierTimeout:       Duration(insight.DefaultTierTimeout),
			MaxEntries:        insight.DefaultMaxEntries,
		},
		Log: LogConfig{
			Level:       "info",
			MaxFiles:    build.DefaultMaxLogFiles,
			MaxFileSize: build.DefaultMaxLogFileSize,
		},
	}
}

// DefaultPath is the config file under the default data dir.
func DefaultPath() (string, error) {
	return ExpandPath(filepath.Join(DefaultDataDir, DefaultConfigFilename))
}

// Load reads the file at path over the defaults. An empty path reads the
// default location, which may be missing; an explicit path must exist.
func Load(path string) (File, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return File{}, err
		}
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return Default(), nil

	case err != nil:
		return File{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Decode parses YAML over the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (File, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Resolve expands paths, derives the ones left empty from the data dir and
// checks the values.
func (f File) Resolve() (File, error) {
	var err error
	if f.DataDir == "" {
		f.DataDir = DefaultDataDir
	}
	if f.DataDir, err = ExpandPath(f.DataDir); err != nil {
		return File{}, err
	}

	paths := []struct {
		p   *string
		def string
	}{
		{&f.Remote.Path, DefaultRemoteFilename},
		{&f.Local.Path, DefaultLocalFilename},
		{&f.Log.Dir, "logs"},
	}
	for _, p := range paths {
		if *p.p == "" {
			*p.p = filepath.Join(f.DataDir, p.def)
			continue
		}
		if *p.p, err = ExpandPath(*p.p); err != nil {
			return File{}, err
		}
	}

	switch f.Remote.Backend {
	case "":
		f.Remote.Backend = RemoteSQLite
	case RemoteSQLite, RemoteMemory:
	default:
		return File{}, fmt.Errorf("unknown remote backend %q",
			f.Remote.Backend)
	}

	if _, err := build.ParseLevel(f.Log.Level); err != nil {
		return File{}, err
	}

	return f, nil
}

// ExpandPath expands environment variables and a leading ~.
func ExpandPath(p string) (string, error) {
	p = os.ExpandEnv(p)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}

	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// SummarizerToken returns the configured token, falling back to the token
// environment variable.
func (f File) SummarizerToken() string {
	if f.Summarizer.Token != "" {
		return f.Summarizer.Token
	}
	if f.Summarizer.TokenEnv == "" {
		return ""
	}

	return os.Getenv(f.Summarizer.TokenEnv)
}

// InsightConfig returns the engine config.
func (f File) InsightConfig() insight.Config {
	cfg := insight.DefaultConfig()
	cfg.GenerationTimeout = time.Duration(f.Insight.GenerationTimeout)
	cfg.TierTimeout = time.Duration(f.Insight.TierTimeout)
	cfg.MaxEntries = f.Insight.MaxEntries
	cfg.PruneSuperseded = f.Insight.PruneSuperseded
	if f.Insight.MigrateOnLoad != nil {
		cfg.MigrateOnLoad = *f.Insight.MigrateOnLoad
	}

	return cfg
}

// SummarizerConfig returns the client config.
func (f File) SummarizerConfig() summarizer.Config {
	cfg := summarizer.DefaultConfig()
	cfg.Endpoint = f.Summarizer.Endpoint
	cfg.Timeout = time.Duration(f.Summarizer.Timeout)
	if f.Summarizer.MaxAttempts > 0 {
		cfg.MaxAttempts = f.Summarizer.MaxAttempts
	}

	return cfg
}

// SqliteConfig returns the remote database config.
func (f File) SqliteConfig() *db.SqliteConfig {
	return &db.SqliteConfig{
		DatabaseFileName: f.Remote.Path,
	}
}

// BuildLogConfig returns the logger config writing to console.
func (f File) BuildLogConfig(console io.Writer) build.LogConfig {
	cfg := build.LogConfig{
		Level:   f.Log.Level,
		Console: console,
	}
	if !f.Log.Disable {
		cfg.File = build.DefaultRotatorConfig(f.Log.Dir)
		cfg.File.MaxFiles = f.Log.MaxFiles
		if f.Log.MaxFileSize > 0 {
			cfg.File.MaxFileSize = f.Log.MaxFileSize
		}
	}

	return cfg
}

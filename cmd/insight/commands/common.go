package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/roasbeef/insightd/internal/build"
	"github.com/roasbeef/insightd/internal/config"
	"github.com/roasbeef/insightd/internal/db"
	"github.com/roasbeef/insightd/internal/insight"
	"github.com/roasbeef/insightd/internal/kvstore"
	"github.com/roasbeef/insightd/internal/notify"
	"github.com/roasbeef/insightd/internal/store"
	"github.com/roasbeef/insightd/internal/summarizer"
)

// loadConfig reads the config file and applies the global flags.
func loadConfig() (config.File, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.File{}, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if userID != "" {
		cfg.UserID = userID
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if remoteBackend != "" {
		cfg.Remote.Backend = remoteBackend
	}

	return cfg.Resolve()
}

// runtime is everything a command needs to talk to the insight engine.
type runtime struct {
	cfg    config.File
	log    *build.Logger
	hub    *notify.Hub
	remote store.Storage
	local  *kvstore.Store
	svc    *insight.Service
}

// runtimeOpts tweak how the runtime is opened.
type runtimeOpts struct {
	// console receives log output. Commands log to stderr so stdout only
	// carries results.
	console io.Writer

	// listen starts the change listener for the user. Only long running
	// commands need it.
	listen bool
}

// openRuntime opens the stores and builds the service.
func openRuntime(cfg config.File, opts runtimeOpts) (*runtime, error) {
	if opts.console == nil {
		opts.console = os.Stderr
	}

	logger, err := build.NewLogger(cfg.BuildLogConfig(opts.console))
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	rt := &runtime{
		cfg: cfg,
		log: logger,
		hub: notify.NewHub(logger.Logger),
	}

	switch cfg.Remote.Backend {
	case config.RemoteMemory:
		rt.remote = store.NewMockStore(rt.hub)

	default:
		sqlite, err := db.NewSqliteStore(cfg.SqliteConfig(), logger.Logger)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open remote store: %w", err)
		}
		rt.remote = store.NewSqlcStore(sqlite, rt.hub, logger.Logger)
	}

	rt.local, err = kvstore.Open(cfg.Local.Path)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open local store: %w", err)
	}

	deps := insight.Deps{
		Local:  rt.local,
		Remote: rt.remote,
	}
	if cfg.Summarizer.Endpoint != "" {
		deps.Summarizer = summarizer.New(
			cfg.SummarizerConfig(),
			summarizer.StaticToken(cfg.SummarizerToken()),
			logger.Logger,
		)
	}
	if opts.listen {
		deps.Feed = rt.feed()
	}

	rt.svc, err = insight.NewService(cfg.InsightConfig(), deps,
		logger.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	return rt, nil
}

// feed is the remote realtime endpoint when one is configured, otherwise
// the in-process hub the remote store publishes to.
func (rt *runtime) feed() notify.Feed {
	if rt.cfg.Realtime.URL == "" {
		return rt.hub
	}

	return notify.NewWSFeed(notify.WSFeedConfig{
		URL:   rt.cfg.Realtime.URL,
		Token: rt.cfg.Realtime.Token,
	}, rt.log.Logger)
}

// close releases everything opened so far.
func (rt *runtime) close() {
	if rt.svc != nil {
		rt.svc.Close()
	}
	if rt.local != nil {
		_ = rt.local.Close()
	}
	if rt.remote != nil {
		_ = rt.remote.Close()
	}
	rt.hub.Close()
	_ = rt.log.Close()
}

// requireUser returns the user the command acts for.
func requireUser(cfg config.File) (string, error) {
	if cfg.UserID == "" {
		return "", errors.New("no user; use --user or set user_id in " +
			"the config file")
	}

	return cfg.UserID, nil
}

// entryJSON is the entries file format of the load command.
type entryJSON struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
	Mood      string `json:"mood"`
}

// readEntries reads a JSON array of entries, "-" meaning stdin.
func readEntries(path string) ([]insight.Entry, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open entries: %w", err)
		}
		defer f.Close()
		r = f
	}

	var raw []entryJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	entries := make([]insight.Entry, len(raw))
	for i, e := range raw {
		date, err := parseDate(e.Date)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		entries[i] = insight.Entry{
			ID:        e.ID,
			Date:      date,
			Title:     e.Title,
			Content:   e.Content,
			WordCount: e.WordCount,
			Mood:      e.Mood,
		}
	}

	return entries, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}

	return t, nil
}

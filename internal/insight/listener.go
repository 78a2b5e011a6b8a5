package insight

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roasbeef/insightd/internal/notify"
)

// SyncListener re-reads a user's record whenever the change feed reports a
// write, so records generated on another device show up here. Event
// payloads are never trusted: every event triggers a full tier refresh.
//
// Listening is started per user with Ensure and must be torn down with Stop
// or Close.
type SyncListener struct {
	cfg   Config
	cache *Cache
	feed  notify.Feed
	log   *slog.Logger

	mu     sync.Mutex
	runs   map[string]*listenRun
	closed bool
	wg     sync.WaitGroup
}

// listenRun is one user's listening goroutine.
type listenRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncListener creates a listener. A nil feed disables it.
func NewSyncListener(cfg Config, cache *Cache, feed notify.Feed,
	log *slog.Logger) *SyncListener {

	if log == nil {
		log = slog.Default()
	}

	return &SyncListener{
		cfg:   cfg.withDefaults(),
		cache: cache,
		feed:  feed,
		log:   log.With("component", "insight_sync"),
		runs:  make(map[string]*listenRun),
	}
}

// Ensure starts listening for the user unless already listening. It returns
// true if a new listener was started. Subscribing happens in the background
// and is retried until it succeeds, since the transport may not be up yet.
func (l *SyncListener) Ensure(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.feed == nil || userID == "" {
		return false
	}
	if _, ok := l.runs[userID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &listenRun{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.runs[userID] = run

	l.wg.Add(1)
	go l.listen(ctx, userID, run)

	return true
}

// Listening reports whether a listener runs for the user.
func (l *SyncListener) Listening(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.runs[userID]
	return ok
}

// Stop tears down the user's listener and waits for it to exit.
func (l *SyncListener) Stop(userID string) {
	l.mu.Lock()
	run, ok := l.runs[userID]
	delete(l.runs, userID)
	l.mu.Unlock()

	if !ok {
		return
	}

	run.cancel()
	<-run.done
}

// Close stops every listener. Ensure is a no-op afterwards.
func (l *SyncListener) Close() {
	l.mu.Lock()
	l.closed = true
	for userID, run := range l.runs {
		run.cancel()
		delete(l.runs, userID)
	}
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *SyncListener) listen(ctx context.Context, userID string,
	run *listenRun) {

	defer l.wg.Done()
	defer close(run.done)

	for {
		sub, err := l.feed.Subscribe(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			l.log.WarnContext(ctx, "Sync subscribe failed",
				"user_id", userID,
				"retry_in", l.cfg.ResubscribeDelay, "error", err,
			)
		} else {
			l.log.InfoContext(ctx, "Sync listener subscribed",
				"user_id", userID, "subscription", sub.ID(),
			)

			l.consume(ctx, userID, sub)
			sub.Close()

			if ctx.Err() != nil {
				l.log.InfoContext(ctx, "Sync listener stopped",
					"user_id", userID,
				)

				return
			}

			l.log.WarnContext(ctx, "Sync feed ended, resubscribing",
				"user_id", userID,
				"retry_in", l.cfg.ResubscribeDelay,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.ResubscribeDelay):
		}
	}
}

// consume refreshes the cache for every burst of events until the
// subscription ends or ctx is done.
func (l *SyncListener) consume(ctx context.Context, userID string,
	sub *notify.Subscription) {

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}

			// Several queued events need only one refresh.
			ok = drain(sub)
			l.refresh(ctx, userID, ev)
			if !ok {
				return
			}
		}
	}
}

// drain discards queued events. It returns false if the subscription
// closed meanwhile.
func drain(sub *notify.Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (l *SyncListener) refresh(ctx context.Context, userID string,
	ev notify.Event) {

	before := l.cache.Current(userID)

	after, err := l.cache.Refresh(ctx, userID)
	if err != nil {
		l.log.WarnContext(ctx, "Sync refresh failed",
			"user_id", userID, "kind", ev.Kind, "error", err,
		)

		return
	}

	changed := before.IsSome() != after.IsSome()
	before.WhenSome(func(b Record) {
		after.WhenSome(func(a Record) {
			changed = !a.SameVersion(b)
		})
	})

	l.log.InfoContext(ctx, "Sync refresh",
		"user_id", userID, "kind", ev.Kind, "changed", changed,
	)
}

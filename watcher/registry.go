package watcher

import (
	"context"
	"fmt"
	"sync"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/feed"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
	"github.com/WeiXinbang/FuturesCloudSentinel/store"
)

// Registry owns at most one watcher per account.
type Registry struct {
	config   appconfig.WatcherConfig
	store    store.Store
	cache    *feed.Cache
	triggers chan<- models.TriggerEvent
	log      *logger.Log

	ctx     context.Context
	mu      sync.Mutex
	running bool
	byAcct  map[string]*Watcher
}

func NewRegistry(cfg appconfig.WatcherConfig, st store.Store, cache *feed.Cache, triggers chan<- models.TriggerEvent) *Registry {
	return &Registry{
		config:   cfg,
		store:    st,
		cache:    cache,
		triggers: triggers,
		log:      logger.GetLogger(),
		byAcct:   make(map[string]*Watcher),
	}
}

func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("watcher registry already running")
	}
	r.running = true
	r.ctx = ctx
	r.log.WithComponent("watcher").Info("watcher registry started")
	return nil
}

// Stop shuts down every watcher and waits for them to drain.
func (r *Registry) Stop() {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.byAcct))
	for _, w := range r.byAcct {
		watchers = append(watchers, w)
	}
	r.byAcct = make(map[string]*Watcher)
	r.running = false
	r.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	r.log.WithComponent("watcher").Info("watcher registry stopped")
}

// Attach ensures a watcher exists for the session's account. A second
// login for the same account rebinds the existing watcher so pushes go
// to the most recent connection.
func (r *Registry) Attach(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("watcher registry not running")
	}

	account := session.Account()
	if w, ok := r.byAcct[account]; ok {
		w.rebind(session)
		return nil
	}

	w := newWatcher(account, r.config, r.store, r.cache, r.triggers, session)
	r.byAcct[account] = w
	w.start(r.ctx)
	return nil
}

// Detach stops the account's watcher, but only when the departing session
// is still the bound one. A stale disconnect must not kill a watcher that
// has been rebound to a newer login.
func (r *Registry) Detach(account, sessionID string) {
	r.mu.Lock()
	w, ok := r.byAcct[account]
	if !ok || w.sessionID() != sessionID {
		r.mu.Unlock()
		return
	}
	delete(r.byAcct, account)
	r.mu.Unlock()

	w.stop()
}

// Count reports the number of live watchers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAcct)
}

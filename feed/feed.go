package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
)

// SymbolSource supplies the symbols that currently need live quotes.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// wire messages exchanged with the quote vendor
type vendorMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol,omitempty"`
	Price  float64 `json:"price,omitempty"`
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Feed maintains a websocket connection to the quote vendor, keeps the
// subscription set in line with the active alert orders and publishes
// every quote into the cache.
type Feed struct {
	config  appconfig.FeedConfig
	cache   *Cache
	source  SymbolSource
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	connMu     sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	connected  bool
}

func NewFeed(cfg appconfig.FeedConfig, cache *Cache, source SymbolSource) *Feed {
	return &Feed{
		config:     cfg,
		cache:      cache,
		source:     source,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
		subscribed: make(map[string]bool),
	}
}

// Start launches the stream worker and the subscription sync worker.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("feed").WithFields(logger.Fields{"operation": "Start"})

	if !f.config.Enabled {
		log.Warn("quote feed is disabled")
		return fmt.Errorf("quote feed is disabled")
	}

	log.WithFields(logger.Fields{"endpoint": f.config.Endpoint}).Info("starting quote feed")

	f.wg.Add(2)
	go f.stream()
	go f.syncSubscriptions()

	log.Info("quote feed started successfully")
	return nil
}

// Stop terminates the websocket connection and waits for workers to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.closeConn()

	f.log.WithComponent("feed").Info("stopping quote feed")
	f.wg.Wait()
	f.log.WithComponent("feed").Info("quote feed stopped")
}

// Connected reports whether the vendor connection is currently healthy.
func (f *Feed) Connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.connected
}

func (f *Feed) stream() {
	defer f.wg.Done()

	log := f.log.WithComponent("feed").WithFields(logger.Fields{"worker": "stream"})

	for {
		if f.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.config.Endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to quote vendor")
			f.sleep(f.config.ReconnectDelay)
			continue
		}

		f.connMu.Lock()
		f.conn = conn
		f.connected = true
		// Force a full resubscribe on the fresh connection.
		f.subscribed = make(map[string]bool)
		f.connMu.Unlock()

		log.Info("connected to quote vendor")

		f.readLoop(conn, log)

		f.connMu.Lock()
		f.connected = false
		f.conn = nil
		f.connMu.Unlock()

		if f.ctx.Err() != nil {
			return
		}
		log.Warn("quote vendor disconnected, reconnecting")
		f.sleep(f.config.ReconnectDelay)
	}
}

// readLoop consumes quotes until the connection breaks or the heartbeat
// deadline passes without any inbound message.
func (f *Feed) readLoop(conn *websocket.Conn, log *logger.Entry) {
	defer conn.Close()

	for {
		if f.ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(f.config.HeartbeatTimeout)); err != nil {
			log.WithError(err).Warn("failed to set read deadline")
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Warn("quote vendor read failed")
			return
		}

		var msg vendorMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.WithError(err).Warn("failed to decode vendor message")
			continue
		}

		switch msg.Type {
		case "quote":
			if msg.Symbol == "" {
				continue
			}
			f.cache.Update(msg.Symbol, msg.Price)
			logger.IncrementQuote(len(payload))
		case "heartbeat":
			// The read deadline reset above is the heartbeat handling.
		default:
			log.WithFields(logger.Fields{"type": msg.Type}).Debug("ignoring vendor message")
		}
	}
}

// syncSubscriptions periodically diffs the wanted symbol set against the
// current subscriptions and sends subscribe/unsubscribe messages.
func (f *Feed) syncSubscriptions() {
	defer f.wg.Done()

	log := f.log.WithComponent("feed").WithFields(logger.Fields{"worker": "subscriptions"})

	ticker := time.NewTicker(f.config.ReconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			symbols, err := f.source.ActiveSymbols(f.ctx)
			if err != nil {
				log.WithError(err).Warn("failed to list active symbols")
				continue
			}
			if err := f.applySubscriptions(symbols); err != nil {
				log.WithError(err).Warn("failed to update subscriptions")
			}
		}
	}
}

func (f *Feed) applySubscriptions(wanted []string) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return nil
	}

	wantedSet := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		wantedSet[s] = true
	}

	add, remove := diffSymbols(f.subscribed, wantedSet)

	if len(add) > 0 {
		if err := f.writeJSON(subscribeMessage{Type: "subscribe", Symbols: add}); err != nil {
			return err
		}
		for _, s := range add {
			f.subscribed[s] = true
		}
	}
	if len(remove) > 0 {
		if err := f.writeJSON(subscribeMessage{Type: "unsubscribe", Symbols: remove}); err != nil {
			return err
		}
		for _, s := range remove {
			delete(f.subscribed, s)
		}
	}
	return nil
}

// writeJSON assumes connMu is held.
func (f *Feed) writeJSON(v interface{}) error {
	if err := f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout)); err != nil {
		return err
	}
	return f.conn.WriteJSON(v)
}

func diffSymbols(current, wanted map[string]bool) (add, remove []string) {
	for s := range wanted {
		if !current[s] {
			add = append(add, s)
		}
	}
	for s := range current {
		if !wanted[s] {
			remove = append(remove, s)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

func (f *Feed) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
}

func (f *Feed) sleep(d time.Duration) {
	select {
	case <-f.ctx.Done():
	case <-time.After(d):
	}
}

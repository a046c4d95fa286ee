package watcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/feed"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
	"github.com/WeiXinbang/FuturesCloudSentinel/protocol"
	"github.com/WeiXinbang/FuturesCloudSentinel/store"
)

// Session is the push channel back to a connected client. The watcher
// never reads from it.
type Session interface {
	ID() string
	Account() string
	Push(payload []byte) error
}

// Watcher polls one account's active orders, fires triggers and keeps
// redelivering unacknowledged pushes. A new login for the same account
// rebinds the session instead of starting a second watcher.
type Watcher struct {
	account  string
	config   appconfig.WatcherConfig
	store    store.Store
	cache    *feed.Cache
	triggers chan<- models.TriggerEvent
	log      *logger.Entry
	now      func() time.Time

	sessionMu sync.RWMutex
	session   Session

	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcher(account string, cfg appconfig.WatcherConfig, st store.Store, cache *feed.Cache, triggers chan<- models.TriggerEvent, session Session) *Watcher {
	return &Watcher{
		account:  account,
		config:   cfg,
		store:    st,
		cache:    cache,
		triggers: triggers,
		session:  session,
		log:      logger.GetLogger().WithComponent("watcher").WithFields(logger.Fields{"account": account}),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (w *Watcher) start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

func (w *Watcher) stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) rebind(session Session) {
	w.sessionMu.Lock()
	old := w.session
	w.session = session
	w.sessionMu.Unlock()
	if old != nil && old.ID() != session.ID() {
		w.log.WithFields(logger.Fields{"old_session": old.ID(), "new_session": session.ID()}).Info("rebound watcher to new session")
	}
}

func (w *Watcher) sessionID() string {
	w.sessionMu.RLock()
	defer w.sessionMu.RUnlock()
	if w.session == nil {
		return ""
	}
	return w.session.ID()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	w.log.Info("watcher started")
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one evaluation pass followed by a redelivery pass.
func (w *Watcher) tick(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, w.config.StoreTimeout)
	defer cancel()

	orders, err := w.store.ListActiveOrders(opCtx, w.account)
	if err != nil {
		w.log.WithError(err).Warn("failed to list active orders")
		return
	}

	now := w.now()
	for i := range orders {
		order := &orders[i]
		quote, haveQuote := w.cache.Get(order.Symbol)
		reason, fire := Evaluate(order, quote, haveQuote, now)
		if !fire {
			continue
		}
		w.fire(opCtx, order, quote, reason, now)
	}

	w.redeliver(opCtx)
}

// fire flips the order and enqueues exactly one delivery. Losing the
// status race means another path already fired this order.
func (w *Watcher) fire(ctx context.Context, order *models.AlertOrder, quote models.Quote, reason string, now time.Time) {
	won, err := w.store.MarkTriggered(ctx, order.OrderID)
	if err != nil {
		w.log.WithError(err).WithFields(logger.Fields{"order_id": order.OrderID}).Error("failed to mark order triggered")
		return
	}
	if !won {
		return
	}

	evt := models.TriggerEvent{
		AlertID:     uuid.NewString(),
		OrderID:     order.OrderID,
		Account:     order.Account,
		Symbol:      order.Symbol,
		Kind:        order.Kind,
		Reason:      reason,
		TriggeredAt: now,
	}
	if order.Kind == models.KindPrice {
		evt.Price = quote.Price
	}

	push := protocol.Push{
		Type:    protocol.PushAlertTriggered,
		AlertID: evt.AlertID,
		OrderID: order.OrderID,
		Symbol:  order.Symbol,
		Kind:    order.Kind,
		Reason:  reason,
		TS:      now.Unix(),
	}
	switch order.Kind {
	case models.KindPrice:
		value := quote.Price
		push.TriggerValue = &value
	case models.KindTime:
		push.TriggerTime = order.TriggerTime
	}
	payload, err := json.Marshal(push)
	if err != nil {
		w.log.WithError(err).Error("failed to marshal push")
		return
	}

	delivery := &models.Delivery{
		AlertID: evt.AlertID,
		Account: order.Account,
		Payload: payload,
		Status:  models.DeliveryPending,
	}
	if err := w.store.CreateDelivery(ctx, delivery); err != nil {
		w.log.WithError(err).WithFields(logger.Fields{"alert_id": evt.AlertID}).Error("failed to enqueue delivery")
		return
	}

	logger.IncrementTrigger()
	w.log.WithFields(logger.Fields{
		"order_id": order.OrderID,
		"alert_id": evt.AlertID,
		"symbol":   order.Symbol,
		"reason":   reason,
	}).Info("alert triggered")

	select {
	case w.triggers <- evt:
	default:
		w.log.Warn("trigger channel full, dropping archive event")
	}
}

// redeliver pushes every pending delivery to the bound session. Deliveries
// stay pending until an alert_ack arrives, so a dropped push is retried on
// the next tick.
func (w *Watcher) redeliver(ctx context.Context) {
	w.sessionMu.RLock()
	session := w.session
	w.sessionMu.RUnlock()
	if session == nil {
		return
	}

	pending, err := w.store.PendingDeliveries(ctx, w.account)
	if err != nil {
		w.log.WithError(err).Warn("failed to list pending deliveries")
		return
	}

	for _, d := range pending {
		if err := session.Push(d.Payload); err != nil {
			w.log.WithError(err).WithFields(logger.Fields{"alert_id": d.AlertID}).Warn("push failed")
			return
		}
		logger.IncrementPush(len(d.Payload))
		if err := w.store.MarkDeliveryAttempt(ctx, d.AlertID); err != nil {
			w.log.WithError(err).Warn("failed to record delivery attempt")
		}
	}
}

package watcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/feed"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
	"github.com/WeiXinbang/FuturesCloudSentinel/protocol"
	"github.com/WeiXinbang/FuturesCloudSentinel/store"
)

func floatPtr(v float64) *float64 { return &v }

func TestEvaluatePrice(t *testing.T) {
	quote := models.Quote{Symbol: "IF2412", Price: 4100}

	tests := []struct {
		name       string
		order      models.AlertOrder
		haveQuote  bool
		wantReason string
		wantFire   bool
	}{
		{
			name:       "max bound crossed",
			order:      models.AlertOrder{Kind: models.KindPrice, Status: models.StatusActive, MaxPrice: floatPtr(4100)},
			haveQuote:  true,
			wantReason: models.ReasonMaxPrice,
			wantFire:   true,
		},
		{
			name:      "max bound not reached",
			order:     models.AlertOrder{Kind: models.KindPrice, Status: models.StatusActive, MaxPrice: floatPtr(4200)},
			haveQuote: true,
		},
		{
			name:       "min bound crossed",
			order:      models.AlertOrder{Kind: models.KindPrice, Status: models.StatusActive, MinPrice: floatPtr(4100)},
			haveQuote:  true,
			wantReason: models.ReasonMinPrice,
			wantFire:   true,
		},
		{
			name:      "min bound not reached",
			order:     models.AlertOrder{Kind: models.KindPrice, Status: models.StatusActive, MinPrice: floatPtr(4000)},
			haveQuote: true,
		},
		{
			name:      "no quote available",
			order:     models.AlertOrder{Kind: models.KindPrice, Status: models.StatusActive, MaxPrice: floatPtr(1)},
			haveQuote: false,
		},
		{
			name:      "triggered order stays silent",
			order:     models.AlertOrder{Kind: models.KindPrice, Status: models.StatusTriggered, MaxPrice: floatPtr(1)},
			haveQuote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, fire := Evaluate(&tt.order, quote, tt.haveQuote, time.Now())
			if fire != tt.wantFire {
				t.Fatalf("expected fire=%v, got %v", tt.wantFire, fire)
			}
			if reason != tt.wantReason {
				t.Fatalf("expected reason %q, got %q", tt.wantReason, reason)
			}
		})
	}
}

func TestEvaluateMaxWinsWhenBothBoundsCrossed(t *testing.T) {
	// With max below min, both bounds match any price between them. The
	// max bound is checked first.
	order := models.AlertOrder{
		Kind:     models.KindPrice,
		Status:   models.StatusActive,
		MaxPrice: floatPtr(4000),
		MinPrice: floatPtr(4200),
	}
	reason, fire := Evaluate(&order, models.Quote{Price: 4100}, true, time.Now())
	if !fire || reason != models.ReasonMaxPrice {
		t.Fatalf("expected max_price trigger, got fire=%v reason=%q", fire, reason)
	}
}

func TestEvaluateTime(t *testing.T) {
	now := time.Now()
	past := now.Add(-48 * time.Hour)
	future := now.Add(time.Minute)

	order := models.AlertOrder{Kind: models.KindTime, Status: models.StatusActive, TriggerTime: &future}
	if _, fire := Evaluate(&order, models.Quote{}, false, now); fire {
		t.Fatal("expected future time order not to fire")
	}

	// An order whose trigger time passed long ago still fires.
	order.TriggerTime = &past
	reason, fire := Evaluate(&order, models.Quote{}, false, now)
	if !fire || reason != models.ReasonTime {
		t.Fatalf("expected time trigger, got fire=%v reason=%q", fire, reason)
	}

	exact := now
	order.TriggerTime = &exact
	if _, fire := Evaluate(&order, models.Quote{}, false, now); !fire {
		t.Fatal("expected order to fire exactly at trigger time")
	}
}

type fakeSession struct {
	id      string
	account string
	mu      sync.Mutex
	pushes  [][]byte
}

func (s *fakeSession) ID() string      { return s.id }
func (s *fakeSession) Account() string { return s.account }
func (s *fakeSession) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.pushes = append(s.pushes, cp)
	return nil
}

func (s *fakeSession) pushed() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.pushes))
	copy(out, s.pushes)
	return out
}

func testConfig() appconfig.WatcherConfig {
	return appconfig.WatcherConfig{
		PollInterval: 20 * time.Millisecond,
		StoreTimeout: time.Second,
	}
}

func TestWatcherFiresPriceAlert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	cache := feed.NewCache()
	triggers := make(chan models.TriggerEvent, 8)

	if err := st.CreateOrder(ctx, &models.AlertOrder{
		OrderID:  "ord-1",
		Account:  "alice",
		Symbol:   "IF2412",
		Kind:     models.KindPrice,
		MaxPrice: floatPtr(4100),
		Status:   models.StatusActive,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	cache.Update("IF2412", 4150)

	reg := NewRegistry(testConfig(), st, cache, triggers)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("start registry: %v", err)
	}
	defer reg.Stop()

	session := &fakeSession{id: "s1", account: "alice"}
	if err := reg.Attach(session); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var evt models.TriggerEvent
	select {
	case evt = <-triggers:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger event did not arrive")
	}
	if evt.OrderID != "ord-1" || evt.Reason != models.ReasonMaxPrice || evt.Price != 4150 {
		t.Fatalf("unexpected trigger event: %+v", evt)
	}

	// Order must now be triggered and stay that way.
	order, err := st.GetOrder(ctx, "alice", "ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != models.StatusTriggered {
		t.Fatalf("expected triggered status, got %s", order.Status)
	}

	// The push reaches the session and is redelivered until acked.
	deadline := time.Now().Add(2 * time.Second)
	for len(session.pushed()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	pushes := session.pushed()
	if len(pushes) < 2 {
		t.Fatalf("expected redelivery of unacked push, got %d pushes", len(pushes))
	}

	var push protocol.Push
	if err := json.Unmarshal(pushes[0], &push); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if push.Type != protocol.PushAlertTriggered || push.AlertID != evt.AlertID {
		t.Fatalf("unexpected push: %+v", push)
	}
	if push.OrderID != "ord-1" || push.Symbol != "IF2412" {
		t.Fatalf("push missing trigger fields: %+v", push)
	}
	if push.TriggerValue == nil || *push.TriggerValue != 4150 {
		t.Fatalf("expected trigger_value 4150, got %v", push.TriggerValue)
	}

	// After the ack no further deliveries happen.
	if ok, err := st.AckDelivery(ctx, "alice", evt.AlertID); err != nil || !ok {
		t.Fatalf("ack failed: ok=%v err=%v", ok, err)
	}
	time.Sleep(60 * time.Millisecond)
	count := len(session.pushed())
	time.Sleep(100 * time.Millisecond)
	if got := len(session.pushed()); got != count {
		t.Fatalf("expected pushes to stop after ack, got %d then %d", count, got)
	}
}

func TestWatcherTimeAlertWithoutQuotes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	triggers := make(chan models.TriggerEvent, 8)

	past := time.Now().Add(-time.Hour)
	if err := st.CreateOrder(ctx, &models.AlertOrder{
		OrderID:     "ord-t",
		Account:     "alice",
		Symbol:      "IF2412",
		Kind:        models.KindTime,
		TriggerTime: &past,
		Status:      models.StatusActive,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	reg := NewRegistry(testConfig(), st, feed.NewCache(), triggers)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("start registry: %v", err)
	}
	defer reg.Stop()

	if err := reg.Attach(&fakeSession{id: "s1", account: "alice"}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	select {
	case evt := <-triggers:
		if evt.Reason != models.ReasonTime {
			t.Fatalf("expected time reason, got %q", evt.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("time trigger did not arrive")
	}
}

func TestRegistrySingleWatcherPerAccount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	reg := NewRegistry(testConfig(), st, feed.NewCache(), make(chan models.TriggerEvent, 1))
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("start registry: %v", err)
	}
	defer reg.Stop()

	first := &fakeSession{id: "s1", account: "alice"}
	second := &fakeSession{id: "s2", account: "alice"}

	if err := reg.Attach(first); err != nil {
		t.Fatalf("attach first: %v", err)
	}
	if err := reg.Attach(second); err != nil {
		t.Fatalf("attach second: %v", err)
	}
	if got := reg.Count(); got != 1 {
		t.Fatalf("expected one watcher for the account, got %d", got)
	}

	// The stale session's disconnect must not stop the rebound watcher.
	reg.Detach("alice", first.id)
	if got := reg.Count(); got != 1 {
		t.Fatalf("expected watcher to survive stale detach, got %d", got)
	}

	reg.Detach("alice", second.id)
	if got := reg.Count(); got != 0 {
		t.Fatalf("expected watcher to stop on current detach, got %d", got)
	}
}

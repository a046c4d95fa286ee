package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateUser(ctx, "alice", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, "alice", "hash2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate account, got %v", err)
	}

	user, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.PasswordHash != "hash" {
		t.Errorf("unexpected password hash %q", user.PasswordHash)
	}

	if err := s.SetEmail(ctx, "alice", "alice@example.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}
	user, _ = s.GetUser(ctx, "alice")
	if user.Email != "alice@example.com" {
		t.Errorf("email not persisted, got %q", user.Email)
	}

	if _, err := s.GetUser(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if err := s.SetEmail(ctx, "bob", "x@y.z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound setting email for unknown user, got %v", err)
	}
}

func TestOrderOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	order := &models.AlertOrder{
		OrderID:  "ord-1",
		Account:  "alice",
		Symbol:   "IF2412",
		Kind:     models.KindPrice,
		MaxPrice: floatPtr(4100),
		Status:   models.StatusActive,
	}
	if err := s.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Another account must not see or touch alice's order.
	if _, err := s.GetOrder(ctx, "bob", "ord-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign order, got %v", err)
	}
	if err := s.DeleteOrder(ctx, "bob", "ord-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting foreign order, got %v", err)
	}

	got, err := s.GetOrder(ctx, "alice", "ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.MaxPrice == nil || *got.MaxPrice != 4100 {
		t.Errorf("unexpected max price %v", got.MaxPrice)
	}

	if err := s.DeleteOrder(ctx, "alice", "ord-1"); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if _, err := s.GetOrder(ctx, "alice", "ord-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUserState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateUser(ctx, "alice", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	user, _ := s.GetUser(ctx, "alice")
	if user.State != models.UserEnabled {
		t.Fatalf("new users start enabled, got %q", user.State)
	}

	if err := s.SetUserState(ctx, "alice", models.UserDisabled); err != nil {
		t.Fatalf("set state: %v", err)
	}
	user, _ = s.GetUser(ctx, "alice")
	if user.State != models.UserDisabled {
		t.Fatalf("state not persisted, got %q", user.State)
	}

	if err := s.SetUserState(ctx, "bob", models.UserDisabled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestListOrdersStatusFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	orders := []*models.AlertOrder{
		{OrderID: "o1", Account: "alice", Symbol: "rb2310", Kind: models.KindPrice, MaxPrice: floatPtr(3900), Status: models.StatusActive},
		{OrderID: "o2", Account: "alice", Symbol: "IF2412", Kind: models.KindPrice, MinPrice: floatPtr(4000), Status: models.StatusTriggered},
		{OrderID: "o3", Account: "bob", Symbol: "IF2412", Kind: models.KindPrice, MaxPrice: floatPtr(1), Status: models.StatusActive},
	}
	for _, o := range orders {
		if err := s.CreateOrder(ctx, o); err != nil {
			t.Fatalf("create order %s: %v", o.OrderID, err)
		}
	}

	active, err := s.ListOrders(ctx, "alice", models.StatusActive)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].OrderID != "o1" {
		t.Fatalf("unexpected active orders: %+v", active)
	}

	triggered, _ := s.ListOrders(ctx, "alice", models.StatusTriggered)
	if len(triggered) != 1 || triggered[0].OrderID != "o2" {
		t.Fatalf("unexpected triggered orders: %+v", triggered)
	}

	// "" and "all" both mean everything the account owns.
	if all, _ := s.ListOrders(ctx, "alice", "all"); len(all) != 2 {
		t.Fatalf("expected 2 orders for all, got %d", len(all))
	}
	if everything, _ := s.ListOrders(ctx, "alice", ""); len(everything) != 2 {
		t.Fatalf("expected 2 orders for empty filter, got %d", len(everything))
	}
}

func TestMarkTriggeredIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	order := &models.AlertOrder{
		OrderID:  "ord-1",
		Account:  "alice",
		Symbol:   "IF2412",
		Kind:     models.KindPrice,
		MaxPrice: floatPtr(4100),
		Status:   models.StatusActive,
	}
	if err := s.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	won, err := s.MarkTriggered(ctx, "ord-1")
	if err != nil || !won {
		t.Fatalf("expected first MarkTriggered to win, got won=%v err=%v", won, err)
	}
	won, err = s.MarkTriggered(ctx, "ord-1")
	if err != nil || won {
		t.Fatalf("expected second MarkTriggered to lose, got won=%v err=%v", won, err)
	}

	got, _ := s.GetOrder(ctx, "alice", "ord-1")
	if got.Status != models.StatusTriggered {
		t.Errorf("expected status triggered, got %s", got.Status)
	}

	active, _ := s.ListActiveOrders(ctx, "alice")
	if len(active) != 0 {
		t.Errorf("expected no active orders, got %d", len(active))
	}
}

func TestActiveSymbols(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now().Add(time.Hour)
	orders := []*models.AlertOrder{
		{OrderID: "o1", Account: "alice", Symbol: "IF2412", Kind: models.KindPrice, MaxPrice: floatPtr(1), Status: models.StatusActive},
		{OrderID: "o2", Account: "bob", Symbol: "IF2412", Kind: models.KindPrice, MinPrice: floatPtr(1), Status: models.StatusActive},
		{OrderID: "o3", Account: "bob", Symbol: "AU2502", Kind: models.KindPrice, MaxPrice: floatPtr(1), Status: models.StatusTriggered},
		{OrderID: "o4", Account: "bob", Symbol: "CU2501", Kind: models.KindTime, TriggerTime: &now, Status: models.StatusActive},
	}
	for _, o := range orders {
		if err := s.CreateOrder(ctx, o); err != nil {
			t.Fatalf("create order %s: %v", o.OrderID, err)
		}
	}

	symbols, err := s.ActiveSymbols(ctx)
	if err != nil {
		t.Fatalf("active symbols: %v", err)
	}
	// Triggered orders and time orders contribute no symbols.
	if len(symbols) != 1 || symbols[0] != "IF2412" {
		t.Fatalf("expected [IF2412], got %v", symbols)
	}
}

func TestDeliveryAck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	d := &models.Delivery{
		AlertID: "alert-1",
		Account: "alice",
		Payload: []byte(`{}`),
		Status:  models.DeliveryPending,
	}
	if err := s.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	pending, err := s.PendingDeliveries(ctx, "alice")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending delivery, got %d err=%v", len(pending), err)
	}

	if err := s.MarkDeliveryAttempt(ctx, "alert-1"); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}

	// Ack by the wrong account fails.
	if ok, _ := s.AckDelivery(ctx, "bob", "alert-1"); ok {
		t.Fatal("expected ack by foreign account to fail")
	}

	ok, err := s.AckDelivery(ctx, "alice", "alert-1")
	if err != nil || !ok {
		t.Fatalf("expected ack to succeed, got ok=%v err=%v", ok, err)
	}
	// Second ack reports false.
	if ok, _ := s.AckDelivery(ctx, "alice", "alert-1"); ok {
		t.Fatal("expected duplicate ack to report false")
	}

	pending, _ = s.PendingDeliveries(ctx, "alice")
	if len(pending) != 0 {
		t.Fatalf("expected no pending deliveries after ack, got %d", len(pending))
	}
}

package store

import (
	"context"
	"errors"

	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

var (
	// ErrNotFound means the requested row does not exist or is not owned
	// by the requesting account.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a uniqueness constraint was violated.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable means the backing database rejected the operation.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store persists users, alert orders and pending push deliveries.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateUser(ctx context.Context, account, passwordHash string) error
	GetUser(ctx context.Context, account string) (*models.User, error)
	SetEmail(ctx context.Context, account, email string) error
	SetUserState(ctx context.Context, account, state string) error

	CreateOrder(ctx context.Context, order *models.AlertOrder) error
	GetOrder(ctx context.Context, account, orderID string) (*models.AlertOrder, error)
	UpdateOrder(ctx context.Context, order *models.AlertOrder) error
	DeleteOrder(ctx context.Context, account, orderID string) error

	// ListOrders returns the account's orders, optionally narrowed to one
	// status. An empty filter or "all" returns everything.
	ListOrders(ctx context.Context, account, statusFilter string) ([]models.AlertOrder, error)
	ListActiveOrders(ctx context.Context, account string) ([]models.AlertOrder, error)

	// MarkTriggered flips an active order to triggered. It reports false
	// when the order was already triggered or does not exist, so exactly
	// one caller wins a concurrent race.
	MarkTriggered(ctx context.Context, orderID string) (bool, error)

	// ActiveSymbols lists the distinct symbols referenced by active
	// price orders, for feed subscription management.
	ActiveSymbols(ctx context.Context) ([]string, error)

	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	PendingDeliveries(ctx context.Context, account string) ([]models.Delivery, error)
	MarkDeliveryAttempt(ctx context.Context, alertID string) error
	AckDelivery(ctx context.Context, account, alertID string) (bool, error)

	Close() error
}

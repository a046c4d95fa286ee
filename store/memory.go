package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	orders     map[string]*models.AlertOrder // keyed by order ID
	deliveries map[string]*models.Delivery   // keyed by alert ID
	nextID     uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*models.User),
		orders:     make(map[string]*models.AlertOrder),
		deliveries: make(map[string]*models.Delivery),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, account, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[account]; ok {
		return ErrConflict
	}
	s.nextID++
	now := time.Now()
	s.users[account] = &models.User{
		ID:           s.nextID,
		Account:      account,
		PasswordHash: passwordHash,
		State:        models.UserEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, account string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[account]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) SetEmail(ctx context.Context, account, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[account]
	if !ok {
		return ErrNotFound
	}
	user.Email = email
	user.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetUserState(ctx context.Context, account, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[account]
	if !ok {
		return ErrNotFound
	}
	user.State = state
	user.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.AlertOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.OrderID]; ok {
		return ErrConflict
	}
	s.nextID++
	order.ID = s.nextID
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	copied := *order
	s.orders[order.OrderID] = &copied
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, account, orderID string) (*models.AlertOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok || order.Account != account {
		return nil, ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, order *models.AlertOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[order.OrderID]
	if !ok || existing.Account != order.Account {
		return ErrNotFound
	}
	existing.Symbol = order.Symbol
	existing.Kind = order.Kind
	existing.MaxPrice = order.MaxPrice
	existing.MinPrice = order.MinPrice
	existing.TriggerTime = order.TriggerTime
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, account, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Account != account {
		return ErrNotFound
	}
	delete(s.orders, orderID)
	return nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, account, statusFilter string) ([]models.AlertOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []models.AlertOrder
	for _, order := range s.orders {
		if order.Account != account {
			continue
		}
		if statusFilter != "" && statusFilter != "all" && order.Status != statusFilter {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) ListActiveOrders(ctx context.Context, account string) ([]models.AlertOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []models.AlertOrder
	for _, order := range s.orders {
		if order.Account == account && order.Status == models.StatusActive {
			orders = append(orders, *order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) MarkTriggered(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Status != models.StatusActive {
		return false, nil
	}
	order.Status = models.StatusTriggered
	order.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, order := range s.orders {
		if order.Status == models.StatusActive && order.Kind == models.KindPrice {
			seen[order.Symbol] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *MemoryStore) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[delivery.AlertID]; ok {
		return ErrConflict
	}
	s.nextID++
	delivery.ID = s.nextID
	now := time.Now()
	delivery.CreatedAt = now
	delivery.UpdatedAt = now
	copied := *delivery
	s.deliveries[delivery.AlertID] = &copied
	return nil
}

func (s *MemoryStore) PendingDeliveries(ctx context.Context, account string) ([]models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var deliveries []models.Delivery
	for _, d := range s.deliveries {
		if d.Account == account && d.Status == models.DeliveryPending {
			deliveries = append(deliveries, *d)
		}
	}
	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt) })
	return deliveries, nil
}

func (s *MemoryStore) MarkDeliveryAttempt(ctx context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[alertID]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AckDelivery(ctx context.Context, account, alertID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[alertID]
	if !ok || d.Account != account || d.Status != models.DeliveryPending {
		return false, nil
	}
	d.Status = models.DeliveryAcked
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

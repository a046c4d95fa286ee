package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

// SQLStore is the postgres-backed Store built on gorm.
type SQLStore struct {
	db  *gorm.DB
	log *logger.Entry
}

// OpenSQL connects to postgres, runs migrations and returns the store.
func OpenSQL(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.AlertOrder{}, &models.Delivery{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStore{
		db:  db,
		log: logger.GetLogger().WithComponent("store"),
	}, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *SQLStore) CreateUser(ctx context.Context, account, passwordHash string) error {
	user := models.User{Account: account, PasswordHash: passwordHash, State: models.UserEnabled}
	return translate(s.db.WithContext(ctx).Create(&user).Error)
}

func (s *SQLStore) GetUser(ctx context.Context, account string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("account = ?", account).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *SQLStore) SetEmail(ctx context.Context, account, email string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("account = ?", account).
		Update("email", email)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetUserState(ctx context.Context, account, state string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("account = ?", account).
		Update("state", state)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateOrder(ctx context.Context, order *models.AlertOrder) error {
	return translate(s.db.WithContext(ctx).Create(order).Error)
}

func (s *SQLStore) GetOrder(ctx context.Context, account, orderID string) (*models.AlertOrder, error) {
	var order models.AlertOrder
	err := s.db.WithContext(ctx).
		Where("account = ? AND order_id = ?", account, orderID).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (s *SQLStore) UpdateOrder(ctx context.Context, order *models.AlertOrder) error {
	res := s.db.WithContext(ctx).Model(&models.AlertOrder{}).
		Where("account = ? AND order_id = ?", order.Account, order.OrderID).
		Updates(map[string]interface{}{
			"symbol":       order.Symbol,
			"kind":         order.Kind,
			"max_price":    order.MaxPrice,
			"min_price":    order.MinPrice,
			"trigger_time": order.TriggerTime,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteOrder(ctx context.Context, account, orderID string) error {
	res := s.db.WithContext(ctx).
		Where("account = ? AND order_id = ?", account, orderID).
		Delete(&models.AlertOrder{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListOrders(ctx context.Context, account, statusFilter string) ([]models.AlertOrder, error) {
	q := s.db.WithContext(ctx).Where("account = ?", account)
	if statusFilter != "" && statusFilter != "all" {
		q = q.Where("status = ?", statusFilter)
	}
	var orders []models.AlertOrder
	if err := q.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

func (s *SQLStore) ListActiveOrders(ctx context.Context, account string) ([]models.AlertOrder, error) {
	var orders []models.AlertOrder
	err := s.db.WithContext(ctx).
		Where("account = ? AND status = ?", account, models.StatusActive).
		Find(&orders).Error
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

func (s *SQLStore) MarkTriggered(ctx context.Context, orderID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.AlertOrder{}).
		Where("order_id = ? AND status = ?", orderID, models.StatusActive).
		Update("status", models.StatusTriggered)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.AlertOrder{}).
		Where("status = ? AND kind = ?", models.StatusActive, models.KindPrice).
		Distinct("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, translate(err)
	}
	return symbols, nil
}

func (s *SQLStore) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	return translate(s.db.WithContext(ctx).Create(delivery).Error)
}

func (s *SQLStore) PendingDeliveries(ctx context.Context, account string) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := s.db.WithContext(ctx).
		Where("account = ? AND status = ?", account, models.DeliveryPending).
		Order("created_at ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, translate(err)
	}
	return deliveries, nil
}

func (s *SQLStore) MarkDeliveryAttempt(ctx context.Context, alertID string) error {
	return translate(s.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("alert_id = ?", alertID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error)
}

func (s *SQLStore) AckDelivery(ctx context.Context, account, alertID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("account = ? AND alert_id = ? AND status = ?", account, alertID, models.DeliveryPending).
		Update("status", models.DeliveryAcked)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.log.Info("closing database connection")
	return sqlDB.Close()
}

// Ping verifies the connection is alive, used during startup.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

package models

import "time"

// Alert kinds.
const (
	KindPrice = "price"
	KindTime  = "time"
)

// Alert order lifecycle. The transition is one way: an order that has
// triggered never becomes active again.
const (
	StatusActive    = "active"
	StatusTriggered = "triggered"
)

// User account states. A disabled account keeps its data but cannot log in.
const (
	UserEnabled  = "enabled"
	UserDisabled = "disabled"
)

// Delivery lifecycle for push notifications.
const (
	DeliveryPending = "pending"
	DeliveryAcked   = "acked"
)

// Trigger reasons recorded on a fired alert.
const (
	ReasonMaxPrice = "max_price"
	ReasonMinPrice = "min_price"
	ReasonTime     = "time"
)

// User is a registered account. PasswordHash holds a bcrypt digest, never
// the plain password.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Account      string    `gorm:"uniqueIndex;size:64;not null" json:"account"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	Email        string    `gorm:"size:128" json:"email,omitempty"`
	State        string    `gorm:"size:16;not null;default:enabled" json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AlertOrder is a standing price or time alert owned by an account.
// MaxPrice and MinPrice are pointers so that an unset bound is
// distinguishable from a bound of zero.
type AlertOrder struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	OrderID     string     `gorm:"uniqueIndex;size:36;not null" json:"order_id"`
	Account     string     `gorm:"index;size:64;not null" json:"account"`
	Symbol      string     `gorm:"index;size:32;not null" json:"symbol"`
	Kind        string     `gorm:"size:16;not null" json:"kind"`
	MaxPrice    *float64   `json:"max_price,omitempty"`
	MinPrice    *float64   `json:"min_price,omitempty"`
	TriggerTime *time.Time `json:"trigger_time,omitempty"`
	Status      string     `gorm:"index;size:16;not null" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Quote is the latest observed price for a symbol.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Received time.Time `json:"received"`
}

// TriggerEvent describes one alert firing. It is the payload of the
// push notification and the unit archived to cold storage.
type TriggerEvent struct {
	AlertID     string    `json:"alert_id"`
	OrderID     string    `json:"order_id"`
	Account     string    `json:"account"`
	Symbol      string    `json:"symbol"`
	Kind        string    `json:"kind"`
	Reason      string    `json:"reason"`
	Price       float64   `json:"price,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Delivery is a pending push notification. It stays pending, and is
// redelivered on each watcher tick, until the client acknowledges the
// alert ID.
type Delivery struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	AlertID   string    `gorm:"uniqueIndex;size:36;not null" json:"alert_id"`
	Account   string    `gorm:"index;size:64;not null" json:"account"`
	Payload   []byte    `json:"-"`
	Status    string    `gorm:"index;size:16;not null" json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

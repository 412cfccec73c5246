// Package store implements the instance registry on top of gorm/sqlite —
// the "embedded relational store" spec.md §1 treats as an external
// collaborator with the schema fixed in spec.md §6.
package store

import "time"

// Status values — spec.md §3.
const (
	StatusRegistered  = "registered"
	StatusRunning     = "running"
	StatusActive      = "active"
	StatusConnected   = "connected"
	StatusDisconnected = "disconnected"
	StatusWaitingQR   = "waiting_qr"
	StatusStopped     = "stopped"
	StatusError       = "error"
)

// Instance is the persisted record — spec.md §3 / §6.
type Instance struct {
	ID                  uint   `gorm:"primarykey"`
	Hash                string `gorm:"uniqueIndex;size:16;not null"`
	PhoneNumber         string `gorm:"uniqueIndex;not null"`
	Name                string
	Status              string `gorm:"index;not null"`
	ContainerID         string
	Port                int `gorm:"uniqueIndex:idx_live_port,where:port IS NOT NULL"`
	WebhookURL          string
	WebhookSecret       string
	StatusWebhookURL    string
	StatusWebhookSecret string
	RetryCount          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastSeen            *time.Time
}

func (Instance) TableName() string { return "instances" }

// RegisterInput is the payload accepted by Register — spec.md §6 POST /api/devices.
type RegisterInput struct {
	PhoneNumber         string
	Name                string
	WebhookURL          string
	WebhookSecret       string
	StatusWebhookURL    string
	StatusWebhookSecret string
}

// UpdateInput is the whitelisted mutable field set — spec.md §4.1.
type UpdateInput struct {
	Status              *string
	ContainerID         *string
	Port                *int
	Name                *string
	WebhookURL          *string
	WebhookSecret       *string
	StatusWebhookURL    *string
	StatusWebhookSecret *string
	LastSeen            *time.Time
}

// ListFilter — spec.md §4.1 list().
type ListFilter struct {
	Status *string
	Limit  int
	Offset int
}

// Stats — spec.md §4.1 stats().
type Stats struct {
	ByStatus map[string]int64
	Total    int64
}

package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/ports"
)

// Store is the instance registry — spec.md §4.1.
type Store struct {
	db    *gorm.DB
	ports *ports.Allocator
}

// Open opens (creating if needed) the sqlite-backed store at path and seeds
// the port allocator from every instance with a non-null port — spec.md §4.2.
func Open(path string, portBase, portMax int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.AutoMigrate(&Instance{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	var withPort []Instance
	if err := db.Where("port IS NOT NULL AND port > 0").Find(&withPort).Error; err != nil {
		return nil, fmt.Errorf("store: seed ports: %w", err)
	}
	seed := make([]int, 0, len(withPort))
	for _, i := range withPort {
		seed = append(seed, i.Port)
	}

	return &Store{db: db, ports: ports.New(portBase, portMax, seed)}, nil
}

// Ports exposes the allocator so the supervisor's recovery pass and tests
// can inspect it — spec.md invariant P1/P2.
func (s *Store) Ports() *ports.Allocator { return s.ports }

func generateHash() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Register creates an instance with a freshly generated hash and an
// allocated port — spec.md §4.1. Rolls back the port allocation if the
// insert fails (e.g. duplicate phone number).
func (s *Store) Register(input RegisterInput) (*Instance, error) {
	var existing Instance
	err := s.db.Where("phone_number = ?", input.PhoneNumber).First(&existing).Error
	if err == nil {
		return nil, apperr.InstanceExists.WithMessage("phone number already registered")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal.WithCause(err)
	}

	hash, err := generateHash()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	port, err := s.ports.Allocate()
	if err != nil {
		return nil, apperr.PortsExhausted.WithCause(err)
	}

	now := time.Now()
	rec := Instance{
		Hash:                hash,
		PhoneNumber:         input.PhoneNumber,
		Name:                input.Name,
		Status:              StatusRegistered,
		Port:                port,
		WebhookURL:          input.WebhookURL,
		WebhookSecret:       input.WebhookSecret,
		StatusWebhookURL:    input.StatusWebhookURL,
		StatusWebhookSecret: input.StatusWebhookSecret,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.db.Create(&rec).Error; err != nil {
		// roll back the port allocation — spec.md §4.1 consistency rule.
		s.ports.Release(port)
		return nil, apperr.Internal.WithCause(err)
	}

	return &rec, nil
}

// FindByHash returns the instance or nil — spec.md §4.1.
func (s *Store) FindByHash(hash string) (*Instance, error) {
	var rec Instance
	err := s.db.Where("hash = ?", hash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &rec, nil
}

// FindByPhone returns the instance or nil — spec.md §4.1.
func (s *Store) FindByPhone(phone string) (*Instance, error) {
	var rec Instance
	err := s.db.Where("phone_number = ?", phone).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &rec, nil
}

// List returns a page of instances ordered by created_at descending — spec.md §4.1.
func (s *Store) List(filter ListFilter) ([]Instance, error) {
	q := s.db.Model(&Instance{}).Order("created_at DESC")
	if filter.Status != nil && *filter.Status != "" {
		q = q.Where("status = ?", *filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q = q.Limit(limit).Offset(filter.Offset)

	var recs []Instance
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return recs, nil
}

// toColumns maps the whitelisted UpdateInput fields to column updates —
// spec.md §4.1.
func toColumns(in UpdateInput) map[string]any {
	cols := map[string]any{"updated_at": time.Now()}
	if in.Status != nil {
		cols["status"] = *in.Status
	}
	if in.ContainerID != nil {
		cols["container_id"] = *in.ContainerID
	}
	if in.Port != nil {
		cols["port"] = *in.Port
	}
	if in.Name != nil {
		cols["name"] = *in.Name
	}
	if in.WebhookURL != nil {
		cols["webhook_url"] = *in.WebhookURL
	}
	if in.WebhookSecret != nil {
		cols["webhook_secret"] = *in.WebhookSecret
	}
	if in.StatusWebhookURL != nil {
		cols["status_webhook_url"] = *in.StatusWebhookURL
	}
	if in.StatusWebhookSecret != nil {
		cols["status_webhook_secret"] = *in.StatusWebhookSecret
	}
	if in.LastSeen != nil {
		cols["last_seen"] = *in.LastSeen
	}
	return cols
}

// Update applies a whitelisted partial update and refreshes updated_at —
// spec.md §4.1, invariant I5.
func (s *Store) Update(hash string, in UpdateInput) (*Instance, error) {
	cols := toColumns(in)
	res := s.db.Model(&Instance{}).Where("hash = ?", hash).Updates(cols)
	if res.Error != nil {
		return nil, apperr.Internal.WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InstanceNotFound
	}
	return s.FindByHash(hash)
}

// Delete removes the record and releases its port — spec.md §4.1, §9 (only
// delete releases the port, stop does not).
func (s *Store) Delete(hash string) (bool, error) {
	rec, err := s.FindByHash(hash)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	res := s.db.Where("hash = ?", hash).Delete(&Instance{})
	if res.Error != nil {
		return false, apperr.Internal.WithCause(res.Error)
	}
	if res.RowsAffected > 0 && rec.Port > 0 {
		s.ports.Release(rec.Port)
	}
	return res.RowsAffected > 0, nil
}

// Stats returns counts by status bucket — spec.md §4.1.
func (s *Store) Stats() (*Stats, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := s.db.Model(&Instance{}).Select("status, count(*) as count").Group("status").Find(&rows).Error; err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	st := &Stats{ByStatus: make(map[string]int64, len(rows))}
	for _, r := range rows {
		st.ByStatus[r.Status] = r.Count
		st.Total += r.Count
	}
	return st, nil
}

// All returns every instance, used by supervisor startup recovery.
func (s *Store) All() ([]Instance, error) {
	var recs []Instance
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return recs, nil
}

// Package cache persists the last replicated notification snapshot so
// consumers have data before the first connect and during a total delivery
// outage. Like the store it mirrors, it is a pure sink: no network calls.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
)

// record is the persisted form of one notification. Metadata is stored as
// JSON text; sqlite has no use for its structure.
type record struct {
	ID        string `gorm:"primaryKey"`
	Type      string
	Status    string
	Title     string
	Message   string
	Metadata  string
	CreatedAt time.Time `gorm:"index"`
}

func (record) TableName() string {
	return "notifications"
}

// counter is a single named integer, used for the unread count.
type counter struct {
	Name  string `gorm:"primaryKey"`
	Value int
}

func (counter) TableName() string {
	return "counters"
}

const unreadCounterName = "unread"

// Cache is a write-through sqlite mirror of the notification store.
type Cache struct {
	db      *gorm.DB
	maxSize int
	logger  *slog.Logger
}

// Open creates or opens the cache database at path. maxSize <= 0 selects the
// store's default cap.
func Open(path string, maxSize int) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = notification.DefaultMaxNotifications
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	gl := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Build()
	}
	if err := db.AutoMigrate(&record{}, &counter{}); err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}

	logger := logging.ForService("cache")
	if logger == nil {
		logger = slog.Default().With("service", "cache")
	}
	return &Cache{db: db, maxSize: maxSize, logger: logger}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load returns the cached snapshot newest first, plus the unread count.
func (c *Cache) Load() ([]*notification.Notification, int, error) {
	var records []record
	if err := c.db.Order("created_at DESC").Limit(c.maxSize).Find(&records).Error; err != nil {
		return nil, 0, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "load").
			Build()
	}

	list := make([]*notification.Notification, 0, len(records))
	for i := range records {
		list = append(list, records[i].toNotification())
	}

	var cnt counter
	err := c.db.First(&cnt, "name = ?", unreadCounterName).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "load-unread").
			Build()
	}
	return list, cnt.Value, nil
}

// Seed replays the cached snapshot into the store. Called once at startup,
// before any delivery path runs.
func (c *Cache) Seed(store *notification.Store) error {
	list, unread, err := c.Load()
	if err != nil {
		return err
	}
	if len(list) == 0 && unread == 0 {
		return nil
	}
	store.SetNotifications(list)
	store.SetUnreadCount(unread)
	c.logger.Info("seeded store from cache", "notifications", len(list), "unread", unread)
	return nil
}

// Mirror consumes store events and writes them through until ctx is
// canceled. Run it on its own goroutine; write failures are logged and never
// affect delivery.
func (c *Cache) Mirror(ctx context.Context, store *notification.Store) {
	id, events := store.Subscribe()
	defer store.Unsubscribe(id)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.apply(store, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) apply(store *notification.Store, ev notification.Event) {
	var err error
	switch ev.Kind {
	case notification.EventSnapshot:
		err = c.replaceAll(store.Notifications())
	case notification.EventAdded, notification.EventUpdated:
		err = c.upsert(ev.Notification)
	case notification.EventUnreadCount:
		err = c.setUnread(ev.UnreadCount)
	case notification.EventStatus:
		// Connection status is ephemeral; nothing to persist.
	}
	if err != nil {
		c.logger.Warn("cache write failed", "kind", ev.Kind, "error", err)
	}
}

// replaceAll swaps the cached set for the given snapshot in one transaction.
func (c *Cache) replaceAll(list []*notification.Notification) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&record{}).Error; err != nil {
			return err
		}
		for _, n := range list {
			if err := tx.Create(toRecord(n)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) upsert(n *notification.Notification) error {
	if n == nil || n.ID == "" {
		return nil
	}
	if err := c.db.Save(toRecord(n)).Error; err != nil {
		return err
	}
	return c.prune()
}

func (c *Cache) setUnread(count int) error {
	return c.db.Save(&counter{Name: unreadCounterName, Value: count}).Error
}

// prune drops the oldest rows beyond the configured cap.
func (c *Cache) prune() error {
	var total int64
	if err := c.db.Model(&record{}).Count(&total).Error; err != nil {
		return err
	}
	if total <= int64(c.maxSize) {
		return nil
	}
	return c.db.Exec(
		"DELETE FROM notifications WHERE id IN (SELECT id FROM notifications ORDER BY created_at ASC LIMIT ?)",
		total-int64(c.maxSize),
	).Error
}

func toRecord(n *notification.Notification) *record {
	meta := ""
	if len(n.Metadata) > 0 {
		if data, err := json.Marshal(n.Metadata); err == nil {
			meta = string(data)
		}
	}
	return &record{
		ID:        n.ID,
		Type:      string(n.Type),
		Status:    string(n.Status),
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  meta,
		CreatedAt: n.CreatedAt,
	}
}

func (r *record) toNotification() *notification.Notification {
	n := &notification.Notification{
		ID:        r.ID,
		Type:      notification.Type(r.Type),
		Status:    notification.Status(r.Status),
		Title:     r.Title,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
	}
	if r.Metadata != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err == nil {
			n.Metadata = meta
		}
	}
	return n
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	dbpkg "ticketbridge.local/projects/bridge/internal/db"
)

var ErrNotFound = errors.New("not found")

const (
	tokenKeyPrefix = "token_"
	linkKeyPrefix  = "link_"

	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = time.Second
)

type blobRow struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (blobRow) TableName() string { return "blob_rows" }

// Store persists keyed JSON blobs: token_{accountId} credentials and
// link_{linkCode} configurations. Writes retry with exponential backoff on
// rate-limit-shaped errors; reads tolerate values wrapped in a
// {"value": ...} envelope as well as bare values.
type Store struct {
	logger         *log.Logger
	db             *gorm.DB
	retryAttempts  int
	retryBaseDelay time.Duration
	now            func() time.Time
}

type Option func(*Store)

// WithRetryBaseDelay shortens the backoff schedule, mainly for tests.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryBaseDelay = d
		}
	}
}

func New(logger *log.Logger, driver, dsn string, opts ...Option) (*Store, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	s := &Store{
		logger:         logger,
		db:             gormDB,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.db.AutoMigrate(&blobRow{}); err != nil {
		return nil, fmt.Errorf("migrate blob store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) getRaw(ctx context.Context, key string) ([]byte, error) {
	var row blobRow
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *Store) setRaw(ctx context.Context, key string, value []byte) error {
	return s.withBackoff(ctx, key, func() error {
		row := blobRow{Key: key, Value: value, UpdatedAt: s.now().UTC()}
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) deleteRaw(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Where("key = ?", key).Delete(&blobRow{})
	if result.Error != nil {
		return fmt.Errorf("delete %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// withBackoff retries fn on rate-limit-shaped failures with the base delay
// doubling between attempts. Other failures surface immediately.
func (s *Store) withBackoff(ctx context.Context, key string, fn func() error) error {
	delay := s.retryBaseDelay
	var err error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) || attempt == s.retryAttempts {
			return err
		}
		s.logger.Printf("rate limited writing key=%s attempt=%d retrying in %s", key, attempt, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "request limit exceeded")
}

// unwrapEnvelope strips a {"value": ...} wrapper when present. The
// underlying store has historically returned both shapes; decoding is
// centralized here so callers only ever see the canonical one.
func unwrapEnvelope(raw []byte) []byte {
	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Value) > 0 {
		return env.Value
	}
	return raw
}

func tokenKey(accountID string) string { return tokenKeyPrefix + accountID }
func linkKey(code string) string       { return linkKeyPrefix + code }

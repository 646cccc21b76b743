package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/infrastructure/config"
)

// LedgerFactory creates the sync ledger based on configuration
type LedgerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LedgerFactoryOption configures a LedgerFactory
type LedgerFactoryOption func(*LedgerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LedgerFactoryOption {
	return func(f *LedgerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the in-memory ledger. Default is true.
func WithInMemoryFallback(allow bool) LedgerFactoryOption {
	return func(f *LedgerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLedgerFactory creates a new factory
func NewLedgerFactory(cfg config.RedisConfig, opts ...LedgerFactoryOption) *LedgerFactory {
	f := &LedgerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisLedger creates a Redis-backed ledger
func (f *LedgerFactory) CreateRedisLedger() (shared.IdempotencyStore, error) {
	l, err := NewRedisLedger(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis ledger: %w", err)
	}
	return l, nil
}

// CreateInMemoryLedger creates an in-memory ledger.
// Its entries are lost on restart, so a re-uploaded file may post again.
func (f *LedgerFactory) CreateInMemoryLedger() shared.IdempotencyStore {
	return NewInMemoryLedger()
}

// CreateLedger returns the Redis ledger when Redis is enabled and reachable,
// otherwise the in-memory ledger if fallback is allowed
func (f *LedgerFactory) CreateLedger() (shared.IdempotencyStore, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory sync ledger")
		return f.CreateInMemoryLedger(), nil
	}

	l, err := f.CreateRedisLedger()
	if err == nil {
		f.logger.Info("using Redis sync ledger",
			zap.String("addr", f.redisConfig.Addr()))
		return l, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for the sync ledger but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory sync ledger. "+
		"Transactions posted before a restart may be posted again.",
		zap.Error(err),
	)
	return f.CreateInMemoryLedger(), nil
}

package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/platform/lock"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Runtime is a connected backend plus the optional Redis and Kafka collaborators.
type Runtime struct {
	Backend  *Backend
	Services *Services
	// Redis is nil when REDIS_ADDR did not answer.
	Redis *redis.Client

	publisher *audit.KafkaPublisher
	logger    *slog.Logger
}

// Connect opens everything a binary needs. Redis is optional: without it bulk
// passes run unlocked and a warning is logged. Kafka is used only when
// configured.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger, opts BackendOptions) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := OpenBackend(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Backend: backend, logger: logger}

	var locker shared.RunLocker
	if client, err := lock.Dial(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, bulk passes run without the run lock", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
	} else {
		rt.Redis = client
		locker = lock.New(client, cfg.LockTTL)
	}

	var publisher audit.Publisher
	if cfg.AuditStreamEnabled() {
		p, err := audit.NewKafkaPublisher(audit.KafkaParams{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaAuditTopic})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.publisher = p
		publisher = p
	}

	rt.Services = NewServices(backend, cfg, ServiceDeps{Locker: locker, Publisher: publisher, Logger: logger})
	return rt, nil
}

// Close releases every handle Connect opened.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			r.logger.Warn("kafka close", slog.Any("error", err))
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	r.Backend.Close()
}

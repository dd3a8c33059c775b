package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	usageKeyPrefix    = "dispatch:usage:"
	cooldownKeyPrefix = "dispatch:cooldown:"
)

// Service is the redis-backed store used by the cooldown requirement and
// the usage counter command.
type Service struct {
	client *redis.Client
	logger *zap.Logger
}

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return &Service{client: client, logger: logger}, nil
}

func (s *Service) Get(ctx context.Context, key string, dest any) error {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.logger.Error("Cache get failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if dest != nil {
		return json.Unmarshal([]byte(value), dest)
	}
	return nil
}

func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		s.logger.Error("Cache set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// CountUsage bumps the per-command invocation counter and returns the new
// total.
func (s *Service) CountUsage(ctx context.Context, command string) (int64, error) {
	total, err := s.client.Incr(ctx, usageKeyPrefix+command).Result()
	if err != nil {
		s.logger.Error("Usage counter failed", zap.String("command", command), zap.Error(err))
		return 0, err
	}
	return total, nil
}

// Usage reads one command's invocation total without bumping it.
func (s *Service) Usage(ctx context.Context, command string) (int64, error) {
	value, err := s.client.Get(ctx, usageKeyPrefix+command).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return value, err
}

// AllowOnce reports whether sender may run command now, arming a cooldown
// window on success. The first caller in a window wins.
func (s *Service) AllowOnce(ctx context.Context, sender, command string, window time.Duration) (bool, error) {
	key := cooldownKeyPrefix + command + ":" + sender
	ok, err := s.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		s.logger.Error("Cooldown check failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return ok, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

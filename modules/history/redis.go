// Package history keeps the most recent execution records of every job in
// Redis lists, one list per job, newest first.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
)

const (
	DefaultPrefix = "jobscheduler:"
	DefaultSize   = 100
)

type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	Size     int64  `mapstructure:"size"`
}

// Record is one finished execution as stored in Redis.
type Record = scheduler.JobExecuted

type Store struct {
	client *redis.Client
	prefix string
	size   int64
	logger *slog.Logger
}

var _ scheduler.Observer = (*Store)(nil)

func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.InfraError(fmt.Errorf("history: failed to ping redis: %w", err))
	}
	return NewWithClient(client, cfg.Prefix, cfg.Size, logger), nil
}

// NewWithClient wraps an existing client. A non-positive size keeps
// DefaultSize records per job.
func NewWithClient(client *redis.Client, prefix string, size int64, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, size: size, logger: logger}
}

func (s *Store) key(job string) string {
	return s.prefix + "history:" + job
}

// Observe appends the execution to its job's list and trims the list.
// Redis failures are logged; they never affect the scheduler.
func (s *Store) Observe(ctx context.Context, h *scheduler.ExecutionHandle) {
	if err := s.Add(ctx, scheduler.NewJobExecuted(h)); err != nil {
		s.logger.ErrorContext(ctx, "history: failed to record execution",
			"job", h.Job,
			"execution", h.ID.String(),
			"error", err,
		)
	}
}

func (s *Store) Add(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.ValidationError(err)
	}
	key := s.key(rec.Job)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, s.size-1)
		return nil
	})
	if err != nil {
		return errors.InfraError(err).WithMetadata("key", key)
	}
	return nil
}

// Recent returns up to n records of job, newest first.
func (s *Store) Recent(ctx context.Context, job string, n int64) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key(job), 0, n-1).Result()
	if err != nil {
		return nil, errors.InfraError(err).WithMetadata("job", job)
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, errors.InfraError(fmt.Errorf("history: corrupt record for %s: %w", job, err))
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear drops every stored record of job.
func (s *Store) Clear(ctx context.Context, job string) error {
	return s.client.Del(ctx, s.key(job)).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

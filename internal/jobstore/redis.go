package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsplit/api/internal/model"
)

const (
	jobKeyPrefix = "job:"
	jobIndexKey  = "jobs"

	// Upper bound for records nobody ever polls or sweeps.
	jobTTL = 24 * time.Hour

	maxTxRetries = 10
)

// RedisStore keeps jobs as JSON values so that queue workers in other
// processes share them with the API.
type RedisStore struct {
	redis *redis.Client
	opts  Options
}

func NewRedisStore(redisClient *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		redis: redisClient,
		opts:  opts.withDefaults(),
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *RedisStore) Put(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, jobTTL)
		pipe.SAdd(ctx, jobIndexKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.load(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}

	if job.Expired(s.opts.Now(), s.opts.Retention) {
		if err := s.deleteIfUnchanged(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Job, error) {
	key := jobKey(id)

	var result *model.Job
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.IsTerminal() {
			return ErrJobFinalized
		}
		if err := fn(cur); err != nil {
			return err
		}

		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, jobTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = cur
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(id))
		pipe.SRem(ctx, jobIndexKey, id)
		return nil
	})
	return err
}

func (s *RedisStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.redis.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	now := s.opts.Now()
	removed := 0
	for _, id := range ids {
		job, err := s.load(ctx, s.redis, id)
		if errors.Is(err, ErrNotFound) {
			// key expired through TTL, drop the dangling index entry
			s.redis.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if job.Expired(now, maxAge) {
			if err := s.deleteIfUnchanged(ctx, job); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// deleteIfUnchanged removes the record unless a newer job superseded it.
func (s *RedisStore) deleteIfUnchanged(ctx context.Context, job *model.Job) error {
	key := jobKey(job.ID)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, job.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !cur.StartTime.Equal(job.StartTime) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, jobIndexKey, job.ID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// lost the race to a writer, which means the record is fresh
		return nil
	}
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*model.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

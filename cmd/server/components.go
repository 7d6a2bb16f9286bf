package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/jobstore"
	"github.com/stemsplit/api/internal/projectstore"
	"github.com/stemsplit/api/internal/separator"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/storage"
)

// components are the collaborators shared by every command.
type components struct {
	cfg *config.Config

	redis    *redis.Client
	jobs     jobstore.Store
	projects projectstore.Store
	mirror   *storage.StemMirror

	uploads    *service.UploadService
	separation *service.SeparationService
	project    *service.ProjectService

	closers []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// buildComponents wires storage and services. queue and notifier may be nil.
func buildComponents(ctx context.Context, cfg *config.Config, queue *asynq.Client, notifier service.JobNotifier) (*components, error) {
	c := &components{cfg: cfg}

	c.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c.closers = append(c.closers, c.redis.Close)
	if needsRedis(cfg) {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
		}
	}

	opts := jobstore.Options{Retention: cfg.JobStore.Retention}
	switch cfg.JobStore.Backend {
	case config.BackendRedis:
		c.jobs = jobstore.NewRedisStore(c.redis, opts)
	default:
		c.jobs = jobstore.NewMemoryStore(opts)
	}

	switch cfg.ProjectStore.Backend {
	case config.BackendSQLite:
		store, err := projectstore.NewSQLiteStore(cfg.ProjectStore.Path)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open project database: %w", err)
		}
		c.projects = store
		c.closers = append(c.closers, store.Close)
	default:
		store, err := projectstore.NewFileStore(cfg.ProjectStore.Path)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open project file: %w", err)
		}
		c.projects = store
		c.closers = append(c.closers, store.Close)
	}

	// R2 is optional; without it stems are only served from disk
	var objects storage.ObjectStore
	if cfg.R2.Configured() {
		r2, err := storage.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			objects = r2
		}
	} else {
		log.Info().Msg("R2 storage not configured, stems stay local")
	}
	c.mirror = storage.NewStemMirror(objects, cfg.R2.SignedURLExpiry)

	runner := separator.NewDemucsRunner(separator.DemucsConfig{
		Candidates: cfg.Separator.Binaries,
		MP3:        cfg.Separator.MP3,
		MP3Bitrate: cfg.Separator.MP3Bitrate,
		ExtraArgs:  cfg.Separator.ExtraArgs,
	})
	if bin, err := runner.Binary(); err != nil {
		log.Warn().Err(err).Msg("demucs not found, separations will fail")
	} else {
		log.Info().Str("binary", bin).Msg("demucs resolved")
	}

	c.uploads = service.NewUploadService(cfg.Storage.UploadDir, cfg.Storage.MaxUploadBytes())
	c.separation = service.NewSeparationService(service.SeparationConfig{
		UploadDir:    cfg.Storage.UploadDir,
		SeparatedDir: cfg.Storage.SeparatedDir,
		Namespace:    cfg.Separator.Namespace,
		Extension:    cfg.Separator.Extension,
		Timeout:      cfg.Separator.Timeout,
	}, service.SeparationDeps{
		Jobs:     c.jobs,
		Projects: c.projects,
		Runner:   runner,
		Prober:   separator.NewFFProbe(cfg.Separator.FFprobe),
		Mirror:   c.mirror,
		Notifier: notifier,
		Queue:    queue,
	})
	c.project = service.NewProjectService(c.projects, c.uploads, cfg.Storage.SeparatedDir, cfg.Separator.Namespace, c.mirror)

	return c, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.JobStore.Backend == config.BackendRedis ||
		cfg.Queue.Mode == config.QueueModeAsynq ||
		cfg.RateLimit.Enabled
}

// staticRoutes maps the public URL prefixes to the directories behind them.
func staticRoutes(cfg *config.Config) map[string]string {
	return map[string]string{
		service.SeparatedRoute: filepath.Clean(cfg.Storage.SeparatedDir),
		service.UploadsRoute:   filepath.Clean(cfg.Storage.UploadDir),
	}
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

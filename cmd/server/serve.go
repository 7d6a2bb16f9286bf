package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/jobstore"
	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/playback"
	"github.com/stemsplit/api/internal/router"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/websocket"
	"github.com/stemsplit/api/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the separation worker and the player",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port; overrides PORT",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port := cmd.String("port"); port != "" {
				cfg.Server.Port = port
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	var queue *asynq.Client
	if cfg.Queue.Mode == config.QueueModeAsynq {
		queue = asynq.NewClient(redisOpt(cfg.Redis))
		defer queue.Close()
	}

	c, err := buildComponents(ctx, cfg, queue, hub)
	if err != nil {
		return err
	}
	defer c.Close()

	sweeper, err := jobstore.NewSweeper(c.jobs, cfg.JobStore.SweepSpec, cfg.JobStore.SweepAge)
	if err != nil {
		return fmt.Errorf("invalid job sweep schedule: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	if queue != nil {
		srv, err := startWorkerServer(cfg, c.separation)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	loader := playback.NewLoader(
		playback.NewFFmpegDecoder(cfg.Player.FFmpeg),
		playback.NewDirResolver(staticRoutes(cfg)),
	)
	volume := cfg.Player.DefaultVolume
	sessions := playback.NewManager(loader, playback.ManagerConfig{
		MaxSessions: cfg.Player.MaxSessions,
		IdleTimeout: cfg.Player.IdleTimeout,
		Engine: playback.EngineOptions{
			SettleDelay:    cfg.Player.SettleDelay,
			SampleInterval: cfg.Player.SampleInterval,
			Volume:         &volume,
			Notifier:       hub,
		},
	})
	defer sessions.CloseAll()
	go sessions.Run(ctx)

	apiAuth, authenticator, err := buildAuth(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	validate := validator.New()
	handlers := router.Handlers{
		Upload:     handler.NewUploadHandler(c.uploads),
		Separation: handler.NewSeparationHandler(c.separation, validate),
		Projects:   handler.NewProjectHandler(c.project, sessions),
		Player: handler.NewPlayerHandler(sessions, c.project, validate, handler.StreamConfig{
			FFmpeg:  cfg.Player.FFmpeg,
			Bitrate: cfg.Player.StreamBitrate,
		}),
		Health: handler.NewHealthHandler(handler.HealthInfo{
			Redis:        c.redis,
			R2:           c.mirror.Enabled(),
			Auth:         cfg.Auth.Mode,
			Queue:        cfg.Queue.Mode,
			JobStore:     cfg.JobStore.Backend,
			ProjectStore: cfg.ProjectStore.Backend,
			Sessions:     sessions,
		}),
		WebSocket: handler.NewWebSocketHandler(hub, c.separation, sessions),
		APIAuth:   apiAuth,
	}
	if authenticator != nil {
		handlers.Auth = handler.NewAuthHandler(authenticator)
	}
	if cfg.RateLimit.Enabled {
		handlers.RateLimiter = middleware.NewRateLimiter(c.redis)
		handlers.UploadPerHour = cfg.RateLimit.UploadPerHour
		handlers.SeparatePerHour = cfg.RateLimit.SeparatePerHour
	}

	app := router.New(router.Config{
		// multipart overhead on top of the largest accepted file
		BodyLimit:    int(cfg.Storage.MaxUploadBytes()) + 1<<20,
		CORSOrigins:  cfg.Server.CORSOrigins,
		LogLevel:     cfg.Server.LogLevel,
		AccessLog:    !cfg.Server.IsProduction() || cfg.Server.LogLevel == "debug",
		UploadDir:    cfg.Storage.UploadDir,
		SeparatedDir: cfg.Storage.SeparatedDir,
	}, handlers)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().
		Str("addr", addr).
		Str("env", cfg.Server.Env).
		Str("queue", cfg.Queue.Mode).
		Str("auth", cfg.Auth.Mode).
		Msg("server starting")
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildAuth selects the /api guard. The authenticator is nil in gateway and
// none modes, where /auth/verify is not served.
func buildAuth(ctx context.Context, cfg config.AuthConfig) (fiber.Handler, *auth.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthModeJWT:
		authenticator, err := auth.NewFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize authentication: %w", err)
		}
		return middleware.NewAuthMiddleware(authenticator).Authenticate(), authenticator, nil
	case config.AuthModeGateway:
		log.Info().Msg("gateway mode enabled, using header-based auth")
		return middleware.GatewayAuthMiddleware(), nil, nil
	default:
		log.Warn().Msg("authentication disabled")
		return nil, nil, nil
	}
}

func startWorkerServer(cfg *config.Config, separation *service.SeparationService) (*asynq.Server, error) {
	concurrency := cfg.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(redisOpt(cfg.Redis), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueSeparation: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	worker.NewSeparationWorker(separation).Register(mux, service.TaskTypeSeparation)

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start asynq worker: %w", err)
	}
	log.Info().Int("concurrency", concurrency).Msg("separation worker started")
	return srv, nil
}

package router

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// Config holds the HTTP-level settings of the app.
type Config struct {
	BodyLimit    int
	CORSOrigins  string
	LogLevel     string
	AccessLog    bool
	UploadDir    string
	SeparatedDir string
}

// Handlers wires the route handlers. APIAuth and RateLimiter are optional.
type Handlers struct {
	Upload     *handler.UploadHandler
	Separation *handler.SeparationHandler
	Projects   *handler.ProjectHandler
	Player     *handler.PlayerHandler
	Health     *handler.HealthHandler
	Auth       *handler.AuthHandler
	WebSocket  *handler.WebSocketHandler

	APIAuth         fiber.Handler
	RateLimiter     *middleware.RateLimiter
	UploadPerHour   int
	SeparatePerHour int
}

// New builds the fiber app with every route mounted.
func New(cfg Config, h Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	if cfg.AccessLog {
		logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
		if strings.EqualFold(cfg.LogLevel, "debug") {
			logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		}
		app.Use(logger.New(logger.Config{Format: logFormat}))
	}
	origins := cfg.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})

	// Separated stems and uploads are public static resources
	if cfg.UploadDir != "" {
		app.Static(service.UploadsRoute, cfg.UploadDir)
	}
	if cfg.SeparatedDir != "" {
		app.Static(service.SeparatedRoute, cfg.SeparatedDir)
	}

	if h.Auth != nil {
		// ForwardAuth verification endpoint, called by the gateway
		app.Get("/auth/verify", h.Auth.Verify)
	}

	app.Get("/api/health", h.Health.Health)

	api := app.Group("/api")
	if h.APIAuth != nil {
		api.Use(h.APIAuth)
	}

	uploadChain := []fiber.Handler{h.Upload.Upload}
	separateChain := []fiber.Handler{h.Separation.Start}
	if h.RateLimiter != nil {
		uploadChain = append([]fiber.Handler{h.RateLimiter.UploadLimit(h.UploadPerHour)}, uploadChain...)
		separateChain = append([]fiber.Handler{h.RateLimiter.SeparateLimit(h.SeparatePerHour)}, separateChain...)
	}
	api.Post("/upload", uploadChain...)
	api.Post("/separate", separateChain...)
	api.Get("/separate/:fileId/progress", h.Separation.Progress)

	projects := api.Group("/projects")
	projects.Get("/", h.Projects.List)
	projects.Get("/:id", h.Projects.Get)
	projects.Delete("/:id", h.Projects.Delete)
	projects.Get("/:id/stems/:stem", h.Projects.StemDownload)

	player := api.Group("/player/sessions")
	player.Post("/", h.Player.Open)
	player.Get("/:id", h.Player.State)
	player.Delete("/:id", h.Player.Close)
	player.Post("/:id/play", h.Player.Play)
	player.Post("/:id/pause", h.Player.Pause)
	player.Post("/:id/seek", h.Player.Seek)
	player.Put("/:id/volume", h.Player.SetVolume)
	player.Put("/:id/stems/:stem/volume", h.Player.SetStemVolume)
	player.Post("/:id/stems/:stem/mute", h.Player.ToggleMute)
	player.Get("/:id/stems/:stem/download", h.Player.Download)
	player.Get("/:id/stream", h.Player.Stream)

	if h.WebSocket != nil {
		app.Use("/ws", h.WebSocket.Upgrade)
		app.Get("/ws/jobs/:jobId", h.WebSocket.Jobs())
		app.Get("/ws/player/:sessionId", h.WebSocket.Player())
	}

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	switch code {
	case fiber.StatusNotFound:
		return response.NotFound(c, message)
	case fiber.StatusRequestEntityTooLarge:
		return response.PayloadTooLarge(c, message)
	}
	return response.Error(c, code, response.CodeServiceError, message, nil)
}

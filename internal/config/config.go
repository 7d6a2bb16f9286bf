package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Separator    SeparatorConfig
	Queue        QueueConfig
	JobStore     JobStoreConfig
	ProjectStore ProjectStoreConfig
	Player       PlayerConfig
	R2           R2Config
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins string
}

func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Auth modes
const (
	AuthModeNone    = "none"
	AuthModeJWT     = "jwt"
	AuthModeGateway = "gateway"
)

type AuthConfig struct {
	Mode      string
	JWTSecret string
	// OIDC issuer; when set, tokens are verified against its JWKS first.
	Issuer   string
	ClientID string
}

type RateLimitConfig struct {
	Enabled         bool
	UploadPerHour   int
	SeparatePerHour int
}

type StorageConfig struct {
	UploadDir    string
	SeparatedDir string
	MaxUploadMB  int
}

// MaxUploadBytes is the upload size limit in bytes.
func (s StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) * 1024 * 1024
}

type SeparatorConfig struct {
	Binaries   []string
	Namespace  string
	Extension  string
	MP3        bool
	MP3Bitrate string
	ExtraArgs  []string
	FFprobe    string
	Timeout    time.Duration
}

// Queue modes
const (
	QueueModeLocal = "local"
	QueueModeAsynq = "asynq"
)

type QueueConfig struct {
	Mode        string
	Concurrency int
}

// Job store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type JobStoreConfig struct {
	Backend   string
	Retention time.Duration
	SweepSpec string
	SweepAge  time.Duration
}

type ProjectStoreConfig struct {
	Backend string
	Path    string
}

type PlayerConfig struct {
	FFmpeg         string
	SettleDelay    time.Duration
	SampleInterval time.Duration
	DefaultVolume  int
	MaxSessions    int
	IdleTimeout    time.Duration
	StreamBitrate  string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Endpoint        string
	PathStyle       bool
	SignedURLExpiry time.Duration
}

// Configured reports whether enough is set to talk to the bucket.
func (r R2Config) Configured() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != "" && r.BucketName != ""
}

var envBindings = map[string]string{
	"server.port":                 "SERVER_PORT",
	"server.env":                  "SERVER_ENV",
	"server.log_level":            "LOG_LEVEL",
	"server.cors_origins":         "CORS_ORIGINS",
	"redis.addr":                  "REDIS_ADDR",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"auth.mode":                   "AUTH_MODE",
	"auth.jwt_secret":             "JWT_SECRET",
	"auth.issuer":                 "AUTH_ISSUER",
	"auth.client_id":              "AUTH_CLIENT_ID",
	"ratelimit.enabled":           "RATELIMIT_ENABLED",
	"ratelimit.upload_per_hour":   "RATELIMIT_UPLOAD_PER_HOUR",
	"ratelimit.separate_per_hour": "RATELIMIT_SEPARATE_PER_HOUR",
	"storage.upload_dir":          "UPLOAD_DIR",
	"storage.separated_dir":       "SEPARATED_DIR",
	"storage.max_upload_mb":       "MAX_UPLOAD_MB",
	"separator.binaries":          "DEMUCS_BINARIES",
	"separator.namespace":         "DEMUCS_NAMESPACE",
	"separator.extension":         "DEMUCS_EXTENSION",
	"separator.mp3":               "DEMUCS_MP3",
	"separator.mp3_bitrate":       "DEMUCS_MP3_BITRATE",
	"separator.extra_args":        "DEMUCS_EXTRA_ARGS",
	"separator.ffprobe":           "FFPROBE_BINARY",
	"separator.timeout":           "SEPARATION_TIMEOUT",
	"queue.mode":                  "QUEUE_MODE",
	"queue.concurrency":           "QUEUE_CONCURRENCY",
	"jobstore.backend":            "JOBSTORE_BACKEND",
	"jobstore.retention":          "JOBSTORE_RETENTION",
	"jobstore.sweep_spec":         "JOBSTORE_SWEEP_SPEC",
	"jobstore.sweep_age":          "JOBSTORE_SWEEP_AGE",
	"projectstore.backend":        "PROJECTSTORE_BACKEND",
	"projectstore.path":           "PROJECTSTORE_PATH",
	"player.ffmpeg":               "FFMPEG_BINARY",
	"player.settle_delay":         "PLAYER_SETTLE_DELAY",
	"player.sample_interval":      "PLAYER_SAMPLE_INTERVAL",
	"player.default_volume":       "PLAYER_DEFAULT_VOLUME",
	"player.max_sessions":         "PLAYER_MAX_SESSIONS",
	"player.idle_timeout":         "PLAYER_IDLE_TIMEOUT",
	"player.stream_bitrate":       "PLAYER_STREAM_BITRATE",
	"r2.account_id":               "R2_ACCOUNT_ID",
	"r2.access_key_id":            "R2_ACCESS_KEY_ID",
	"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":              "R2_BUCKET_NAME",
	"r2.public_url":               "R2_PUBLIC_URL",
	"r2.endpoint":                 "R2_ENDPOINT",
	"r2.path_style":               "R2_PATH_STYLE",
	"r2.signed_url_expiry":        "R2_SIGNED_URL_EXPIRY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origins", "*")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.mode", AuthModeNone)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("ratelimit.separate_per_hour", 20)

	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.separated_dir", "separated")
	v.SetDefault("storage.max_upload_mb", 100)

	v.SetDefault("separator.binaries", []string{"/usr/local/bin/demucs", "/usr/bin/demucs", "demucs", "/app/.local/bin/demucs"})
	v.SetDefault("separator.namespace", "htdemucs")
	v.SetDefault("separator.extension", "mp3")
	v.SetDefault("separator.mp3", true)
	v.SetDefault("separator.mp3_bitrate", "320")
	v.SetDefault("separator.ffprobe", "ffprobe")
	v.SetDefault("separator.timeout", "30m")

	v.SetDefault("queue.mode", QueueModeLocal)
	v.SetDefault("queue.concurrency", 2)

	v.SetDefault("jobstore.backend", BackendMemory)
	v.SetDefault("jobstore.retention", "5m")
	v.SetDefault("jobstore.sweep_spec", "@every 1m")
	v.SetDefault("jobstore.sweep_age", "1h")

	v.SetDefault("projectstore.backend", BackendJSON)
	v.SetDefault("projectstore.path", "data/projects.json")

	v.SetDefault("player.ffmpeg", "ffmpeg")
	v.SetDefault("player.settle_delay", "50ms")
	v.SetDefault("player.sample_interval", "100ms")
	v.SetDefault("player.default_volume", 75)
	v.SetDefault("player.max_sessions", 16)
	v.SetDefault("player.idle_timeout", "30m")
	v.SetDefault("player.stream_bitrate", "192k")

	v.SetDefault("r2.signed_url_expiry", "1h")
}

// Load reads .env, then config.yaml (optional), then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			CORSOrigins: v.GetString("server.cors_origins"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(v.GetString("auth.mode")),
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			ClientID:  v.GetString("auth.client_id"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         v.GetBool("ratelimit.enabled"),
			UploadPerHour:   v.GetInt("ratelimit.upload_per_hour"),
			SeparatePerHour: v.GetInt("ratelimit.separate_per_hour"),
		},
		Storage: StorageConfig{
			UploadDir:    v.GetString("storage.upload_dir"),
			SeparatedDir: v.GetString("storage.separated_dir"),
			MaxUploadMB:  v.GetInt("storage.max_upload_mb"),
		},
		Separator: SeparatorConfig{
			Binaries:   splitList(v.GetStringSlice("separator.binaries")),
			Namespace:  v.GetString("separator.namespace"),
			Extension:  strings.TrimPrefix(v.GetString("separator.extension"), "."),
			MP3:        v.GetBool("separator.mp3"),
			MP3Bitrate: v.GetString("separator.mp3_bitrate"),
			ExtraArgs:  strings.Fields(strings.Join(v.GetStringSlice("separator.extra_args"), " ")),
			FFprobe:    v.GetString("separator.ffprobe"),
			Timeout:    v.GetDuration("separator.timeout"),
		},
		Queue: QueueConfig{
			Mode:        strings.ToLower(v.GetString("queue.mode")),
			Concurrency: v.GetInt("queue.concurrency"),
		},
		JobStore: JobStoreConfig{
			Backend:   strings.ToLower(v.GetString("jobstore.backend")),
			Retention: v.GetDuration("jobstore.retention"),
			SweepSpec: v.GetString("jobstore.sweep_spec"),
			SweepAge:  v.GetDuration("jobstore.sweep_age"),
		},
		ProjectStore: ProjectStoreConfig{
			Backend: strings.ToLower(v.GetString("projectstore.backend")),
			Path:    v.GetString("projectstore.path"),
		},
		Player: PlayerConfig{
			FFmpeg:         v.GetString("player.ffmpeg"),
			SettleDelay:    v.GetDuration("player.settle_delay"),
			SampleInterval: v.GetDuration("player.sample_interval"),
			DefaultVolume:  v.GetInt("player.default_volume"),
			MaxSessions:    v.GetInt("player.max_sessions"),
			IdleTimeout:    v.GetDuration("player.idle_timeout"),
			StreamBitrate:  v.GetString("player.stream_bitrate"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Endpoint:        v.GetString("r2.endpoint"),
			PathStyle:       v.GetBool("r2.path_style"),
			SignedURLExpiry: v.GetDuration("r2.signed_url_expiry"),
		},
	}
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

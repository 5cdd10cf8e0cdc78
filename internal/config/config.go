package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wildfire/internal/fsutil"
)

type AppConf struct {
	Env            string `mapstructure:"env"`
	Port           string `mapstructure:"port"`
	ShutdownSecond int    `mapstructure:"shutdown_seconds"`
}

type LogConf struct {
	Level string `mapstructure:"level"`
}

type MediaConf struct {
	ScratchDir      string   `mapstructure:"scratch_dir"`
	FFmpegPath      string   `mapstructure:"ffmpeg_path"`
	FFprobePath     string   `mapstructure:"ffprobe_path"`
	MinDurationMs   int64    `mapstructure:"min_duration_ms"`
	MaxDurationMs   int64    `mapstructure:"max_duration_ms"`
	CaptureMs       int64    `mapstructure:"capture_ms"`
	AspectTolerance float64  `mapstructure:"aspect_tolerance"`
	CaptureFormat   string   `mapstructure:"capture_format"`
	CaptureDevice   string   `mapstructure:"capture_device"`
	MaxUploadMB     int      `mapstructure:"max_upload_mb"`
	AllowedMIME     []string `mapstructure:"allowed_mime"`
}

type TranscodeConf struct {
	ThumbnailOffsetMs int64   `mapstructure:"thumbnail_offset_ms"`
	ThumbnailScale    float64 `mapstructure:"thumbnail_scale"`
	ThumbnailQuality  int     `mapstructure:"thumbnail_quality"`
	VideoBitrate      string  `mapstructure:"video_bitrate"`
	AudioBitrate      string  `mapstructure:"audio_bitrate"`
}

type ObjectStoreConf struct {
	Driver        string `mapstructure:"driver"`
	BaseURL       string `mapstructure:"base_url"`
	Zone          string `mapstructure:"zone"`
	AccessKey     string `mapstructure:"access_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
}

type StreamingConf struct {
	APIURL             string  `mapstructure:"api_url"`
	APIKey             string  `mapstructure:"api_key"`
	ChunkSizeKB        int     `mapstructure:"chunk_size_kb"`
	RetryDelaysMs      []int64 `mapstructure:"retry_delays_ms"`
	Background         bool    `mapstructure:"background"`
	BreakerMaxFailures uint32  `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSec  int     `mapstructure:"breaker_timeout_seconds"`
}

type StoreConf struct {
	Driver        string `mapstructure:"driver"`
	DataDir       string `mapstructure:"data_dir"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

type RedisConf struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	PlaybackTTLSeconds int    `mapstructure:"playback_ttl_seconds"`
}

type EventsConf struct {
	Driver string `mapstructure:"driver"`
}

type KafkaConf struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATSConf struct {
	URL string `mapstructure:"url"`
}

type OpsConf struct {
	Token string `mapstructure:"token"`
}

type JWTConf struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type LimitsConf struct {
	DailyPosts int `mapstructure:"daily_posts"`
}

type RateLimitConf struct {
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
	Burst            int `mapstructure:"burst"`
}

type Config struct {
	App         AppConf         `mapstructure:"app"`
	Log         LogConf         `mapstructure:"log"`
	Media       MediaConf       `mapstructure:"media"`
	Transcode   TranscodeConf   `mapstructure:"transcode"`
	ObjectStore ObjectStoreConf `mapstructure:"object_store"`
	Streaming   StreamingConf   `mapstructure:"streaming"`
	Store       StoreConf       `mapstructure:"store"`
	Redis       RedisConf       `mapstructure:"redis"`
	Events      EventsConf      `mapstructure:"events"`
	Kafka       KafkaConf       `mapstructure:"kafka"`
	NATS        NATSConf        `mapstructure:"nats"`
	JWT         JWTConf         `mapstructure:"jwt"`
	Ops         OpsConf         `mapstructure:"ops"`
	Limits      LimitsConf      `mapstructure:"limits"`
	RateLimit   RateLimitConf   `mapstructure:"rate_limit"`

	// derived
	ShutdownTimeout time.Duration
	RetryDelays     []time.Duration
	PlaybackTTL     time.Duration
}

func (c Config) Development() bool {
	return c.App.Env == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "1323")
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("log.level", "info")

	v.SetDefault("media.scratch_dir", "")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.min_duration_ms", 2500)
	v.SetDefault("media.max_duration_ms", 3500)
	v.SetDefault("media.capture_ms", 3000)
	v.SetDefault("media.aspect_tolerance", 0.01)
	v.SetDefault("media.capture_format", "v4l2")
	v.SetDefault("media.capture_device", "/dev/video0")
	v.SetDefault("media.max_upload_mb", 64)
	v.SetDefault("media.allowed_mime", []string{"video/mp4", "video/quicktime", "video/x-matroska", "video/webm"})

	v.SetDefault("transcode.thumbnail_offset_ms", 1500)
	v.SetDefault("transcode.thumbnail_scale", 0.75)
	v.SetDefault("transcode.thumbnail_quality", 90)
	v.SetDefault("transcode.video_bitrate", "8000k")
	v.SetDefault("transcode.audio_bitrate", "128k")

	v.SetDefault("object_store.driver", "bunny")
	v.SetDefault("object_store.base_url", "https://storage.bunnycdn.com")
	v.SetDefault("object_store.zone", "")
	v.SetDefault("object_store.access_key", "")
	v.SetDefault("object_store.public_base_url", "")
	v.SetDefault("object_store.bucket", "")
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.endpoint", "")

	v.SetDefault("streaming.api_url", "https://livepeer.studio/api")
	v.SetDefault("streaming.api_key", "")
	v.SetDefault("streaming.chunk_size_kb", 5*1024)
	v.SetDefault("streaming.retry_delays_ms", []int64{0, 3000, 5000, 10000, 20000})
	v.SetDefault("streaming.background", true)
	v.SetDefault("streaming.breaker_max_failures", 5)
	v.SetDefault("streaming.breaker_timeout_seconds", 30)

	v.SetDefault("store.driver", "local")
	v.SetDefault("store.data_dir", "storage/data")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "wildfire")
	v.SetDefault("store.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.playback_ttl_seconds", 300)

	v.SetDefault("events.driver", "log")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "posts")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("ops.token", "")

	v.SetDefault("limits.daily_posts", 1)
	v.SetDefault("rate_limit.uploads_per_minute", 10)
	v.SetDefault("rate_limit.burst", 3)
}

// Load reads the optional config file at path, then environment overrides
// (object_store.access_key -> OBJECT_STORE_ACCESS_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.App.ShutdownSecond <= 0 {
		cfg.App.ShutdownSecond = 15
	}
	if cfg.Media.ScratchDir == "" {
		cfg.Media.ScratchDir = fsutil.ScratchDir(cfg.Store.DataDir)
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownSecond) * time.Second
	for _, ms := range cfg.Streaming.RetryDelaysMs {
		cfg.RetryDelays = append(cfg.RetryDelays, time.Duration(ms)*time.Millisecond)
	}
	if cfg.Redis.PlaybackTTLSeconds <= 0 {
		cfg.Redis.PlaybackTTLSeconds = 300
	}
	cfg.PlaybackTTL = time.Duration(cfg.Redis.PlaybackTTLSeconds) * time.Second
	return &cfg, nil
}

// GetEnv returns the environment value for key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

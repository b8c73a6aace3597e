package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket    string         `yaml:"minio_bucket"`
	App            App            `yaml:"app"`
	DB             *sql.DB        `yaml:"db"`
	Queue          *RabbitMQ      `yaml:"rabbitmq"`
	Storage        *minio.Client  `yaml:"storage"`
	StorageOptions StorageOptions `yaml:"storage_options"`
	Server         Server         `yaml:"server"`
	Kafka          Kafka          `yaml:"kafka"`
	Vision         Vision         `yaml:"vision"`
	VideoAPI       VideoAPI       `yaml:"video_api"`
	Generation     Generation     `yaml:"generation"`
	Classification Classification `yaml:"classification"`
	Subscription   Subscription   `yaml:"subscription"`
	FFmpeg         FFmpeg         `yaml:"ffmpeg"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	MaxRetries   uint   `json:"max_retries"`

	// DialTries bounds connection attempts at startup, including the first.
	DialTries       uint          `json:"dial_tries"`
	DialMaxInterval time.Duration `json:"dial_max_interval"`
}

type StorageOptions struct {
	PublicURL  string        `yaml:"public_url"`
	MaxRetries uint          `yaml:"max_retries"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Vision struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

type VideoAPI struct {
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxTries         uint          `yaml:"max_tries"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
}

type Generation struct {
	InitialPollDelay     time.Duration `yaml:"initial_poll_delay"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	CrossfadeDuration    float64       `yaml:"crossfade_duration"`
	SubtitleChunkSeconds float64       `yaml:"subtitle_chunk_seconds"`
	SubtitleMaxChars     int           `yaml:"subtitle_max_chars"`
	SubtitleFont         string        `yaml:"subtitle_font"`
	MaxImagesPerRoom     int           `yaml:"max_images_per_room"`
	PromptMaxChars       int           `yaml:"prompt_max_chars"`
	ClipDuration         string        `yaml:"clip_duration"`
	AspectRatio          string        `yaml:"aspect_ratio"`
	Transitions          bool          `yaml:"transitions"`
	LogoMaxWidth         int           `yaml:"logo_max_width"`
	LogoMaxHeight        int           `yaml:"logo_max_height"`
	ScratchDir           string        `yaml:"scratch_dir"`
}

type Classification struct {
	Concurrency int `yaml:"concurrency"`
}

type Subscription struct {
	Required bool          `yaml:"required"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type FFmpeg struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_max_retries", 3)
	viper.SetDefault("rabbitmq_dial_tries", 5)
	viper.SetDefault("rabbitmq_dial_max_interval", 10*time.Second)

	viper.SetDefault("storage.public_url", "http://localhost:9000")
	viper.SetDefault("storage.max_retries", 4)
	viper.SetDefault("storage.max_backoff", 8*time.Second)

	viper.SetDefault("kafka.topic", "walkthrough.generation.events")

	viper.SetDefault("vision.base_url", "https://api.openai.com/v1")
	viper.SetDefault("vision.model", "gpt-4o")
	viper.SetDefault("vision.max_tokens", 300)
	viper.SetDefault("vision.temperature", 0.2)
	viper.SetDefault("vision.timeout", 30*time.Second)
	viper.SetDefault("vision.max_retries", 3)
	viper.SetDefault("vision.base_delay", time.Second)
	viper.SetDefault("vision.max_delay", 10*time.Second)
	viper.SetDefault("vision.rate_limit_cooldown", 20*time.Second)

	viper.SetDefault("video_api.base_url", "https://queue.fal.run")
	viper.SetDefault("video_api.model", "fal-ai/kling-video/v1.6/standard/image-to-video")
	viper.SetDefault("video_api.timeout", 60*time.Second)
	viper.SetDefault("video_api.max_tries", 3)
	viper.SetDefault("video_api.retry_interval", 2*time.Second)
	viper.SetDefault("video_api.rate_limit_backoff", 30*time.Second)

	viper.SetDefault("generation.initial_poll_delay", 60*time.Second)
	viper.SetDefault("generation.poll_interval", 15*time.Second)
	viper.SetDefault("generation.crossfade_duration", 0.5)
	viper.SetDefault("generation.subtitle_chunk_seconds", 3.0)
	viper.SetDefault("generation.subtitle_max_chars", 40)
	viper.SetDefault("generation.subtitle_font", "Arial")
	viper.SetDefault("generation.max_images_per_room", 4)
	viper.SetDefault("generation.prompt_max_chars", 2500)
	viper.SetDefault("generation.clip_duration", "5")
	viper.SetDefault("generation.aspect_ratio", "9:16")
	viper.SetDefault("generation.transitions", true)
	viper.SetDefault("generation.logo_max_width", 240)
	viper.SetDefault("generation.logo_max_height", 120)

	viper.SetDefault("classification.concurrency", 3)

	viper.SetDefault("subscription.required", true)
	viper.SetDefault("subscription.cache_ttl", 5*time.Minute)
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:       viper.GetString("rabbitmq_host"),
		Port:       viper.GetInt("rabbitmq_port"),
		User:       viper.GetString("rabbitmq_user"),
		Pass:       viper.GetString("rabbitmq_pass"),
		Kind:       viper.GetString("rabbitmq_kind"),
		MaxRetries: viper.GetUint("rabbitmq_max_retries"),

		DialTries:       viper.GetUint("rabbitmq_dial_tries"),
		DialMaxInterval: viper.GetDuration("rabbitmq_dial_max_interval"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: viper.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
		StorageOptions: StorageOptions{
			PublicURL:  viper.GetString("storage.public_url"),
			MaxRetries: viper.GetUint("storage.max_retries"),
			MaxBackoff: viper.GetDuration("storage.max_backoff"),
		},
		Kafka: Kafka{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
		},
		Vision: Vision{
			APIKey:            viper.GetString("vision.api_key"),
			BaseURL:           viper.GetString("vision.base_url"),
			Model:             viper.GetString("vision.model"),
			MaxTokens:         viper.GetInt("vision.max_tokens"),
			Temperature:       viper.GetFloat64("vision.temperature"),
			Timeout:           viper.GetDuration("vision.timeout"),
			MaxRetries:        viper.GetInt("vision.max_retries"),
			BaseDelay:         viper.GetDuration("vision.base_delay"),
			MaxDelay:          viper.GetDuration("vision.max_delay"),
			RateLimitCooldown: viper.GetDuration("vision.rate_limit_cooldown"),
		},
		VideoAPI: VideoAPI{
			APIKey:           viper.GetString("video_api.api_key"),
			BaseURL:          viper.GetString("video_api.base_url"),
			Model:            viper.GetString("video_api.model"),
			Timeout:          viper.GetDuration("video_api.timeout"),
			MaxTries:         viper.GetUint("video_api.max_tries"),
			RetryInterval:    viper.GetDuration("video_api.retry_interval"),
			RateLimitBackoff: viper.GetDuration("video_api.rate_limit_backoff"),
		},
		Generation: Generation{
			InitialPollDelay:     viper.GetDuration("generation.initial_poll_delay"),
			PollInterval:         viper.GetDuration("generation.poll_interval"),
			CrossfadeDuration:    viper.GetFloat64("generation.crossfade_duration"),
			SubtitleChunkSeconds: viper.GetFloat64("generation.subtitle_chunk_seconds"),
			SubtitleMaxChars:     viper.GetInt("generation.subtitle_max_chars"),
			SubtitleFont:         viper.GetString("generation.subtitle_font"),
			MaxImagesPerRoom:     viper.GetInt("generation.max_images_per_room"),
			PromptMaxChars:       viper.GetInt("generation.prompt_max_chars"),
			ClipDuration:         viper.GetString("generation.clip_duration"),
			AspectRatio:          viper.GetString("generation.aspect_ratio"),
			Transitions:          viper.GetBool("generation.transitions"),
			LogoMaxWidth:         viper.GetInt("generation.logo_max_width"),
			LogoMaxHeight:        viper.GetInt("generation.logo_max_height"),
			ScratchDir:           viper.GetString("generation.scratch_dir"),
		},
		Classification: Classification{
			Concurrency: viper.GetInt("classification.concurrency"),
		},
		Subscription: Subscription{
			Required: viper.GetBool("subscription.required"),
			CacheTTL: viper.GetDuration("subscription.cache_ttl"),
		},
		FFmpeg: FFmpeg{
			FFmpegPath:  viper.GetString("ffmpeg.ffmpeg_path"),
			FFprobePath: viper.GetString("ffmpeg.ffprobe_path"),
		},
	}, nil
}

package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"media-transcription/constant"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Kafka       *Kafka        `yaml:"kafka"`
	EventBus    EventBus      `yaml:"event_bus"`
	Redis       Redis         `yaml:"redis"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Provider    Provider      `yaml:"provider"`
	Pipeline    Pipeline      `yaml:"pipeline"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	GroupID      string        `yaml:"group_id"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type EventBus struct {
	Driver  constant.EventBusDriver `yaml:"driver"`
	Workers int                     `yaml:"workers"`
	// HandlerMaxTries bounds transport-level retries of one message before it is
	// acknowledged (kafka) or dead-lettered (rabbitmq).
	HandlerMaxTries uint `yaml:"handler_max_tries"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Provider struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Pipeline is the configuration surface consumed by the orchestrator and both triggers.
type Pipeline struct {
	MaxRetries              int           `yaml:"max_retries"`
	BatchChunkSize          int           `yaml:"batch_chunk_size"`
	BatchParallelism        int           `yaml:"batch_parallelism"`
	BatchScheduleExpression string        `yaml:"batch_schedule_expression"`
	ChunkRetryLimit         int           `yaml:"chunk_retry_limit"`
	ChunkSkipLimit          int           `yaml:"chunk_skip_limit"`
	ClaimStaleAfter         time.Duration `yaml:"claim_stale_after"`
	ProcessingTimeout       time.Duration `yaml:"processing_timeout"`
}

// CronParser accepts the optional seconds field used by batch_schedule_expression.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (p Pipeline) Validate() error {
	var errs []error
	if p.MaxRetries < 1 {
		errs = append(errs, errors.New("pipeline.max_retries must be >= 1"))
	}
	if p.BatchChunkSize < 1 {
		errs = append(errs, errors.New("pipeline.batch_chunk_size must be >= 1"))
	}
	if p.BatchParallelism < 1 {
		errs = append(errs, errors.New("pipeline.batch_parallelism must be >= 1"))
	}
	if p.ChunkRetryLimit < 1 {
		errs = append(errs, errors.New("pipeline.chunk_retry_limit must be >= 1"))
	}
	if p.ChunkSkipLimit < 0 {
		errs = append(errs, errors.New("pipeline.chunk_skip_limit must be >= 0"))
	}
	if p.ClaimStaleAfter <= 0 {
		errs = append(errs, errors.New("pipeline.claim_stale_after must be positive"))
	}
	if p.ProcessingTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.processing_timeout must be positive"))
	}
	if p.ProcessingTimeout > 0 && p.ClaimStaleAfter > 0 && p.ClaimStaleAfter <= p.ProcessingTimeout {
		errs = append(errs, errors.New("pipeline.claim_stale_after must exceed pipeline.processing_timeout"))
	}
	if _, err := CronParser.Parse(p.BatchScheduleExpression); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.batch_schedule_expression: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid pipeline config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("rabbitmq_exchange", "media_exchange")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "transcription-service")
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("event_bus.driver", string(constant.EventBusKafka))
	v.SetDefault("event_bus.workers", 3)
	v.SetDefault("event_bus.handler_max_tries", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("provider.url", "http://localhost:8000/transcribe")
	v.SetDefault("provider.timeout", 10*time.Minute)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.batch_chunk_size", 5)
	v.SetDefault("pipeline.batch_parallelism", 1)
	v.SetDefault("pipeline.batch_schedule_expression", "0 */5 * * * *")
	v.SetDefault("pipeline.chunk_retry_limit", 3)
	v.SetDefault("pipeline.chunk_skip_limit", 10)
	v.SetDefault("pipeline.claim_stale_after", 30*time.Minute)
	v.SetDefault("pipeline.processing_timeout", 10*time.Minute)
}

// Load reads config.yaml from path, with .env and environment variable overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v, err := readViper(path)
	if err != nil {
		return nil, err
	}

	cfg := fromViper(v)
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", v.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}
	cfg.DB = db

	minioClient, err := minio.New(v.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
		Secure: v.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}
	cfg.Storage = minioClient

	return cfg, nil
}

func readViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Queue: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
		},
		Kafka: &Kafka{
			Brokers:      v.GetStringSlice("kafka.brokers"),
			GroupID:      v.GetString("kafka.group_id"),
			BatchTimeout: v.GetDuration("kafka.batch_timeout"),
			WriteTimeout: v.GetDuration("kafka.write_timeout"),
		},
		EventBus: EventBus{
			Driver:          constant.EventBusDriver(v.GetString("event_bus.driver")),
			Workers:         v.GetInt("event_bus.workers"),
			HandlerMaxTries: v.GetUint("event_bus.handler_max_tries"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Provider: Provider{
			URL:     v.GetString("provider.url"),
			Timeout: v.GetDuration("provider.timeout"),
		},
		Pipeline: Pipeline{
			MaxRetries:              v.GetInt("pipeline.max_retries"),
			BatchChunkSize:          v.GetInt("pipeline.batch_chunk_size"),
			BatchParallelism:        v.GetInt("pipeline.batch_parallelism"),
			BatchScheduleExpression: v.GetString("pipeline.batch_schedule_expression"),
			ChunkRetryLimit:         v.GetInt("pipeline.chunk_retry_limit"),
			ChunkSkipLimit:          v.GetInt("pipeline.chunk_skip_limit"),
			ClaimStaleAfter:         v.GetDuration("pipeline.claim_stale_after"),
			ProcessingTimeout:       v.GetDuration("pipeline.processing_timeout"),
		},
	}
}

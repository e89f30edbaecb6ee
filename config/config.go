package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Recording   Recording     `yaml:"recording"`
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
}

// Recording holds the orchestration knobs for the session core.
type Recording struct {
	SampleInterval        time.Duration `yaml:"sample_interval"`
	MinQuality            float64       `yaml:"min_quality"`
	GatewayTimeout        time.Duration `yaml:"gateway_timeout"`
	QueueCapacity         int           `yaml:"queue_capacity"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	RetentionDays         int           `yaml:"retention_days"`
	RetentionSweepEvery   time.Duration `yaml:"retention_sweep_interval"`
	TranscriptionEnabled  bool          `yaml:"transcription_enabled"`
	TranscriptionProvider string        `yaml:"transcription_provider"`
	TranscriberURL        string        `yaml:"transcriber_url"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	viper.SetDefault("recording.sample_interval", "5s")
	viper.SetDefault("recording.min_quality", 0.5)
	viper.SetDefault("recording.gateway_timeout", "30s")
	viper.SetDefault("recording.queue_capacity", 1024)
	viper.SetDefault("recording.poll_interval", "1s")
	viper.SetDefault("recording.retention_days", 30)
	viper.SetDefault("recording.retention_sweep_interval", "24h")
	viper.SetDefault("recording.transcription_enabled", true)
	viper.SetDefault("recording.transcription_provider", "whisper")

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
		Recording: Recording{
			SampleInterval:        viper.GetDuration("recording.sample_interval"),
			MinQuality:            viper.GetFloat64("recording.min_quality"),
			GatewayTimeout:        viper.GetDuration("recording.gateway_timeout"),
			QueueCapacity:         viper.GetInt("recording.queue_capacity"),
			PollInterval:          viper.GetDuration("recording.poll_interval"),
			RetentionDays:         viper.GetInt("recording.retention_days"),
			RetentionSweepEvery:   viper.GetDuration("recording.retention_sweep_interval"),
			TranscriptionEnabled:  viper.GetBool("recording.transcription_enabled"),
			TranscriptionProvider: viper.GetString("recording.transcription_provider"),
			TranscriberURL:        viper.GetString("recording.transcriber_url"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}

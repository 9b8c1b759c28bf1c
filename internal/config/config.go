package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	ChatChannelBase        string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIModel            string
	OpenAIEmbeddingModel   string
	ModelMinInterval       time.Duration
	ModelRequestTimeout    time.Duration
	PipelineWorkers        int
	PipelineQueueSize      int
	PipelineTaskTimeout    time.Duration
	DockerHost             string
	ExecutionTimeout       time.Duration
	CodeRunMemoryMB        int
	CodeRunCPUShares       int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("STUDYGROUP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "StudyGroup API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("chat.channel_base", "studygroup")
	v.SetDefault("cloudinary.folder", "studygroup/assignments")
	v.SetDefault("model.min_interval", "2s")
	v.SetDefault("model.request_timeout", "30s")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.task_timeout", "2m")
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)

	minInterval, err := time.ParseDuration(v.GetString("model.min_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid model min interval: %w", err)
	}

	requestTimeout, err := time.ParseDuration(v.GetString("model.request_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid model request timeout: %w", err)
	}

	taskTimeout, err := time.ParseDuration(v.GetString("pipeline.task_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid pipeline task timeout: %w", err)
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		ChatChannelBase:        v.GetString("chat.channel_base"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		OpenAIBaseURL:          v.GetString("openai_base_url"),
		OpenAIModel:            v.GetString("openai_model"),
		OpenAIEmbeddingModel:   v.GetString("openai_embedding_model"),
		ModelMinInterval:       minInterval,
		ModelRequestTimeout:    requestTimeout,
		PipelineWorkers:        v.GetInt("pipeline.workers"),
		PipelineQueueSize:      v.GetInt("pipeline.queue_size"),
		PipelineTaskTimeout:    taskTimeout,
		DockerHost:             v.GetString("docker_host"),
		ExecutionTimeout:       time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:        v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:       v.GetInt("code_run_cpu_shares"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.PipelineWorkers <= 0 {
		cfg.PipelineWorkers = 4
	}

	if cfg.PipelineQueueSize <= 0 {
		cfg.PipelineQueueSize = 64
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

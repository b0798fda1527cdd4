// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the service.
const EnvPrefix = "LEAF_SERVICE"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	GRPCPort    int    `mapstructure:"grpc_port"`

	// Model configuration
	Model         string   `mapstructure:"model"`
	ModelMetadata string   `mapstructure:"model_metadata"`
	ONNXLibrary   string   `mapstructure:"onnx_library"`
	InputName     string   `mapstructure:"input_name"`
	OutputName    string   `mapstructure:"output_name"`
	ClassLabels   []string `mapstructure:"class_labels"`
	ApplySoftmax  bool     `mapstructure:"apply_softmax"`

	// Preprocessing configuration
	ImageSize     int    `mapstructure:"image_size"`
	ResizeFilter  string `mapstructure:"resize_filter"`
	Normalization string `mapstructure:"normalization"`

	// HTTP surface
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	TemplatesDir   string        `mapstructure:"templates_dir"`
	StaticDir      string        `mapstructure:"static_dir"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`

	// Prediction cache (disabled when Redis is empty)
	Redis         string        `mapstructure:"redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("port", 8000)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("grpc_port", 0)

	v.SetDefault("model", "models/potato_disease_model_1.onnx")
	v.SetDefault("model_metadata", "")
	v.SetDefault("onnx_library", "")
	v.SetDefault("input_name", "")
	v.SetDefault("output_name", "")
	v.SetDefault("class_labels", []string{"Early Blight", "Late Blight", "Healthy"})
	v.SetDefault("apply_softmax", false)

	v.SetDefault("image_size", 256)
	v.SetDefault("resize_filter", "bicubic")
	v.SetDefault("normalization", "none")

	v.SetDefault("max_upload_bytes", 10<<20)
	v.SetDefault("templates_dir", "")
	v.SetDefault("static_dir", "")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("shutdown_grace", 5*time.Second)

	v.SetDefault("redis", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", 10*time.Minute)

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("use_mock_inference", false)
}

// Load loads configuration from environment variables, an optional .env file
// and an optional config file. An empty configPath searches the default
// locations and tolerates a missing file.
// Priority (highest to lowest): env vars > config file > defaults
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also read OTEL standard env vars
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		v.SetDefault("otel_endpoint", otelEndpoint)
		v.SetDefault("otel_enabled", true)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/leaf-service/")
		v.AddConfigPath("$HOME/.leaf-service")

		// Read config file if present (ignore error if not found)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				// Config file was found but another error occurred
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ClassLabels = trimAll(cfg.ClassLabels)
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)

	return &cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPCPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.GRPCPort != 0 && (c.GRPCPort == c.Port || c.GRPCPort == c.MetricsPort) {
		return fmt.Errorf("grpc_port must differ from port and metrics_port")
	}
	if c.Model == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("invalid image size: %d", c.ImageSize)
	}
	switch c.ResizeFilter {
	case "nearest", "bilinear", "bicubic", "lanczos3":
	default:
		return fmt.Errorf("invalid resize filter %q (want nearest, bilinear, bicubic or lanczos3)", c.ResizeFilter)
	}
	switch c.Normalization {
	case "none", "unit":
	default:
		return fmt.Errorf("invalid normalization %q (want none or unit)", c.Normalization)
	}
	if len(c.ClassLabels) == 0 && c.ModelMetadata == "" {
		return fmt.Errorf("class_labels must not be empty")
	}
	seen := make(map[string]struct{}, len(c.ClassLabels))
	for _, l := range c.ClassLabels {
		if _, dup := seen[l]; dup {
			return fmt.Errorf("duplicate class label %q", l)
		}
		seen[l] = struct{}{}
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}

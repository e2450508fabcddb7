package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Generate  GenerateConfig
	Export    ExportConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
}

type GenerateConfig struct {
	Concurrency   int
	ThumbnailSize int
}

type ExportConfig struct {
	// Target is "local" or "minio".
	Target   string
	LocalDir string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// DatabaseConfig leaves DSN empty to keep variants in memory only.
type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type LogConfig struct {
	Debug bool
}

// Load reads the environment after merging in any .env files found in the
// working directory. Variables already set win over the files.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	return Config{
		API: APIConfig{
			Addr:           env("VARIANTFORGE_API_ADDR", "127.0.0.1:8080"),
			MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 64<<20)),
		},
		Generate: GenerateConfig{
			Concurrency:   envInt("GENERATE_CONCURRENCY", max(2, runtime.NumCPU())),
			ThumbnailSize: envInt("THUMBNAIL_SIZE", 400),
		},
		Export: ExportConfig{
			Target:   env("EXPORT_TARGET", "local"),
			LocalDir: env("EXPORT_LOCAL_DIR", "./.variantforge-export"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "variantforge-exports"),
			Prefix:    env("MINIO_PREFIX", ""),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "variantforge"),
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("TRACE_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Debug: envBool("LOG_DEBUG", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Log       LogConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Chunk     ChunkConfig
	Ingest    IngestConfig
	Identity  IdentityConfig
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // "json" or "text"
}

// DatabaseConfig はデータベース接続設定。パスワードは持たない（IAM トークン認証）
type DatabaseConfig struct {
	Host       string
	Port       int
	Name       string
	User       string // 空の場合は解決したプリンシパルから導出
	SSLMode    string
	MaxConns   int
	Collection string

	// StoreDriver は "native"（pgx プール）または "legacy"（database/sql + ワーカープール）
	StoreDriver    string
	WorkerPoolSize int

	RetryMaxAttempts int
}

// EmbeddingConfig は Embedding サービス設定
type EmbeddingConfig struct {
	Provider          string // "openai" or "ollama"
	Model             string
	Dimension         int
	APIKey            string
	BaseURL           string
	BatchSize         int
	RequestsPerSecond float64
	MaxRetries        int
	// TokenBudget は1回の呼び出しあたりのトークン上限。0 の場合はトークン数で分割しない
	TokenBudget int
}

// ChunkConfig はチャンク分割設定
type ChunkConfig struct {
	Size    int
	Overlap int
}

// IngestConfig は取り込み設定
type IngestConfig struct {
	DuplicatePolicy   string
	OverwriteStrategy string
	Concurrency       int
}

// IdentityConfig はプリンシパル解決の設定
type IdentityConfig struct {
	MetadataTimeout time.Duration
	CLIConfigDir    string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:             getEnv("DB_HOST", "localhost"),
			Port:             getEnvAsInt("DB_PORT", 5432),
			Name:             getEnv("DB_NAME", "hansard"),
			User:             getEnv("DB_USER", ""),
			SSLMode:          getEnv("DB_SSLMODE", "require"),
			MaxConns:         getEnvAsInt("DB_MAX_CONNS", 8),
			Collection:       getEnv("DB_COLLECTION", "hansard"),
			StoreDriver:      getEnv("DB_STORE_DRIVER", "native"),
			WorkerPoolSize:   getEnvAsInt("DB_WORKER_POOL_SIZE", 8),
			RetryMaxAttempts: getEnvAsInt("DB_RETRY_MAX_ATTEMPTS", 5),
		},
		Embedding: EmbeddingConfig{
			Provider:          getEnv("EMBEDDING_PROVIDER", "openai"),
			Model:             getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:         getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			APIKey:            getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:           getEnv("EMBEDDING_BASE_URL", ""),
			BatchSize:         getEnvAsInt("EMBEDDING_BATCH_SIZE", 100),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 5),
			MaxRetries:        getEnvAsInt("EMBEDDING_MAX_RETRIES", 3),
			TokenBudget:       getEnvAsInt("EMBEDDING_TOKEN_BUDGET", 0),
		},
		Chunk: ChunkConfig{
			Size:    getEnvAsInt("CHUNK_SIZE", 1000),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 100),
		},
		Ingest: IngestConfig{
			DuplicatePolicy:   getEnv("INGEST_DUPLICATE_POLICY", "skip"),
			OverwriteStrategy: getEnv("INGEST_OVERWRITE_STRATEGY", "reembed"),
			Concurrency:       getEnvAsInt("INGEST_CONCURRENCY", 4),
		},
		Identity: IdentityConfig{
			MetadataTimeout: getEnvAsDuration("IDENTITY_METADATA_TIMEOUT", 750*time.Millisecond),
			CLIConfigDir:    getEnv("CLOUDSDK_CONFIG", ""),
		},
	}

	return cfg, nil
}

// Validate は列挙値と数値範囲を検証し、すべての問題をまとめて返します
func (c *Config) Validate() error {
	var errs []error

	oneOf := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q must be one of %s", key, value, strings.Join(allowed, ", ")))
	}
	positive := func(key string, value int) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %d", key, value))
		}
	}

	oneOf("LOG_LEVEL", c.Log.Level, "debug", "info", "warn", "error")
	oneOf("LOG_FORMAT", c.Log.Format, "json", "text")
	oneOf("DB_STORE_DRIVER", c.Database.StoreDriver, "native", "legacy")
	oneOf("EMBEDDING_PROVIDER", c.Embedding.Provider, "openai", "ollama")
	oneOf("INGEST_DUPLICATE_POLICY", c.Ingest.DuplicatePolicy, "skip", "overwrite", "reject")
	oneOf("INGEST_OVERWRITE_STRATEGY", c.Ingest.OverwriteStrategy, "reembed", "reuse")

	positive("DB_PORT", c.Database.Port)
	positive("DB_MAX_CONNS", c.Database.MaxConns)
	positive("DB_WORKER_POOL_SIZE", c.Database.WorkerPoolSize)
	positive("DB_RETRY_MAX_ATTEMPTS", c.Database.RetryMaxAttempts)
	positive("EMBEDDING_DIMENSION", c.Embedding.Dimension)
	positive("EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize)
	positive("CHUNK_SIZE", c.Chunk.Size)
	positive("INGEST_CONCURRENCY", c.Ingest.Concurrency)

	if c.Database.Collection == "" {
		errs = append(errs, errors.New("DB_COLLECTION: must not be empty"))
	}
	if c.Embedding.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_MAX_RETRIES: must not be negative, got %d", c.Embedding.MaxRetries))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_REQUESTS_PER_SECOND: must not be negative, got %g", c.Embedding.RequestsPerSecond))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP: must be in [0, CHUNK_SIZE), got %d", c.Chunk.Overlap))
	}

	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "750ms"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

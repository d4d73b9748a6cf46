package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// コレクション設定
	Collection CollectionConfig

	// Embedding設定（OpenAI互換API）
	Embedding EmbeddingConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// 検索設定
	Search SearchConfig

	// インジェスト設定
	Ingest IngestConfig

	// 終了処理設定
	Shutdown ShutdownConfig

	// ログ設定
	Log LogConfig

	// Git設定
	Git GitConfig
}

// DatabaseConfig はデータベース接続設定
// URL が指定された場合は個別項目より優先します
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// CollectionConfig は検索対象コレクションの設定
type CollectionConfig struct {
	Name      string
	Dimension int
}

// EmbeddingConfig はEmbeddingプロバイダの設定
type EmbeddingConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	BatchSize      int
	BatchTokens    int
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	CacheSize      int  // クエリEmbeddingのLRUキャッシュ件数（0で無効）
	SendDimensions bool // dimensions パラメータを送るか
}

// ChunkingConfig はチャンク分割の設定
type ChunkingConfig struct {
	Size    int
	Overlap int
}

// SearchConfig は検索の設定
type SearchConfig struct {
	DefaultK int
	Timeout  time.Duration // 0 なら呼び出し元のコンテキストのみ
}

// IngestConfig はインジェストの設定
type IngestConfig struct {
	Timeout time.Duration // 0 なら呼び出し元のコンテキストのみ
}

// ShutdownConfig は終了処理の設定
type ShutdownConfig struct {
	PoolGrace  time.Duration // 接続プールのクローズ猶予
	ForceAfter time.Duration // シグナル受信後に強制終了するまでの時間
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// GitConfig はGit操作設定
type GitConfig struct {
	CloneDir      string
	SSHKeyPath    string
	SSHPassword   string // SSH秘密鍵のパスワード（パスフレーズ）
	DefaultBranch string // 空ならリモートの HEAD
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
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 0),
		},
		Collection: CollectionConfig{
			Name:      getEnv("PG_COLLECTION_NAME", "documents"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		},
		Embedding: EmbeddingConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Model:          getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			BatchSize:      getEnvAsInt("EMBEDDING_BATCH_SIZE", 100),
			BatchTokens:    getEnvAsInt("EMBEDDING_BATCH_TOKENS", 250000),
			Workers:        getEnvAsInt("EMBEDDING_WORKERS", 4),
			MaxRetries:     getEnvAsInt("EMBEDDING_MAX_RETRIES", 2),
			RequestTimeout: getEnvAsDuration("EMBEDDING_REQUEST_TIMEOUT", 60*time.Second),
			CacheSize:      getEnvAsInt("EMBEDDING_CACHE_SIZE", 512),
			SendDimensions: getEnvAsBool("EMBEDDING_SEND_DIMENSIONS", true),
		},
		Chunking: ChunkingConfig{
			Size:    getEnvAsInt("CHUNK_SIZE", 1000),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 150),
		},
		Search: SearchConfig{
			DefaultK: getEnvAsInt("SEARCH_DEFAULT_K", 4),
			Timeout:  getEnvAsDuration("SEARCH_TIMEOUT", 30*time.Second),
		},
		Ingest: IngestConfig{
			Timeout: getEnvAsDuration("INGEST_TIMEOUT", 0),
		},
		Shutdown: ShutdownConfig{
			PoolGrace:  getEnvAsDuration("SHUTDOWN_POOL_GRACE", 3*time.Second),
			ForceAfter: getEnvAsDuration("SHUTDOWN_FORCE_AFTER", 5*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Git: GitConfig{
			CloneDir:      getEnv("GIT_CLONE_DIR", "/var/lib/hybrid-rag/repos"),
			SSHKeyPath:    getEnv("GIT_SSH_KEY_PATH", ""),
			SSHPassword:   getEnv("GIT_SSH_PASSWORD", ""),
			DefaultBranch: getEnv("GIT_DEFAULT_BRANCH", ""),
		},
	}

	return cfg, nil
}

// Validate は起動前に検出できる設定の誤りを返します
func (c *Config) Validate() error {
	var errs []error

	if _, err := collection.New(c.Collection.Name, c.Collection.Dimension); err != nil {
		errs = append(errs, err)
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive: %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE): %d", c.Chunking.Overlap))
	}
	if c.Search.DefaultK < 0 {
		errs = append(errs, fmt.Errorf("SEARCH_DEFAULT_K must not be negative: %d", c.Search.DefaultK))
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS and DB_MIN_CONNS must not be negative"))
	}
	if c.Embedding.Workers <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_WORKERS must be positive: %d", c.Embedding.Workers))
	}
	if c.Embedding.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_CACHE_SIZE must not be negative: %d", c.Embedding.CacheSize))
	}

	if len(errs) > 0 {
		return collection.Wrap(collection.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
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

// getEnvAsDuration は環境変数を time.Duration として取得します（"30s" 形式、または秒数）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, 4, cfg.Search.DefaultK)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.PoolGrace)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.ForceAfter)
	assert.Equal(t, "documents", cfg.Collection.Name)
	assert.Equal(t, 1536, cfg.Collection.Dimension)
	assert.True(t, cfg.Embedding.SendDimensions)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PG_COLLECTION_NAME", "handbook")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("SEARCH_TIMEOUT", "2s")
	t.Setenv("INGEST_TIMEOUT", "90")
	t.Setenv("EMBEDDING_SEND_DIMENSIONS", "false")
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "handbook", cfg.Collection.Name)
	assert.Equal(t, 768, cfg.Collection.Dimension)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Ingest.Timeout)
	assert.False(t, cfg.Embedding.SendDimensions)
	// 解析できない値はデフォルト値になる
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	const key = "HYBRID_RAG_TEST_CHUNK_SIZE"
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHUNK_SIZE=500\nCHUNK_OVERLAP=50\n"+key+"=1\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("CHUNK_SIZE")
		_ = os.Unsetenv("CHUNK_OVERLAP")
		_ = os.Unsetenv(key)
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, "1", os.Getenv(key))
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "不正なコレクション名", modify: func(c *Config) { c.Collection.Name = "Robert'); DROP TABLE" }},
		{name: "次元が0", modify: func(c *Config) { c.Collection.Dimension = 0 }},
		{name: "オーバーラップがサイズ以上", modify: func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{name: "負のk", modify: func(c *Config) { c.Search.DefaultK = -1 }},
		{name: "ワーカー数が0", modify: func(c *Config) { c.Embedding.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.modify(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, collection.ErrInvalidArgument)
		})
	}
}

package openai

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/core/search"
)

// Embedder は OpenAI 互換の Embeddings API を使用してテキストをベクトルに変換する
type Embedder struct {
	client         openai.Client
	model          string
	dimension      int
	sendDimensions bool
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// DefaultMaxRetries はSDKに任せるリトライ回数のデフォルト値
	DefaultMaxRetries = 2
	// DefaultRequestTimeout は1リクエストあたりのタイムアウト
	DefaultRequestTimeout = 60 * time.Second
	// maxBatchSize は1リクエストで送るテキスト数の上限
	maxBatchSize = 100
)

type embedderOptions struct {
	model          string
	dimension      int
	baseURL        string
	maxRetries     int
	requestTimeout time.Duration
	sendDimensions bool
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithBaseURL は OpenAI 互換サーバ（ローカル推論サーバなど）の URL を指定する
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithMaxRetries はSDKのリトライ回数を指定する
func WithMaxRetries(n int) EmbedderOption {
	return func(o *embedderOptions) {
		o.maxRetries = n
	}
}

// WithRequestTimeout は1リクエストあたりのタイムアウトを指定する
func WithRequestTimeout(d time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestTimeout = d
	}
}

// WithSendDimensions はリクエストに dimensions パラメータを含めるかを指定する
// text-embedding-3 系以外のモデルは dimensions を受け付けない
func WithSendDimensions(send bool) EmbedderOption {
	return func(o *embedderOptions) {
		o.sendDimensions = send
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:          DefaultEmbeddingModel,
		dimension:      DefaultEmbeddingDimension,
		maxRetries:     DefaultMaxRetries,
		requestTimeout: DefaultRequestTimeout,
		sendDimensions: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(options.maxRetries),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}
	if options.requestTimeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(options.requestTimeout))
	}

	return &Embedder{
		client:         openai.NewClient(clientOpts...),
		model:          options.model,
		dimension:      options.dimension,
		sendDimensions: options.sendDimensions,
	}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）
// 戻り値は入力と同じ順序・件数になる
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", collection.ErrEmbeddingProvider)
	}

	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum of %d", collection.ErrEmbeddingProvider, len(texts), maxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.sendDimensions && e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate embeddings: %w", collection.ErrEmbeddingProvider, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", collection.ErrEmbeddingProvider, len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, 0, len(data))
	for _, d := range data {
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}

	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す（OpenAI APIは最大100件）
func (e *Embedder) MaxBatchSize() int {
	return maxBatchSize
}

// インターフェース実装の確認
var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ search.Embedder    = (*Embedder)(nil)
)

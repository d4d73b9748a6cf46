package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion/chunk"
)

// stubSchema はテスト用の SchemaManager
type stubSchema struct {
	err    error
	calls  int
	events *[]string
}

func (s *stubSchema) EnsureSchema(ctx context.Context, coll collection.Collection) error {
	s.calls++
	if s.events != nil {
		*s.events = append(*s.events, "schema")
	}
	return s.err
}

// stubRepository はテスト用の Repository
type stubRepository struct {
	mu         sync.Mutex
	existing   int64
	deleteErr  error
	insertErr  error
	failInsert int // n回目（1始まり）の InsertChunks を失敗させる。0なら insertErr を常に返す
	inserts    int
	inserted   []*collection.Chunk
	events     *[]string
}

func (r *stubRepository) DeleteAll(ctx context.Context, coll collection.Collection) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		*r.events = append(*r.events, "delete")
	}
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	n := r.existing
	r.existing = 0
	return n, nil
}

func (r *stubRepository) InsertChunks(ctx context.Context, coll collection.Collection, chunks []*collection.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if r.events != nil {
		*r.events = append(*r.events, "insert")
	}
	if r.insertErr != nil && (r.failInsert == 0 || r.failInsert == r.inserts) {
		return r.insertErr
	}
	r.inserted = append(r.inserted, chunks...)
	return nil
}

// stubEmbedder はテスト用の Embedder
type stubEmbedder struct {
	mu        sync.Mutex
	dim       int
	vectorDim int // 0 なら dim を使う
	maxBatch  int
	err       error
	failCall  int // n回目（1始まり）の呼び出しを失敗させる。0なら err を常に返す
	dropOne   bool
	calls     int
	batchLens []int
}

func (e *stubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.batchLens = append(e.batchLens, len(texts))
	if e.err != nil && (e.failCall == 0 || e.failCall == e.calls) {
		return nil, e.err
	}

	dim := e.dim
	if e.vectorDim > 0 {
		dim = e.vectorDim
	}
	vectors := make([][]float32, 0, len(texts))
	for range texts {
		vectors = append(vectors, make([]float32, dim))
	}
	if e.dropOne && len(vectors) > 0 {
		vectors = vectors[1:]
	}
	return vectors, nil
}

func (e *stubEmbedder) Dimension() int    { return e.dim }
func (e *stubEmbedder) MaxBatchSize() int { return e.maxBatch }
func (e *stubEmbedder) ModelName() string { return "stub-embedding" }

// wordCounter は空白区切りの単語数をトークン数とみなす
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func newTestSplitter(t *testing.T) *chunk.RecursiveSplitter {
	t.Helper()
	s, err := chunk.NewRecursiveSplitter(chunk.DefaultChunkSize, chunk.DefaultChunkOverlap)
	require.NoError(t, err)
	return s
}

func testCollection() collection.Collection {
	return collection.Collection{Name: "documents", Dimension: 8}
}

func threeDocs() []Document {
	return []Document{
		{Source: "data/a.txt", Content: "Alpha document."},
		{Source: "data/b.txt", Content: "Bravo document."},
		{Source: "data/c.txt", Content: "Charlie document."},
	}
}

// oneChunkPerBatch は1チャンクずつ逐次処理する設定
func oneChunkPerBatch() *PipelineConfig {
	return &PipelineConfig{EmbeddingWorkerCount: 1, EmbeddingBatchSize: 1, EmbeddingBatchTokens: 0}
}

func TestIngest_Success(t *testing.T) {
	ctx := context.Background()
	var events []string
	schema := &stubSchema{events: &events}
	repo := &stubRepository{existing: 5, events: &events}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100}
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	svc := NewIngestService(schema, repo, embedder, newTestSplitter(t),
		WithIngestTokenCounter(wordCounter{}),
		WithIngestClock(func() time.Time { return fixed }),
	)

	docs := []Document{
		{Source: "data/expense_policy.txt", Content: "Expense reports are due within 30 days of purchase."},
		{Source: "data/cats.txt", Title: "Cats", Content: "The cat sat on the mat.", Extra: map[string]any{"lang": "en"}},
	}

	result, err := svc.Ingest(ctx, testCollection(), docs)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 2, result.ChunksWritten)
	assert.Equal(t, 1, result.Batches)
	assert.True(t, result.Cleared)
	assert.Equal(t, int64(5), result.Deleted)
	assert.Equal(t, []string{"schema", "delete", "insert"}, events)

	require.Len(t, repo.inserted, 2)

	first := repo.inserted[0]
	assert.Equal(t, "Expense reports are due within 30 days of purchase.", first.Content)
	assert.Equal(t, "data/expense_policy.txt", first.Metadata.Source)
	assert.Equal(t, "expense policy", first.Metadata.Title)
	assert.True(t, first.Metadata.LoadedAt.Equal(fixed))
	assert.Equal(t, 0, first.Metadata.Extra[MetadataKeyChunkIndex])
	assert.Equal(t, 9, first.Metadata.Extra[MetadataKeyTokenCount])
	assert.Len(t, first.Embedding, 8)

	second := repo.inserted[1]
	assert.Equal(t, "Cats", second.Metadata.Title)
	assert.Equal(t, "en", second.Metadata.Extra["lang"])
	// 同一実行のチャンクは同じ loaded_at を持つ
	assert.True(t, first.Metadata.LoadedAt.Equal(second.Metadata.LoadedAt))
}

func TestIngest_SchemaFailureLeavesCollectionUntouched(t *testing.T) {
	ctx := context.Background()
	schema := &stubSchema{err: errors.New("permission denied to create extension")}
	repo := &stubRepository{existing: 3}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100}

	svc := NewIngestService(schema, repo, embedder, newTestSplitter(t))

	_, err := svc.Ingest(ctx, testCollection(), threeDocs())
	require.Error(t, err)
	assert.ErrorIs(t, err, collection.ErrSchema)
	assert.Equal(t, int64(3), repo.existing)
	assert.Equal(t, 0, embedder.calls)
}

func TestIngest_InvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		coll     collection.Collection
		embedDim int
		docs     []Document
	}{
		{name: "不正なコレクション名", coll: collection.Collection{Name: "Bad-Name", Dimension: 8}, embedDim: 8, docs: threeDocs()},
		{name: "次元が0", coll: collection.Collection{Name: "documents", Dimension: 0}, embedDim: 0, docs: threeDocs()},
		{name: "Embedderと次元が不一致", coll: testCollection(), embedDim: 16, docs: threeDocs()},
		{name: "ソースが空", coll: testCollection(), embedDim: 8, docs: []Document{{Source: " ", Content: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := &stubSchema{}
			repo := &stubRepository{}
			svc := NewIngestService(schema, repo, &stubEmbedder{dim: tt.embedDim, maxBatch: 10}, newTestSplitter(t))

			_, err := svc.Ingest(context.Background(), tt.coll, tt.docs)
			require.Error(t, err)
			assert.ErrorIs(t, err, collection.ErrInvalidArgument)
			assert.Equal(t, 0, schema.calls)
		})
	}
}

func TestIngest_EmbeddingFailureReportsPartialState(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepository{}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100, err: errors.New("rate limited"), failCall: 2}

	svc := NewIngestService(&stubSchema{}, repo, embedder, newTestSplitter(t),
		WithIngestPipelineConfig(oneChunkPerBatch()),
	)

	_, err := svc.Ingest(ctx, testCollection(), threeDocs())
	require.Error(t, err)
	assert.ErrorIs(t, err, collection.ErrEmbeddingProvider)

	ingestErr, ok := IsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, 1, ingestErr.ChunksWritten)
	assert.True(t, ingestErr.Cleared)
	assert.Equal(t, []string{"data/b.txt", "data/c.txt"}, ingestErr.FailedSources)
	assert.Len(t, repo.inserted, 1)
}

func TestIngest_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepository{insertErr: errors.New("disk full"), failInsert: 1}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100}

	svc := NewIngestService(&stubSchema{}, repo, embedder, newTestSplitter(t),
		WithIngestPipelineConfig(oneChunkPerBatch()),
	)

	_, err := svc.Ingest(ctx, testCollection(), threeDocs())
	require.Error(t, err)
	assert.ErrorIs(t, err, collection.ErrPersistence)
	assert.NotErrorIs(t, err, collection.ErrEmbeddingProvider)

	ingestErr, ok := IsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, 0, ingestErr.ChunksWritten)
	assert.Equal(t, []string{"data/a.txt", "data/b.txt", "data/c.txt"}, ingestErr.FailedSources)
}

func TestIngest_EmbeddingShapeIsVerified(t *testing.T) {
	tests := []struct {
		name     string
		embedder *stubEmbedder
	}{
		{name: "次元不一致", embedder: &stubEmbedder{dim: 8, vectorDim: 4, maxBatch: 100}},
		{name: "ベクトル数不一致", embedder: &stubEmbedder{dim: 8, maxBatch: 100, dropOne: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepository{}
			svc := NewIngestService(&stubSchema{}, repo, tt.embedder, newTestSplitter(t))

			_, err := svc.Ingest(context.Background(), testCollection(), threeDocs())
			require.Error(t, err)
			assert.ErrorIs(t, err, collection.ErrEmbeddingProvider)
			assert.Empty(t, repo.inserted)
		})
	}
}

func TestIngest_DeleteFailureIsNotCleared(t *testing.T) {
	repo := &stubRepository{deleteErr: errors.New("connection reset")}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100}
	svc := NewIngestService(&stubSchema{}, repo, embedder, newTestSplitter(t))

	_, err := svc.Ingest(context.Background(), testCollection(), threeDocs())
	require.Error(t, err)
	assert.ErrorIs(t, err, collection.ErrPersistence)

	ingestErr, ok := IsIngestError(err)
	require.True(t, ok)
	assert.False(t, ingestErr.Cleared)
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, repo.inserts)
}

func TestIngest_EmptyInputClearsCollection(t *testing.T) {
	repo := &stubRepository{existing: 7}
	embedder := &stubEmbedder{dim: 8, maxBatch: 100}
	svc := NewIngestService(&stubSchema{}, repo, embedder, newTestSplitter(t))

	result, err := svc.Ingest(context.Background(), testCollection(), []Document{{Source: "data/empty.txt", Content: "  \n"}})
	require.NoError(t, err)
	assert.True(t, result.Cleared)
	assert.Equal(t, int64(7), result.Deleted)
	assert.Equal(t, 0, result.ChunksWritten)
	assert.Equal(t, 0, embedder.calls)
}

func TestIngest_BatchSizeIsClippedToEmbedderMax(t *testing.T) {
	docs := make([]Document, 0, 7)
	for i := 0; i < 7; i++ {
		docs = append(docs, Document{Source: fmt.Sprintf("data/%d.txt", i), Content: fmt.Sprintf("Document number %d.", i)})
	}

	repo := &stubRepository{}
	embedder := &stubEmbedder{dim: 8, maxBatch: 3}
	svc := NewIngestService(&stubSchema{}, repo, embedder, newTestSplitter(t),
		WithIngestPipelineConfig(&PipelineConfig{EmbeddingWorkerCount: 2, EmbeddingBatchSize: 100}),
	)

	result, err := svc.Ingest(context.Background(), testCollection(), docs)
	require.NoError(t, err)
	assert.Equal(t, 7, result.ChunksWritten)
	assert.Equal(t, 3, result.Batches)
	for _, n := range embedder.batchLens {
		assert.LessOrEqual(t, n, 3)
	}
	assert.Len(t, repo.inserted, 7)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{name: "拡張子を除去", source: "data/policy.txt", want: "policy"},
		{name: "区切り文字を空白に", source: "data/expense_report-rules.md", want: "expense report rules"},
		{name: "拡張子なし", source: "README", want: "README"},
		{name: "末尾スラッシュ", source: "docs/handbook/", want: "handbook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.source))
		})
	}
}

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// DefaultK はハイブリッド検索で返す件数のデフォルト値
const DefaultK = 4

// SearchService はベクトル検索と全文検索を並行実行し、RRF で統合する
type SearchService struct {
	coll    collection.Collection
	vector  *vectorChannel
	lexical *lexicalChannel
	fusion  *RRFFusion
	logger  *slog.Logger
}

type searchServiceOptions struct {
	fusion *RRFFusion
	logger *slog.Logger
}

// SearchServiceOption は SearchService のオプション設定
type SearchServiceOption func(*searchServiceOptions)

// WithSearchLogger は SearchService にロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchServiceOption {
	return func(o *searchServiceOptions) {
		o.logger = logger
	}
}

// WithSearchFusion は統合方法を差し替える
func WithSearchFusion(fusion *RRFFusion) SearchServiceOption {
	return func(o *searchServiceOptions) {
		o.fusion = fusion
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(repo Repository, embedder Embedder, coll collection.Collection, opts ...SearchServiceOption) *SearchService {
	options := searchServiceOptions{
		fusion: NewRRFFusion(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.fusion == nil {
		options.fusion = NewRRFFusion()
	}

	return &SearchService{
		coll:    coll,
		vector:  &vectorChannel{repo: repo, embedder: embedder},
		lexical: &lexicalChannel{repo: repo},
		fusion:  options.fusion,
		logger:  options.logger,
	}
}

// HybridSearch はクエリに対する上位 k 件を統合スコアの降順で返す
func (s *SearchService) HybridSearch(ctx context.Context, queryText string, k int) ([]ResultItem, error) {
	result, err := s.HybridSearchDetailed(ctx, queryText, k)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// HybridSearchDetailed は HybridSearch の結果に各チャネルの状況を添えて返す
func (s *SearchService) HybridSearchDetailed(ctx context.Context, queryText string, k int) (*SearchResult, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must not be negative: %d", collection.ErrInvalidArgument, k)
	}
	if k == 0 {
		return &SearchResult{Items: []ResultItem{}}, nil
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("%w: query is required", collection.ErrInvalidArgument)
	}

	startTime := time.Now()

	var (
		vectorHits  []*Candidate
		lexicalHits []*Candidate
		lexicalErr  error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := s.vector.search(gctx, s.coll, queryText, k)
		if err != nil {
			return err
		}
		vectorHits = hits
		return nil
	})

	// 全文検索の失敗は検索全体を止めない
	g.Go(func() error {
		hits, err := s.lexical.search(gctx, s.coll, queryText, k)
		if err != nil {
			lexicalErr = err
			if gctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("全文検索に失敗。ベクトル検索のみで継続します",
				"collection", s.coll.Name,
				"error", err,
			)
			return nil
		}
		lexicalHits = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ハイブリッド検索に失敗: %w", err)
	}

	items := s.fusion.Fuse(vectorHits, lexicalHits, k)

	result := &SearchResult{
		Items:           items,
		VectorHits:      len(vectorHits),
		LexicalHits:     len(lexicalHits),
		LexicalDegraded: lexicalErr != nil,
		LexicalErr:      lexicalErr,
		CollectionEmpty: len(vectorHits) == 0,
	}

	s.logger.Debug("ハイブリッド検索が完了",
		"collection", s.coll.Name,
		"k", k,
		"vectorHits", result.VectorHits,
		"lexicalHits", result.LexicalHits,
		"fused", len(items),
		"degraded", result.LexicalDegraded,
		"duration", time.Since(startTime),
	)

	return result, nil
}

// Collection は検索対象のコレクションを返す
func (s *SearchService) Collection() collection.Collection {
	return s.coll
}

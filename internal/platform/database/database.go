package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// ErrCloseTimeout はプールのクローズが猶予時間内に終わらなかったことを示す
var ErrCloseTimeout = errors.New("timed out closing connection pool")

// Database はデータベース接続プールを保持します
type Database struct {
	Pool *pgxpool.Pool

	closeOnce sync.Once
	closeErr  error
}

// ConnectionParams はデータベース接続パラメータ
// URL が指定された場合は個別項目より優先します
type ConnectionParams struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns int32
	MinConns int32
}

// ConnString は接続文字列を返します
func (p ConnectionParams) ConnString() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.DBName,
		p.SSLMode,
	)
}

// New は新しいデータベース接続を作成します
func New(ctx context.Context, params ConnectionParams) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(params.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if params.MaxConns > 0 {
		poolConfig.MaxConns = params.MaxConns
	}
	if params.MinConns > 0 {
		poolConfig.MinConns = params.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %w", collection.ErrConnection, err)
	}

	// 接続テスト
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", collection.ErrConnection, err)
	}

	return &Database{Pool: pool}, nil
}

// WithConn はプールから1接続を取得して fn を実行し、どの経路でも必ず返却します
func (d *Database) WithConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := d.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to acquire connection: %w", collection.ErrConnection, err)
	}
	defer conn.Release()

	if err := fn(conn); err != nil {
		// 失敗後に接続が切れていれば接続エラーとして扱う
		if conn.Conn().IsClosed() {
			return collection.Wrap(collection.ErrConnection, err)
		}
		return err
	}
	return nil
}

// Close はプールを閉じます。ctx の期限までに閉じ終わらなければ ErrCloseTimeout を返します
// 2回目以降の呼び出しは最初の結果を返します
func (d *Database) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if d.Pool == nil {
			return
		}

		done := make(chan struct{})
		go func() {
			d.Pool.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			d.closeErr = fmt.Errorf("%w: %w", ErrCloseTimeout, ctx.Err())
		}
	})
	return d.closeErr
}

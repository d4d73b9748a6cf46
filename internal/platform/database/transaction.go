package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx は1接続上でトランザクションを開始し、fn が成功すればコミット、失敗すればロールバックします
func (d *Database) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return d.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return Transact(ctx, conn, fn)
	})
}

// Beginner はトランザクションを開始できる接続
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transact は tx を開始して fn に渡し、結果に応じてコミットまたはロールバックします
func Transact(ctx context.Context, db Beginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

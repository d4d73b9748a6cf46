package collection

import (
	"fmt"
	"regexp"
)

const (
	// MaxNameLength はコレクション名の最大長
	// インデックス名（<name>_metadata_fts_idx）が PostgreSQL の識別子上限63バイトに収まる長さ
	MaxNameLength = 40

	// MaxDimension は pgvector の HNSW インデックスが扱える最大次元
	MaxDimension = 2000
)

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateName はコレクション名が許可された識別子であるかを検証する
// SQL に埋め込む前に必ず通すこと（埋め込み時はさらに引用符で囲む）
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidArgument)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: collection name %q exceeds %d characters", ErrInvalidArgument, name, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name %q must match %s", ErrInvalidArgument, name, namePattern.String())
	}
	return nil
}

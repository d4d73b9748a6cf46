package collection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DistanceCosine は唯一サポートする距離関数
const DistanceCosine = "cosine"

// メタデータの既知キー
const (
	MetadataKeySource   = "source"
	MetadataKeyTitle    = "title"
	MetadataKeyLoadedAt = "loaded_at"
)

// Collection はチャンクを格納する名前付きテーブルとその Embedding 次元を表す
type Collection struct {
	Name      string
	Dimension int
}

// New は名前と次元を検証して Collection を作成する
func New(name string, dimension int) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return Collection{}, err
	}
	if dimension <= 0 || dimension > MaxDimension {
		return Collection{}, fmt.Errorf("%w: dimension must be in 1..%d, got %d", ErrInvalidArgument, MaxDimension, dimension)
	}
	return Collection{Name: name, Dimension: dimension}, nil
}

// Distance は距離関数名を返す
func (c Collection) Distance() string {
	return DistanceCosine
}

// Chunk は保存・検索の単位となるテキスト断片
type Chunk struct {
	ID        uuid.UUID // 挿入時にサーバ側で採番される（挿入前は uuid.Nil）
	Content   string
	Metadata  Metadata
	Embedding []float32
}

// Metadata はチャンクのメタデータ
// エンジンが依存するキーは型付きフィールドで保持し、それ以外は Extra に退避する
type Metadata struct {
	Source   string
	Title    string
	LoadedAt time.Time
	Extra    map[string]any
}

// MarshalJSON は既知キーと Extra を同一階層のJSONオブジェクトに展開する
func (m Metadata) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		obj[k] = v
	}
	obj[MetadataKeySource] = m.Source
	obj[MetadataKeyTitle] = m.Title
	if !m.LoadedAt.IsZero() {
		obj[MetadataKeyLoadedAt] = m.LoadedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(obj)
}

// UnmarshalJSON は既知キーを型付きフィールドへ、それ以外を Extra へ振り分ける
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	*m = Metadata{}
	for k, v := range obj {
		switch k {
		case MetadataKeySource:
			s, _ := v.(string)
			m.Source = s
		case MetadataKeyTitle:
			s, _ := v.(string)
			m.Title = s
		case MetadataKeyLoadedAt:
			s, ok := v.(string)
			if !ok {
				m.setExtra(k, v)
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				// 解釈できない値は失わずに Extra に残す
				m.setExtra(k, v)
				continue
			}
			m.LoadedAt = t
		default:
			m.setExtra(k, v)
		}
	}
	return nil
}

// Get は既知キーも含めてキーに対応する値を返す
func (m Metadata) Get(key string) (any, bool) {
	switch key {
	case MetadataKeySource:
		return m.Source, true
	case MetadataKeyTitle:
		return m.Title, true
	case MetadataKeyLoadedAt:
		if m.LoadedAt.IsZero() {
			return nil, false
		}
		return m.LoadedAt, true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// WithExtra は Extra にキーを追加したコピーを返す
func (m Metadata) WithExtra(key string, value any) Metadata {
	extra := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		extra[k] = v
	}
	extra[key] = value
	m.Extra = extra
	return m
}

func (m *Metadata) setExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

package camera

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SourceConfig はソース作成設定
type SourceConfig struct {
	Device      string        // デバイスパス（空なら Index から決める）
	Index       int           // /dev/video<Index>
	Width       int           // 要求する幅
	Height      int           // 要求する高さ
	FPS         int           // 要求するフレームレート
	Buffers     int           // mmapバッファ数
	Topic       string        // ネットワークソースの購読キー
	Discovery   string        // ピアディスカバリのURL
	Endpoints   []string      // 静的なリレーのURL
	DialTimeout time.Duration // 接続タイムアウト
}

// SourceCreator はソース作成関数の型
type SourceCreator func(config SourceConfig) (FrameSource, error)

// SourceFactory はソース作成ファクトリー
type SourceFactory struct {
	creators map[SourceType]SourceCreator
}

// NewSourceFactory は新しいファクトリーを作成する
func NewSourceFactory() *SourceFactory {
	factory := &SourceFactory{
		creators: make(map[SourceType]SourceCreator),
	}

	factory.Register(SourceTypeDevice, NewUSBCameraSourceFromConfig)
	factory.Register(SourceTypeNetwork, NewNetworkSourceFromConfig)

	return factory
}

// Register はソース作成関数を登録する
func (f *SourceFactory) Register(sourceType SourceType, creator SourceCreator) {
	f.creators[sourceType] = creator
}

// CreateSource はソースを作成する
func (f *SourceFactory) CreateSource(sourceType SourceType, config SourceConfig) (FrameSource, error) {
	creator, exists := f.creators[sourceType]
	if !exists {
		return nil, fmt.Errorf("サポートされていないソースタイプ: %s", sourceType)
	}

	return creator(config)
}

// SupportedTypes はサポートされているソースタイプを返す
func (f *SourceFactory) SupportedTypes() []SourceType {
	types := make([]SourceType, 0, len(f.creators))
	for sourceType := range f.creators {
		types = append(types, sourceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// generateSourceID はユニークなソースIDを生成する
func generateSourceID(t SourceType) string {
	return fmt.Sprintf("%s_%s", t, uuid.NewString())
}

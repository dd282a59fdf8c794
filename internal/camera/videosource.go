package camera

import (
	"context"
	"sync"
)

// SourceType はソースタイプを定義
type SourceType string

const (
	// SourceTypeDevice はローカルのキャプチャデバイス
	SourceTypeDevice SourceType = "device"
	// SourceTypeNetwork はpub/subトピックの購読
	SourceTypeNetwork SourceType = "network"
)

// FrameSource は生フレームの供給源を統一するインターフェース
//
// 実装はデバイスとネットワークの2つだけで、起動時に一度だけ選ばれる。
type FrameSource interface {
	// Open は取得を開始できる状態にする
	Open(ctx context.Context) error

	// Next は次の生フレームを待つ。空のバッファは「フレームなし」を表す
	Next(ctx context.Context) ([]byte, error)

	// Info はソース情報を返す
	Info() SourceInfo

	// Close はソースを閉じる。再度 Open できる
	Close() error
}

// liveSource は無通信のあいだも接続が生きているかを報告できるソース
//
// 生きている接続でのタイムアウトは失敗として数えない。
type liveSource interface {
	Alive() bool
}

// baseSource は共通実装を提供
type baseSource struct {
	info SourceInfo
	mu   sync.RWMutex
}

// Info は基本情報を返す
func (b *baseSource) Info() SourceInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info
}

func (b *baseSource) setStatus(s Status) {
	b.mu.Lock()
	b.info.Status = s
	b.mu.Unlock()
}

func (b *baseSource) setFormat(f Format) {
	b.mu.Lock()
	b.info.Format = f
	b.mu.Unlock()
}

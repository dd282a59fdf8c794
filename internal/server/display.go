package server

import (
	"context"
	"errors"
	"sync"

	"webcamviewer/internal/viewer"
)

// ErrNoFrame はまだフレームが表示されていない場合のエラー
var ErrNoFrame = errors.New("server: フレームがまだありません")

// Display は最新の変換済みフレームを保持する表示面
//
// viewer.Surface を実装し、HTTPクライアントはここから最新フレームを読む。
type Display struct {
	mu      sync.RWMutex
	latest  viewer.ConvertedFrame
	version uint64
	changed chan struct{}
}

// NewDisplay は新しいDisplayを作成する
func NewDisplay() *Display {
	return &Display{changed: make(chan struct{})}
}

// Present はフレームを最新として保持し、待っているクライアントを起こす
func (d *Display) Present(_ context.Context, f viewer.ConvertedFrame) error {
	d.mu.Lock()
	d.latest = f
	d.version++
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()
	return nil
}

// Latest は最新フレームを返す
func (d *Display) Latest() (viewer.ConvertedFrame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.version > 0
}

// Version は表示したフレームの数
func (d *Display) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Next は version より新しいフレームが来るまで待つ
// 間のフレームは飛ばして最新だけを返す。
func (d *Display) Next(ctx context.Context, version uint64) (viewer.ConvertedFrame, uint64, error) {
	for {
		d.mu.RLock()
		if d.version > version {
			f, v := d.latest, d.version
			d.mu.RUnlock()
			return f, v, nil
		}
		changed := d.changed
		d.mu.RUnlock()

		select {
		case <-ctx.Done():
			return viewer.ConvertedFrame{}, version, ctx.Err()
		case <-changed:
		}
	}
}

package camera

import "context"

// deviceRequest はデバイスに要求する設定
type deviceRequest struct {
	Path    string
	Format  Format
	FPS     int
	Buffers int
}

// captureDevice はストリーミング中のキャプチャデバイス
type captureDevice interface {
	// Start はストリーミングを開始する
	Start(ctx context.Context) error
	// Output はフレームが届くチャンネル。停止するとクローズされる
	Output() <-chan []byte
	// Format は実際に設定された形式を返す
	Format() (Format, error)
	Close() error
}

// openDevice はキャプチャデバイスを開く。テストで差し替える
var openDevice = openV4L2Device

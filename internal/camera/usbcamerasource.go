package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// USBCameraSource はV4L2キャプチャデバイスの FrameSource 実装
type USBCameraSource struct {
	baseSource

	request deviceRequest

	devMu  sync.Mutex
	dev    captureDevice
	cancel context.CancelFunc
}

// NewUSBCameraSource は新しいUSBCameraSourceを作成する
func NewUSBCameraSource(path string, requested Format, fps, buffers int) *USBCameraSource {
	return &USBCameraSource{
		baseSource: baseSource{
			info: SourceInfo{
				ID:          generateSourceID(SourceTypeDevice),
				Name:        fmt.Sprintf("USB Camera (%s)", path),
				Type:        SourceTypeDevice,
				Driver:      "v4l2",
				Description: fmt.Sprintf("USB Camera: %s", path),
				Device:      path,
				Requested:   requested,
				Status:      StatusInactive,
			},
		},
		request: deviceRequest{
			Path:    path,
			Format:  requested,
			FPS:     fps,
			Buffers: buffers,
		},
	}
}

// NewUSBCameraSourceFromConfig は設定からUSBCameraSourceを作成する
func NewUSBCameraSourceFromConfig(config SourceConfig) (FrameSource, error) {
	path := config.Device
	if path == "" {
		if config.Index < 0 {
			return nil, fmt.Errorf("デバイス番号が不正です: %d", config.Index)
		}
		path = DevicePath(config.Index)
	}

	// デフォルト設定
	width := 1280
	height := 720
	buffers := 4

	if config.Width > 0 {
		width = config.Width
	}
	if config.Height > 0 {
		height = config.Height
	}
	if config.Buffers > 0 {
		buffers = config.Buffers
	}

	requested := Format{Width: width, Height: height, FourCC: FourCCYUYV}
	return NewUSBCameraSource(path, requested, config.FPS, buffers), nil
}

// Open はデバイスを開いてストリーミングを開始する
func (s *USBCameraSource) Open(ctx context.Context) error {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	if s.dev != nil {
		return nil // 既に開始済み
	}

	const op = "USBCameraSource.Open"

	dev, err := openDevice(s.request)
	if err != nil {
		s.setStatus(StatusError)
		return newError(KindDeviceOpen, op, true, err)
	}

	format, err := dev.Format()
	if err != nil {
		_ = dev.Close()
		s.setStatus(StatusError)
		return newError(KindFormatNegotiation, op, false, fmt.Errorf("形式の取得に失敗: %w", err))
	}

	logrus.WithFields(logrus.Fields{
		"function":  op,
		"device":    s.request.Path,
		"requested": fmt.Sprintf("%dx%d %s", s.request.Format.Width, s.request.Format.Height, s.request.Format.FourCC),
		"in_use":    fmt.Sprintf("%dx%d %s", format.Width, format.Height, format.FourCC),
	}).Info("デバイスの形式をネゴシエーションしました")

	if format.FourCC != FourCCYUYV {
		_ = dev.Close()
		s.setStatus(StatusError)
		return newError(KindFormatNegotiation, op, false,
			fmt.Errorf("デバイスが %s を選択しました（%s のみ対応）", format.FourCC, FourCCYUYV))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		s.setStatus(StatusError)
		return newError(KindDeviceOpen, op, true, fmt.Errorf("ストリーミングの開始に失敗: %w", err))
	}

	s.dev = dev
	s.cancel = cancel
	s.setFormat(format)
	s.setStatus(StatusActive)
	return nil
}

// Next はデバイスから次のフレームを待つ
func (s *USBCameraSource) Next(ctx context.Context) ([]byte, error) {
	s.devMu.Lock()
	dev := s.dev
	s.devMu.Unlock()

	const op = "USBCameraSource.Next"
	if dev == nil {
		return nil, newError(KindCaptureRead, op, false, errors.New("デバイスが開かれていません"))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case buf, ok := <-dev.Output():
		if !ok {
			return nil, newError(KindCaptureRead, op, true, errors.New("デバイスの出力が終了しました"))
		}
		if len(buf) == 0 {
			return nil, nil
		}
		// ドライバのバッファは再利用されるので複製する
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
}

// Close はストリーミングを止めてデバイスを閉じる
func (s *USBCameraSource) Close() error {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	if s.dev == nil {
		return nil // 既に停止済み
	}

	s.cancel()
	err := s.dev.Close()
	s.dev = nil
	s.cancel = nil
	s.setStatus(StatusInactive)

	if err != nil {
		return fmt.Errorf("デバイスのクローズに失敗: %w", err)
	}
	return nil
}

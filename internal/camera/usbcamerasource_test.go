package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	format  Format
	out     chan []byte
	started bool
	closed  bool
}

func (d *fakeDevice) Start(context.Context) error { d.started = true; return nil }
func (d *fakeDevice) Output() <-chan []byte { return d.out }
func (d *fakeDevice) Format() (Format, error) { return d.format, nil }
func (d *fakeDevice) Close() error { d.closed = true; return nil }

// withFakeDevice は openDevice をテスト用に差し替える
func withFakeDevice(t *testing.T, open func(req deviceRequest) (captureDevice, error)) {
	t.Helper()
	orig := openDevice
	openDevice = open
	t.Cleanup(func() { openDevice = orig })
}

func TestUSBCameraSource_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("YUYVでネゴシエーションできる", func(t *testing.T) {
		dev := &fakeDevice{format: Format{Width: 640, Height: 480, FourCC: FourCCYUYV}, out: make(chan []byte, 1)}
		var got deviceRequest
		withFakeDevice(t, func(req deviceRequest) (captureDevice, error) {
			got = req
			return dev, nil
		})

		src, err := NewUSBCameraSourceFromConfig(SourceConfig{Index: 2})
		require.NoError(t, err)
		require.NoError(t, src.Open(ctx))

		assert.Equal(t, "/dev/video2", got.Path)
		assert.Equal(t, Format{Width: 1280, Height: 720, FourCC: FourCCYUYV}, got.Format)
		assert.Equal(t, 4, got.Buffers)
		assert.True(t, dev.started)

		info := src.Info()
		assert.Equal(t, StatusActive, info.Status)
		assert.Equal(t, SourceTypeDevice, info.Type)
		assert.Equal(t, 640, info.Format.Width)
		assert.Equal(t, 1280, info.Requested.Width)

		require.NoError(t, src.Close())
		assert.True(t, dev.closed)
		assert.Equal(t, StatusInactive, src.Info().Status)
	})

	t.Run("YUYV以外はネゴシエーション失敗", func(t *testing.T) {
		dev := &fakeDevice{format: Format{Width: 1280, Height: 720, FourCC: "MJPG"}}
		withFakeDevice(t, func(deviceRequest) (captureDevice, error) { return dev, nil })

		src := NewUSBCameraSource("/dev/video0", Format{Width: 1280, Height: 720, FourCC: FourCCYUYV}, 0, 4)
		err := src.Open(ctx)
		assert.Equal(t, KindFormatNegotiation, KindOf(err))
		assert.False(t, IsTransient(err))
		assert.True(t, dev.closed)
		assert.Equal(t, StatusError, src.Info().Status)
	})

	t.Run("オープン失敗は一時的なエラー", func(t *testing.T) {
		withFakeDevice(t, func(deviceRequest) (captureDevice, error) { return nil, errors.New("busy") })

		src := NewUSBCameraSource("/dev/video0", Format{Width: 1280, Height: 720, FourCC: FourCCYUYV}, 0, 4)
		err := src.Open(ctx)
		assert.Equal(t, KindDeviceOpen, KindOf(err))
		assert.True(t, IsTransient(err))
	})
}

func TestUSBCameraSource_Next(t *testing.T) {
	dev := &fakeDevice{format: Format{Width: 2, Height: 1, FourCC: FourCCYUYV}, out: make(chan []byte, 4)}
	withFakeDevice(t, func(deviceRequest) (captureDevice, error) { return dev, nil })

	src := NewUSBCameraSource("/dev/video0", Format{Width: 2, Height: 1, FourCC: FourCCYUYV}, 0, 4)

	_, err := src.Next(context.Background())
	assert.Equal(t, KindCaptureRead, KindOf(err), "Open前")

	require.NoError(t, src.Open(context.Background()))

	driverBuf := []byte{1, 2, 3, 4}
	dev.out <- driverBuf
	dev.out <- []byte{}

	buf, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
	driverBuf[0] = 99
	assert.Equal(t, byte(1), buf[0], "ドライバのバッファとは独立している")

	buf, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(dev.out)
	_, err = src.Next(context.Background())
	assert.Equal(t, KindCaptureRead, KindOf(err))
	assert.True(t, IsTransient(err))
}

func TestSourceFactory(t *testing.T) {
	factory := NewSourceFactory()
	assert.Equal(t, []SourceType{SourceTypeDevice, SourceTypeNetwork}, factory.SupportedTypes())

	src, err := factory.CreateSource(SourceTypeDevice, SourceConfig{Device: "/dev/video5", Width: 320, Height: 240})
	require.NoError(t, err)
	assert.Equal(t, "/dev/video5", src.Info().Device)
	assert.Equal(t, 320, src.Info().Requested.Width)

	_, err = factory.CreateSource(SourceTypeNetwork, SourceConfig{})
	assert.Error(t, err, "接続先なし")

	src, err = factory.CreateSource(SourceTypeNetwork, SourceConfig{Endpoints: []string{"ws://127.0.0.1:1/pubsub"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, src.Info().Topic)

	_, err = factory.CreateSource(SourceType("x11"), SourceConfig{})
	assert.Error(t, err)

	_, err = factory.CreateSource(SourceTypeDevice, SourceConfig{Index: -1})
	assert.Error(t, err)
}

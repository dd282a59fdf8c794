package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/frame"
	"webcamviewer/internal/pixfmt"
)

// recordingSurface は受け取ったフレームを記録する
type recordingSurface struct {
	mu     sync.Mutex
	frames []ConvertedFrame
	fail   func(f ConvertedFrame) error
}

func (s *recordingSurface) Present(_ context.Context, f ConvertedFrame) error {
	if s.fail != nil {
		if err := s.fail(f); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *recordingSurface) presented() []ConvertedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConvertedFrame(nil), s.frames...)
}

func rawEvent(seq uint64, data []byte) frame.Event {
	return frame.Event{
		Frame:  &frame.Frame{Data: data, Seq: seq, Width: len(data) / 2, Height: 1, Timestamp: time.Now()},
		Source: "test",
	}
}

func TestLoop_ConvertsInOrder(t *testing.T) {
	ch := frame.NewChannel(frame.PolicyUnbounded, 0)
	surface := &recordingSurface{}
	loop := NewLoop(ch, pixfmt.NewConverter(2), pixfmt.LayoutRGBA, surface)

	require.NoError(t, ch.Send(rawEvent(1, []byte{200, 100, 220, 150})))
	require.NoError(t, ch.Send(rawEvent(2, []byte{16, 128, 235, 128})))
	ch.Close(nil)

	require.NoError(t, loop.Run(context.Background()))

	frames := surface.presented()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{231, 194, 151, 255, 251, 214, 171, 255}, frames[0].Data)
	assert.Equal(t, []byte{16, 16, 16, 255, 235, 235, 235, 255}, frames[1].Data)
	assert.Equal(t, uint64(1), frames[0].Seq)
	assert.Equal(t, uint64(2), frames[1].Seq)
	assert.Equal(t, pixfmt.LayoutRGBA, frames[0].Layout)
	assert.Equal(t, 2, frames[0].Width)

	stats := loop.Stats()
	assert.Equal(t, uint64(2), stats.Presented)
	assert.Equal(t, uint64(2), stats.LastSeq)
}

func TestLoop_SkipsBadFrames(t *testing.T) {
	ch := frame.NewChannel(frame.PolicyUnbounded, 0)
	surface := &recordingSurface{
		fail: func(f ConvertedFrame) error {
			if f.Seq == 3 {
				return errors.New("surface busy")
			}
			return nil
		},
	}
	loop := NewLoop(ch, pixfmt.NewConverter(1), pixfmt.LayoutRGB24, surface)

	require.NoError(t, ch.Send(rawEvent(1, []byte{1, 2, 3})))
	require.NoError(t, ch.Send(rawEvent(2, []byte{16, 128, 16, 128})))
	require.NoError(t, ch.Send(rawEvent(3, []byte{16, 128, 16, 128})))
	require.NoError(t, ch.Send(frame.Event{Source: "empty"}))
	require.NoError(t, ch.Send(rawEvent(4, []byte{16, 128, 16, 128})))

	cause := errors.New("device gone")
	ch.Close(cause)

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, cause)

	frames := surface.presented()
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(2), frames[0].Seq)
	assert.Equal(t, uint64(4), frames[1].Seq)
	assert.Len(t, frames[0].Data, 6)

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.ConvertErrors)
	assert.Equal(t, uint64(1), stats.PresentErrors)
	assert.Equal(t, "surface busy", stats.LastError)
}

func TestLoop_HonorsContext(t *testing.T) {
	ch := frame.NewChannel(frame.PolicyUnbounded, 0)
	loop := NewLoop(ch, pixfmt.NewConverter(1), pixfmt.LayoutBGRX, &recordingSurface{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.DeadlineExceeded)
}

// scriptedSource は決まった数のフレームを返した後、指定のエラーを返す
type scriptedSource struct {
	mu     sync.Mutex
	frames int
	sent   int
	end    error
	closed bool
}

func (s *scriptedSource) Open(context.Context) error { return nil }

func (s *scriptedSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames >= 0 && s.sent >= s.frames {
		if s.end != nil {
			return nil, s.end
		}
		s.mu.Unlock()
		<-ctx.Done()
		s.mu.Lock()
		return nil, ctx.Err()
	}
	s.sent++
	return []byte{byte(s.sent), 128, byte(s.sent), 128}, nil
}

func (s *scriptedSource) Info() camera.SourceInfo {
	return camera.SourceInfo{
		ID:     "scripted",
		Name:   "scripted",
		Type:   camera.SourceTypeDevice,
		Format: camera.Format{Width: 2, Height: 1, FourCC: camera.FourCCYUYV},
	}
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func testOptions() Options {
	return Options{
		Layout:  pixfmt.LayoutRGBA,
		Workers: 2,
		Policy:  frame.PolicyUnbounded,
		Acquire: camera.AcquireOptions{MaxRetries: 0},
	}
}

func TestPipeline_FatalSourceErrorDrainsThenReturns(t *testing.T) {
	fatal := &camera.Error{Kind: camera.KindCaptureRead, Op: "test", Err: errors.New("unplugged")}
	src := &scriptedSource{frames: 5, end: fatal}
	surface := &recordingSurface{}
	p := NewPipeline(src, surface, testOptions())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, camera.KindCaptureRead, camera.KindOf(err))

	frames := surface.presented()
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
	}

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.Contains(t, stats.Error, "unplugged")
	assert.Equal(t, uint64(5), stats.Acquire.Acquired)
	assert.Equal(t, uint64(5), stats.Loop.Presented)
	assert.True(t, stats.Channel.Closed)
	assert.Equal(t, "rgba", stats.Layout)
	assert.True(t, src.closed)

	assert.Error(t, p.Run(context.Background()), "2回目の Run")
}

func TestPipeline_CancelIsCleanShutdown(t *testing.T) {
	src := &scriptedSource{frames: 3}
	var presented sync.WaitGroup
	presented.Add(3)
	surface := SurfaceFunc(func(context.Context, ConvertedFrame) error {
		presented.Done()
		return nil
	})
	p := NewPipeline(src, surface, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	presented.Wait()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もパイプラインが停止しませんでした")
	}
	assert.Empty(t, p.Stats().Error)
}

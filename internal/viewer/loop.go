package viewer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"webcamviewer/internal/frame"
	"webcamviewer/internal/pixfmt"
)

// ConvertedFrame は表示用レイアウトに変換済みのフレーム
type ConvertedFrame struct {
	Data      []byte
	Layout    pixfmt.Layout
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
	TraceID   string
}

// Surface は変換済みフレームの表示先
//
// Present に渡したフレームの所有権は Surface に移る。
type Surface interface {
	Present(ctx context.Context, f ConvertedFrame) error
}

// SurfaceFunc は関数を Surface として扱う
type SurfaceFunc func(ctx context.Context, f ConvertedFrame) error

// Present は f を呼ぶ
func (fn SurfaceFunc) Present(ctx context.Context, f ConvertedFrame) error {
	return fn(ctx, f)
}

// LoopStats は表示ループの統計情報
type LoopStats struct {
	Presented     uint64        `json:"presented"`
	ConvertErrors uint64        `json:"convert_errors"`
	PresentErrors uint64        `json:"present_errors"`
	LastSeq       uint64        `json:"last_seq"`
	LastLatency   time.Duration `json:"last_latency_ns"`
	LastError     string        `json:"last_error,omitempty"`
}

// Loop はチャンネルからフレームを受け取り、変換して Surface に渡す
type Loop struct {
	rx      frame.Receiver
	conv    *pixfmt.Converter
	layout  pixfmt.Layout
	surface Surface

	presented     uint64
	convertErrors uint64
	presentErrors uint64
	lastSeq       uint64
	lastLatency   int64

	errMu   sync.RWMutex
	lastErr error
}

// NewLoop は新しいLoopを作成する
func NewLoop(rx frame.Receiver, conv *pixfmt.Converter, layout pixfmt.Layout, surface Surface) *Loop {
	return &Loop{
		rx:      rx,
		conv:    conv,
		layout:  layout,
		surface: surface,
	}
}

// Run はチャンネルがクローズされるまでフレームを処理する
//
// クローズ理由が ErrClosed なら nil、それ以外はそのエラーを返す。
// 変換に失敗したフレームはログに出して読み飛ばす。
func (l *Loop) Run(ctx context.Context) error {
	for {
		ev, err := l.rx.Receive(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrClosed) {
				return nil
			}
			return err
		}
		l.handle(ctx, ev)
	}
}

func (l *Loop) handle(ctx context.Context, ev frame.Event) {
	f := ev.Frame
	if f == nil {
		return
	}
	log := logrus.WithFields(logrus.Fields{
		"function": "Loop.handle",
		"source":   ev.Source,
		"seq":      f.Seq,
		"trace_id": f.TraceID,
	})

	out, err := l.conv.ConvertNew(f.Data, l.layout)
	if err != nil {
		atomic.AddUint64(&l.convertErrors, 1)
		l.setLastErr(err)
		log.WithError(err).Warn("フレームの変換に失敗しました")
		return
	}

	cf := ConvertedFrame{
		Data:      out,
		Layout:    l.layout,
		Width:     f.Width,
		Height:    f.Height,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		TraceID:   f.TraceID,
	}
	if err := l.surface.Present(ctx, cf); err != nil {
		atomic.AddUint64(&l.presentErrors, 1)
		l.setLastErr(err)
		log.WithError(err).Warn("フレームの表示に失敗しました")
		return
	}

	atomic.AddUint64(&l.presented, 1)
	atomic.StoreUint64(&l.lastSeq, f.Seq)
	if !f.Timestamp.IsZero() {
		atomic.StoreInt64(&l.lastLatency, int64(time.Since(f.Timestamp)))
	}
}

func (l *Loop) setLastErr(err error) {
	l.errMu.Lock()
	l.lastErr = err
	l.errMu.Unlock()
}

// Stats は統計のスナップショットを返す
func (l *Loop) Stats() LoopStats {
	s := LoopStats{
		Presented:     atomic.LoadUint64(&l.presented),
		ConvertErrors: atomic.LoadUint64(&l.convertErrors),
		PresentErrors: atomic.LoadUint64(&l.presentErrors),
		LastSeq:       atomic.LoadUint64(&l.lastSeq),
		LastLatency:   time.Duration(atomic.LoadInt64(&l.lastLatency)),
	}
	l.errMu.RLock()
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	l.errMu.RUnlock()
	return s
}

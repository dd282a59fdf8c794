package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/frame"
	"webcamviewer/internal/pixfmt"
)

// Options はパイプラインの設定
type Options struct {
	Layout   pixfmt.Layout
	Workers  int
	Policy   frame.Policy
	Capacity int
	Acquire  camera.AcquireOptions
}

// Stats はパイプライン全体の統計情報
type Stats struct {
	Source  camera.SourceInfo   `json:"source"`
	Acquire camera.AcquireStats `json:"acquire"`
	Channel frame.ChannelStats  `json:"channel"`
	Loop    LoopStats           `json:"loop"`
	Layout  string              `json:"layout"`
	Workers int                 `json:"workers"`
	Running bool                `json:"running"`
	Error   string              `json:"error,omitempty"`
}

// Pipeline は取得ゴルーチン、チャンネル、表示ループをまとめる
//
// 取得側には Sender だけを渡す。Run は一度だけ呼べる。
type Pipeline struct {
	src     camera.FrameSource
	ch      frame.Channel
	acq     *camera.Acquisition
	loop    *Loop
	layout  pixfmt.Layout
	workers int

	mu      sync.RWMutex
	running bool
	started bool
	err     error
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(src camera.FrameSource, surface Surface, opts Options) *Pipeline {
	ch := frame.NewChannel(opts.Policy, opts.Capacity)
	conv := pixfmt.NewConverter(opts.Workers)

	return &Pipeline{
		src:     src,
		ch:      ch,
		acq:     camera.NewAcquisition(src, ch, opts.Acquire),
		loop:    NewLoop(ch, conv, opts.Layout, surface),
		layout:  opts.Layout,
		workers: conv.Workers(),
	}
}

// Run は表示ループを呼び出し元のゴルーチンで実行し、両側が止まるまで待つ
//
// ctx がキャンセルされると取得を止め、キューに残ったフレームを処理してから nil を返す。
// 取得が致命的なエラーで終わった場合はそのエラーを返す。
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("viewer: パイプラインは既に実行されています")
	}
	p.started = true
	p.running = true
	p.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"function":  "Pipeline.Run",
		"source_id": p.src.Info().ID,
		"layout":    p.layout.String(),
		"workers":   p.workers,
	})
	log.Info("パイプラインを開始します")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.acq.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			log.WithError(err).Error("フレーム取得が停止しました")
			p.setErr(err)
		}
		p.ch.Close(err)
	}()

	// キャンセル後も残りを処理するため、表示ループには親のキャンセルを伝えない
	loopErr := p.loop.Run(context.WithoutCancel(ctx))
	wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	log.WithField("presented", p.loop.Stats().Presented).Info("パイプラインを停止しました")

	if loopErr != nil {
		return fmt.Errorf("フレーム取得に失敗: %w", loopErr)
	}
	return nil
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Stats は統計のスナップショットを返す
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	running := p.running
	err := p.err
	p.mu.RUnlock()

	s := Stats{
		Source:  p.src.Info(),
		Acquire: p.acq.Stats(),
		Channel: p.ch.Stats(),
		Loop:    p.loop.Stats(),
		Layout:  p.layout.String(),
		Workers: p.workers,
		Running: running,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

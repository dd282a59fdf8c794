package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"webcamviewer/internal/frame"
)

// idleReopenAfter は生きている接続でタイムアウトがこの回数続いたら開き直す
// 黙って切れた接続もこれで張り直される。
const idleReopenAfter = 10

// AcquireOptions は取得ループの設定
type AcquireOptions struct {
	ReadTimeout   time.Duration // 1回の Next の待ち時間（0なら無制限）
	MaxRetries    int           // 連続失敗の上限
	RetryDelay    time.Duration // 初回の再試行待ち
	MaxRetryDelay time.Duration // 再試行待ちの上限
}

// DefaultAcquireOptions はデフォルトの取得設定を返す
func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		ReadTimeout:   2 * time.Second,
		MaxRetries:    5,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 10 * time.Second,
	}
}

// AcquireStats は取得ループの統計情報
type AcquireStats struct {
	Acquired   uint64 `json:"acquired"`
	Empty      uint64 `json:"empty"`
	ReadErrors uint64 `json:"read_errors"`
	Idle       uint64 `json:"idle_timeouts"`
	OpenErrors uint64 `json:"open_errors"`
	Reopens    uint64 `json:"reopens"`
	LastSeq    uint64 `json:"last_seq"`
	LastError  string `json:"last_error,omitempty"`
}

// Acquisition はソースからフレームを読み続け、Sender へ渡す
//
// 一度 Run が返ったら再利用できない。
type Acquisition struct {
	src    FrameSource
	sender frame.Sender
	opts   AcquireOptions

	acquired   uint64
	empty      uint64
	readErrors uint64
	idle       uint64
	openErrors uint64
	reopens    uint64
	lastSeq    uint64

	errMu   sync.RWMutex
	lastErr error
}

// NewAcquisition は新しいAcquisitionを作成する
func NewAcquisition(src FrameSource, sender frame.Sender, opts AcquireOptions) *Acquisition {
	return &Acquisition{src: src, sender: sender, opts: opts}
}

// Acquire はソースが尽きるかコンテキストが終わるまでフレームを送り続ける
func Acquire(ctx context.Context, src FrameSource, sender frame.Sender, opts AcquireOptions) error {
	return NewAcquisition(src, sender, opts).Run(ctx)
}

// Run は取得ループを実行する
//
// 一時的なエラーは指数バックオフで再試行し、成功したフレームで失敗回数を戻す。
// 再試行の上限を超えたか、一時的でないエラーの場合はそのエラーを返す。
func (a *Acquisition) Run(ctx context.Context) error {
	log := logrus.WithFields(logrus.Fields{
		"function":  "Acquisition.Run",
		"source_id": a.src.Info().ID,
	})
	defer func() {
		if err := a.src.Close(); err != nil {
			log.WithError(err).Warn("ソースのクローズに失敗しました")
		}
	}()

	var (
		seq      uint64
		failures int
		idle     int
		opened   bool
		everOpen bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !opened {
			if err := a.src.Open(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddUint64(&a.openErrors, 1)
				a.setLastErr(err)
				if !IsTransient(err) {
					return err
				}
				failures++
				if failures > a.opts.MaxRetries {
					return fmt.Errorf("再試行の上限を超えました (%d回): %w", a.opts.MaxRetries, err)
				}
				if err := a.backoff(ctx, log, failures, err); err != nil {
					return err
				}
				continue
			}
			if everOpen {
				atomic.AddUint64(&a.reopens, 1)
			}
			opened, everOpen = true, true
		}

		buf, err := a.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 発行者がいないだけなら失敗ではない
			if a.idleTimeout(err) {
				atomic.AddUint64(&a.idle, 1)
				idle++
				if idle >= idleReopenAfter {
					log.WithField("timeouts", idle).Info("無通信が続いたためソースを開き直します")
					_ = a.src.Close()
					opened = false
					idle = 0
				}
				continue
			}
			idle = 0

			atomic.AddUint64(&a.readErrors, 1)
			a.setLastErr(err)
			if !IsTransient(err) {
				return err
			}
			failures++
			if failures > a.opts.MaxRetries {
				return fmt.Errorf("再試行の上限を超えました (%d回): %w", a.opts.MaxRetries, err)
			}
			// タイムアウト以外はセッションごと作り直す
			if !errors.Is(err, context.DeadlineExceeded) {
				_ = a.src.Close()
				opened = false
			}
			if err := a.backoff(ctx, log, failures, err); err != nil {
				return err
			}
			continue
		}

		idle = 0
		if len(buf) == 0 {
			atomic.AddUint64(&a.empty, 1)
			continue
		}

		failures = 0
		seq++
		info := a.src.Info()
		f := &frame.Frame{
			Data:      buf,
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     info.Format.Width,
			Height:    info.Format.Height,
			FourCC:    info.Format.FourCC,
			TraceID:   uuid.NewString(),
		}
		if err := a.sender.Send(frame.Event{Frame: f, Source: info.Name}); err != nil {
			return fmt.Errorf("フレームの送信に失敗: %w", err)
		}
		atomic.AddUint64(&a.acquired, 1)
		atomic.StoreUint64(&a.lastSeq, seq)
	}
}

// next は ReadTimeout 付きで1フレームを読む
func (a *Acquisition) next(ctx context.Context) ([]byte, error) {
	readCtx := ctx
	if a.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, a.opts.ReadTimeout)
		defer cancel()
	}

	buf, err := a.src.Next(readCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		kind := KindCaptureRead
		if a.src.Info().Type == SourceTypeNetwork {
			kind = KindMessageReceive
		}
		return nil, newError(kind, "Acquisition.next", true, err)
	}
	return buf, err
}

// idleTimeout は err が生きている接続での読み込みタイムアウトかを返す
func (a *Acquisition) idleTimeout(err error) bool {
	if !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	ls, ok := a.src.(liveSource)
	return ok && ls.Alive()
}

func (a *Acquisition) backoff(ctx context.Context, log *logrus.Entry, attempt int, cause error) error {
	delay := calculateBackoff(attempt, a.opts)
	log.WithFields(logrus.Fields{
		"attempt":     attempt,
		"max_retries": a.opts.MaxRetries,
		"delay":       delay,
		"error":       cause,
	}).Warn("フレーム取得を再試行します")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff は retryDelay * 2^(attempt-1) を maxRetryDelay で頭打ちにする
func calculateBackoff(attempt int, opts AcquireOptions) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := opts.RetryDelay * time.Duration(1<<uint(attempt-1))
	if opts.MaxRetryDelay > 0 && (delay > opts.MaxRetryDelay || delay < 0) {
		delay = opts.MaxRetryDelay
	}
	return delay
}

func (a *Acquisition) setLastErr(err error) {
	a.errMu.Lock()
	a.lastErr = err
	a.errMu.Unlock()
}

// Stats は統計のスナップショットを返す
func (a *Acquisition) Stats() AcquireStats {
	s := AcquireStats{
		Acquired:   atomic.LoadUint64(&a.acquired),
		Empty:      atomic.LoadUint64(&a.empty),
		ReadErrors: atomic.LoadUint64(&a.readErrors),
		Idle:       atomic.LoadUint64(&a.idle),
		OpenErrors: atomic.LoadUint64(&a.openErrors),
		Reopens:    atomic.LoadUint64(&a.reopens),
		LastSeq:    atomic.LoadUint64(&a.lastSeq),
	}
	a.errMu.RLock()
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	a.errMu.RUnlock()
	return s
}

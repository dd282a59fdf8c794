package frame

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Policy は消費側が遅い場合のキューの振る舞い
type Policy string

const (
	// PolicyUnbounded は全フレームを順番通りに配送する（上限なし）
	PolicyUnbounded Policy = "unbounded"
	// PolicyKeepLatest は容量を超えたら最も古いフレームを捨てる
	PolicyKeepLatest Policy = "latest"
)

// ErrClosed はクローズ済みチャンネルへの操作で返る
var ErrClosed = errors.New("frame: チャンネルはクローズされています")

// ParsePolicy は設定値からPolicyを得る
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyUnbounded:
		return PolicyUnbounded, nil
	case PolicyKeepLatest, "keep-latest":
		return PolicyKeepLatest, nil
	default:
		return "", fmt.Errorf("frame: 未対応のキューポリシー: %q", s)
	}
}

// Sender は取得側に渡す送信専用の能力
type Sender interface {
	// Send はイベントをキューに積む。ブロックしない。
	Send(ev Event) error
}

// Receiver は表示側が使う受信専用の能力
type Receiver interface {
	// Receive は次のイベントを待つ。
	// クローズ後は残りを全て返してからクローズ理由を返す。
	Receive(ctx context.Context) (Event, error)
}

// Channel は取得コンテキストから表示コンテキストへのフレーム配送路
type Channel interface {
	Sender
	Receiver

	// Close は以降の Send を拒否する。err は受信側に伝わる
	Close(err error)

	// Len は未消費のイベント数
	Len() int

	// Stats は統計のスナップショットを返す
	Stats() ChannelStats
}

// ChannelStats はチャンネルの統計情報
type ChannelStats struct {
	Policy    Policy `json:"policy"`
	Capacity  int    `json:"capacity"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	HighWater int    `json:"high_water"`
	Closed    bool   `json:"closed"`
}

// queue は Channel の実装
//
// mu で items を守り、ready は容量1の通知チャンネル。
// 受信側は ready を select するのでコンテキストで待機を中断できる。
type queue struct {
	policy   Policy
	capacity int

	mu       sync.Mutex
	items    []Event
	head     int
	closed   bool
	closeErr error

	sent      uint64
	received  uint64
	dropped   uint64
	highWater int

	ready chan struct{}
}

// NewChannel は新しいChannelを作成する
// PolicyKeepLatest の場合 capacity は1以上に丸められる。
func NewChannel(policy Policy, capacity int) Channel {
	if policy == PolicyKeepLatest && capacity < 1 {
		capacity = 1
	}
	if policy != PolicyKeepLatest {
		policy = PolicyUnbounded
		capacity = 0
	}
	return &queue{
		policy:   policy,
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

func (q *queue) Send(ev Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	if q.policy == PolicyKeepLatest && q.lenLocked() >= q.capacity {
		// 最も古いものを捨てる
		q.items[q.head] = Event{}
		q.head++
		q.dropped++
		q.compactLocked()
	}
	q.items = append(q.items, ev)
	q.sent++
	if n := q.lenLocked(); n > q.highWater {
		q.highWater = n
	}
	q.mu.Unlock()

	q.notify()
	return nil
}

func (q *queue) Receive(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			ev := q.items[q.head]
			q.items[q.head] = Event{}
			q.head++
			q.received++
			q.compactLocked()
			remaining := q.lenLocked()
			q.mu.Unlock()

			if remaining > 0 {
				q.notify()
			}
			return ev, nil
		}
		if q.closed {
			err := q.closeErr
			q.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return Event{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *queue) Close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.closeErr = err
	q.mu.Unlock()

	q.notify()
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *queue) Stats() ChannelStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ChannelStats{
		Policy:    q.policy,
		Capacity:  q.capacity,
		Sent:      q.sent,
		Received:  q.received,
		Dropped:   q.dropped,
		Queued:    q.lenLocked(),
		HighWater: q.highWater,
		Closed:    q.closed,
	}
}

func (q *queue) lenLocked() int {
	return len(q.items) - q.head
}

// compactLocked は消費済みの先頭領域を解放する
func (q *queue) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = Event{}
		}
		q.items = q.items[:n]
		q.head = 0
	}
}

func (q *queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

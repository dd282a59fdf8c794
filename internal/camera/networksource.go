package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"webcamviewer/internal/pubsub"
)

// DefaultTopic はフレームを流す既定のトピックキー
const DefaultTopic = "camera/frames"

// NetworkSource はpub/subトピックを購読する FrameSource 実装
type NetworkSource struct {
	baseSource

	session pubsub.SessionConfig
	topic   string

	mu  sync.Mutex
	s   *pubsub.Session
	sub *pubsub.Subscriber

	skipped    uint64
	mismatched uint64
}

// NewNetworkSource は新しいNetworkSourceを作成する
func NewNetworkSource(cfg pubsub.SessionConfig, topic string, format Format) *NetworkSource {
	if topic == "" {
		topic = DefaultTopic
	}
	return &NetworkSource{
		baseSource: baseSource{
			info: SourceInfo{
				ID:          generateSourceID(SourceTypeNetwork),
				Name:        fmt.Sprintf("Network (%s)", topic),
				Type:        SourceTypeNetwork,
				Driver:      "pubsub",
				Description: fmt.Sprintf("pub/sub subscriber: %s", strings.Join(cfg.Endpoints, ",")),
				Topic:       topic,
				Requested:   format,
				Format:      format,
				Status:      StatusInactive,
			},
		},
		session: cfg,
		topic:   topic,
	}
}

// NewNetworkSourceFromConfig は設定からNetworkSourceを作成する
func NewNetworkSourceFromConfig(config SourceConfig) (FrameSource, error) {
	if config.Discovery == "" && len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("ネットワークソースには接続先かディスカバリURLが必要です")
	}

	width := 1280
	height := 720
	if config.Width > 0 {
		width = config.Width
	}
	if config.Height > 0 {
		height = config.Height
	}

	cfg := pubsub.SessionConfig{
		Discovery:   config.Discovery,
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	}
	return NewNetworkSource(cfg, config.Topic, Format{Width: width, Height: height, FourCC: FourCCYUYV}), nil
}

// Open はセッションを確立してトピックを購読する
func (n *NetworkSource) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.s != nil {
		return nil
	}

	const op = "NetworkSource.Open"

	s, err := pubsub.Open(ctx, n.session)
	if err != nil {
		n.setStatus(StatusError)
		return newError(KindSessionOpen, op, !errors.Is(err, pubsub.ErrNoEndpoints), err)
	}

	sub, err := s.DeclareSubscriber(ctx, n.topic)
	if err != nil {
		_ = s.Close()
		n.setStatus(StatusError)
		return newError(KindSubscription, op, !errors.Is(err, pubsub.ErrRejected), err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   op,
		"session_id": s.ID(),
		"endpoint":   s.Endpoint(),
		"topic":      n.topic,
	}).Info("トピックを購読しました")

	n.s = s
	n.sub = sub
	n.setStatus(StatusActive)
	return nil
}

// Next は次のサンプルを待つ
// エンコーディングが octet-stream でないサンプルは「フレームなし」として扱う。
func (n *NetworkSource) Next(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	sub := n.sub
	n.mu.Unlock()

	const op = "NetworkSource.Next"
	if sub == nil {
		return nil, newError(KindMessageReceive, op, false, errors.New("購読していません"))
	}

	sample, err := sub.Recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindMessageReceive, op, true, err)
	}

	if sample.Encoding != pubsub.EncodingOctetStream {
		n.mu.Lock()
		n.skipped++
		skipped := n.skipped
		n.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": op,
			"topic":    sample.Key,
			"encoding": sample.Encoding,
			"skipped":  skipped,
		}).Warn("未対応のエンコーディングのサンプルを破棄しました")
		return nil, nil
	}

	// 長さが違っても変換はできるので流す。警告は最初の1回だけ
	if want := n.Info().Format.FrameSize(); want > 0 && len(sample.Payload) != want {
		n.mu.Lock()
		n.mismatched++
		first := n.mismatched == 1
		n.mu.Unlock()

		if first {
			logrus.WithFields(logrus.Fields{
				"function": op,
				"topic":    sample.Key,
				"got":      len(sample.Payload),
				"want":     want,
			}).Warn("サンプルの長さが設定したフレームサイズと一致しません")
		}
	}

	out := make([]byte, len(sample.Payload))
	copy(out, sample.Payload)
	return out, nil
}

// Alive はセッションが確立していて終了していなければ true
func (n *NetworkSource) Alive() bool {
	n.mu.Lock()
	s := n.s
	n.mu.Unlock()
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// Close はセッションを閉じる
func (n *NetworkSource) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.s == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = n.sub.Undeclare(ctx)

	err := n.s.Close()
	n.s = nil
	n.sub = nil
	n.setStatus(StatusInactive)
	return err
}

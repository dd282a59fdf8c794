// Package main はpub/subリレーサーバーコマンドの実装です
//
// -publish を付けるとローカルのカメラからフレームを取得し、
// 自身のリレーへトピックとして流す。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/config"
	"webcamviewer/internal/frame"
	"webcamviewer/internal/logging"
	"webcamviewer/internal/pubsub"
	"webcamviewer/internal/server"
)

// publishQueue は送信が遅れたときに保持するフレーム数
const publishQueue = 2

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		publish    = flag.Bool("publish", false, "ローカルカメラのフレームをリレーへ流す")
		topic      = flag.String("topic", "", "フレームを流すトピック (デフォルト: camera/frames)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Webcam viewer relay")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if err := cfg.Apply(config.Overrides{Host: *host, Port: *port, Topic: *topic}); err != nil {
		logrus.Fatalf("設定が不正です: %v", err)
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		logrus.Fatalf("ログ設定に失敗しました: %v", err)
	}

	relay := pubsub.NewRelay()
	srv := server.New(cfg, nil)
	srv.MountRelay(relay)
	srv.SetStatus(func() interface{} { return relay.Stats() })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publishDone := make(chan struct{})
	if *publish {
		go func() {
			defer close(publishDone)
			if err := runPublisher(ctx, cfg, srv); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("パブリッシャーが停止しました")
			}
		}()
	} else {
		close(publishDone)
	}

	logrus.WithField("address", cfg.ServerAddress()).Info("リレーサーバーを起動します")
	if err := srv.Start(ctx); err != nil {
		logrus.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
	stop()
	<-publishDone
}

// runPublisher はローカルのデバイスから取得したフレームを自身のリレーへ流す
func runPublisher(ctx context.Context, cfg *config.Config, srv *server.Server) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "runPublisher",
		"topic":    cfg.Network.Topic,
	})

	addr, err := waitForAddr(ctx, srv)
	if err != nil {
		return err
	}

	src, err := camera.NewSourceFactory().CreateSource(camera.SourceTypeDevice, cfg.SourceConfig())
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗: %w", err)
	}

	session, err := pubsub.Open(ctx, pubsub.SessionConfig{
		Endpoints:   []string{"ws://" + addr + "/pubsub"},
		DialTimeout: cfg.Network.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("セッションの確立に失敗: %w", err)
	}
	defer session.Close()

	pub, err := session.DeclarePublisher(cfg.Network.Topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 遅いときは古いフレームを捨てて最新を送る
	ch := frame.NewChannel(frame.PolicyKeepLatest, publishQueue)
	go func() {
		err := camera.Acquire(ctx, src, ch, cfg.AcquireOptions())
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		ch.Close(err)
	}()

	log.Info("フレームの配信を開始します")
	for {
		ev, err := ch.Receive(context.Background())
		if err != nil {
			if errors.Is(err, frame.ErrClosed) {
				return nil
			}
			return err
		}
		if ev.Frame == nil {
			continue
		}
		if err := pub.Put(ctx, ev.Frame.Data); err != nil {
			return fmt.Errorf("フレームの配信に失敗: %w", err)
		}
	}
}

// waitForAddr はサーバーがリッスンを始めるまで待つ
func waitForAddr(ctx context.Context, srv *server.Server) (string, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr, ok := srv.Addr().(*net.TCPAddr); ok {
			return fmt.Sprintf("127.0.0.1:%d", addr.Port), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

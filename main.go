package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/config"
	"webcamviewer/internal/logging"
	"webcamviewer/internal/server"
	"webcamviewer/internal/viewer"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		source     = flag.String("source", "", "フレームソース (device|network)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	if *help {
		fmt.Println("Webcam viewer")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  webcamviewer [オプション]")
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
	if err := cfg.Apply(config.Overrides{Host: *host, Port: *port, Source: *source}); err != nil {
		logrus.Fatalf("設定が不正です: %v", err)
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		logrus.Fatalf("ログ設定に失敗しました: %v", err)
	}

	if err := run(cfg); err != nil {
		logrus.Fatalf("ビューアーの実行に失敗しました: %v", err)
	}
}

func run(cfg *config.Config) error {
	factory := camera.NewSourceFactory()
	src, err := factory.CreateSource(cfg.SourceType(), cfg.SourceConfig())
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗: %w", err)
	}

	display := server.NewDisplay()
	pipeline := viewer.NewPipeline(src, display, viewer.Options{
		Layout:   cfg.Layout(),
		Workers:  cfg.Viewer.Workers,
		Policy:   cfg.QueuePolicy(),
		Capacity: cfg.Viewer.QueueCapacity,
		Acquire:  cfg.AcquireOptions(),
	})

	srv := server.New(cfg, display)
	srv.SetStatus(func() interface{} { return pipeline.Stats() })
	srv.SetDiscovery(camera.NewLinuxDiscovery())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logrus.WithFields(logrus.Fields{
		"function": "run",
		"source":   cfg.Viewer.Source,
		"layout":   cfg.Layout().String(),
	})

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		log.Info("パイプラインを開始します")
		// 取得が失敗しても表示面は最後のフレームを保持し、サーバーは動き続ける
		if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("パイプラインがエラーで停止しました")
			return
		}
		log.Info("パイプラインが停止しました")
	}()

	log.WithField("address", cfg.ServerAddress()).Info("Webcam viewer サーバーを起動します")
	err = srv.Start(ctx)

	stop()
	<-pipelineDone
	return err
}

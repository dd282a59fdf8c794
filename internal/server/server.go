package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/config"
	"webcamviewer/internal/pubsub"
)

// StatusFunc は /api/status に載せるパイプラインの状態を返す
type StatusFunc func() interface{}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	router     *gin.Engine
	display    *Display
	status     StatusFunc
	relay      *pubsub.Relay
	discovery  camera.Discovery

	// リクエストの親コンテキストを止める。MJPEGストリームが終わる
	stopStreams context.CancelFunc

	routesOnce sync.Once
	addrMu     sync.RWMutex
	addr       net.Addr
}

// New は新しいServerインスタンスを作成する
// display が nil の場合はフレーム関連のエンドポイントを登録しない（リレー専用）。
func New(cfg *config.Config, display *Display) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	baseCtx, stop := context.WithCancel(context.Background())

	return &Server{
		config:      cfg,
		router:      router,
		display:     display,
		stopStreams: stop,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		},
	}
}

// SetStatus はステータスの取得元を設定する
func (s *Server) SetStatus(fn StatusFunc) {
	s.status = fn
}

// MountRelay はpub/subリレーのエンドポイントを追加する
func (s *Server) MountRelay(r *pubsub.Relay) {
	s.relay = r
}

// SetDiscovery はローカルのキャプチャデバイス一覧の取得元を設定する
func (s *Server) SetDiscovery(d camera.Discovery) {
	s.discovery = d
}

// Handler はルート設定済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Addr は実際にリッスンしているアドレスを返す。起動前は nil
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	if s.display != nil {
		api.GET("/frame.png", s.handleFrame)
		api.GET("/stream", s.handleStream)
	}
	if s.discovery != nil {
		api.GET("/devices", s.handleDevices)
	}

	if s.relay != nil {
		s.router.GET("/pubsub", s.relay.Handler())
		s.router.GET("/pubsub/peers", s.relay.PeersHandler())
		s.router.GET("/pubsub/discovery", s.relay.DiscoveryHandler("/pubsub"))
	}

	s.router.GET("/", s.handleRoot)
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()
	s.httpServer.Handler = handler

	ln, err := net.Listen("tcp", s.config.ServerAddress())
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Start",
			"address":  ln.Addr().String(),
		}).Info("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		logrus.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	logrus.Info("サーバーをシャットダウンしています...")

	// MJPEGストリームとWebSocketは Shutdown では終わらないので先に止める
	s.stopStreams()
	if s.relay != nil {
		_ = s.relay.Close()
	}

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	logrus.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをlogrusに出力するミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		}).Debug("HTTPリクエスト")
	}
}

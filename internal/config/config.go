package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/frame"
	"webcamviewer/internal/pixfmt"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Network NetworkConfig `yaml:"network"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	// リッスンするホストとポート
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// 画面のタイトル
	Title string `yaml:"title"`

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// ViewerConfig はフレーム取得と変換の設定
type ViewerConfig struct {
	// device か network
	Source string `yaml:"source" validate:"oneof=device network"`

	// デバイスパス。空なら /dev/video<DeviceIndex>
	Device      string `yaml:"device"`
	DeviceIndex int    `yaml:"device_index" validate:"min=0"`

	// デバイスに要求する形式。FPS が0ならドライバの既定値
	Width   int `yaml:"width" validate:"min=2"`
	Height  int `yaml:"height" validate:"min=1"`
	FPS     int `yaml:"fps" validate:"min=0"`
	Buffers int `yaml:"buffers" validate:"min=1,max=32"`

	// rgba / rgb / bgrx。Workers が0なら GOMAXPROCS
	Layout  string `yaml:"layout"`
	Workers int    `yaml:"workers" validate:"min=0"`

	// unbounded / latest
	Queue         string `yaml:"queue"`
	QueueCapacity int    `yaml:"queue_capacity" validate:"min=0"`

	// 取得ループの再試行
	ReadTimeout   time.Duration `yaml:"read_timeout" validate:"min=0"`
	MaxRetries    int           `yaml:"max_retries" validate:"min=0"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"min=0"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" validate:"min=0"`
}

// NetworkConfig はpub/subの設定
type NetworkConfig struct {
	Topic       string        `yaml:"topic" validate:"required"`
	Discovery   string        `yaml:"discovery" validate:"omitempty,url"`
	Endpoints   []string      `yaml:"endpoints" validate:"dive,url"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"min=0"`
}

// LogConfig はログの設定
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Title:        "Webcam viewer",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Viewer: ViewerConfig{
			Source:        string(camera.SourceTypeDevice),
			DeviceIndex:   0,
			Width:         1280,
			Height:        720,
			Buffers:       4,
			Layout:        pixfmt.LayoutRGBA.String(),
			Queue:         string(frame.PolicyUnbounded),
			QueueCapacity: 8,
			ReadTimeout:   2 * time.Second,
			MaxRetries:    5,
			RetryDelay:    500 * time.Millisecond,
			MaxRetryDelay: 10 * time.Second,
		},
		Network: NetworkConfig{
			Topic:       camera.DefaultTopic,
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、YAMLファイル（path が空なら読まない）、環境変数の順に上書きする。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Overrides はコマンドラインオプションによる上書き。ゼロ値の項目は上書きしない
type Overrides struct {
	Host   string
	Port   int
	Source string
	Topic  string
}

// Apply はコマンドラインオプションで設定を上書きし、再度検証する
func (c *Config) Apply(o Overrides) error {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.Source != "" {
		c.Viewer.Source = o.Source
	}
	if o.Topic != "" {
		c.Network.Topic = o.Topic
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Viewer.Source = getEnvOrDefault("VIEWER_SOURCE", c.Viewer.Source)
	c.Viewer.Layout = getEnvOrDefault("VIEWER_LAYOUT", c.Viewer.Layout)
	c.Network.Topic = getEnvOrDefault("VIEWER_TOPIC", c.Network.Topic)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	// 数字ならデバイス番号、それ以外はパス
	if v := os.Getenv("VIEWER_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Viewer.DeviceIndex = n
			c.Viewer.Device = ""
		} else {
			c.Viewer.Device = v
		}
	}

	if v := os.Getenv("VIEWER_ENDPOINTS"); v != "" {
		var endpoints []string
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				endpoints = append(endpoints, ep)
			}
		}
		c.Network.Endpoints = endpoints
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("無効な設定値 %s (%s=%s): %v", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}

	if c.Viewer.Width%2 != 0 {
		return fmt.Errorf("幅は偶数である必要があります: %d", c.Viewer.Width)
	}
	if _, err := pixfmt.ParseLayout(c.Viewer.Layout); err != nil {
		return err
	}
	if _, err := frame.ParsePolicy(c.Viewer.Queue); err != nil {
		return err
	}
	if c.Viewer.Source == string(camera.SourceTypeNetwork) &&
		c.Network.Discovery == "" && len(c.Network.Endpoints) == 0 {
		return fmt.Errorf("ネットワークソースには network.endpoints か network.discovery が必要です")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SourceType は使用するフレームソースの種類
func (c *Config) SourceType() camera.SourceType {
	return camera.SourceType(c.Viewer.Source)
}

// SourceConfig はソース作成用の設定を返す
func (c *Config) SourceConfig() camera.SourceConfig {
	return camera.SourceConfig{
		Device:      c.Viewer.Device,
		Index:       c.Viewer.DeviceIndex,
		Width:       c.Viewer.Width,
		Height:      c.Viewer.Height,
		FPS:         c.Viewer.FPS,
		Buffers:     c.Viewer.Buffers,
		Topic:       c.Network.Topic,
		Discovery:   c.Network.Discovery,
		Endpoints:   c.Network.Endpoints,
		DialTimeout: c.Network.DialTimeout,
	}
}

// AcquireOptions は取得ループの設定を返す
func (c *Config) AcquireOptions() camera.AcquireOptions {
	return camera.AcquireOptions{
		ReadTimeout:   c.Viewer.ReadTimeout,
		MaxRetries:    c.Viewer.MaxRetries,
		RetryDelay:    c.Viewer.RetryDelay,
		MaxRetryDelay: c.Viewer.MaxRetryDelay,
	}
}

// Layout は出力レイアウトを返す。Validate 済みであること
func (c *Config) Layout() pixfmt.Layout {
	l, _ := pixfmt.ParseLayout(c.Viewer.Layout)
	return l
}

// QueuePolicy はキューのポリシーを返す。Validate 済みであること
func (c *Config) QueuePolicy() frame.Policy {
	p, _ := frame.ParsePolicy(c.Viewer.Queue)
	return p
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

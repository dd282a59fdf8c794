// Package logging はlogrusの初期設定を行う
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Setup は標準ロガーのレベルと形式を設定する
// format は "text" か "json"。
func Setup(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("ログレベルの解析に失敗: %w", err)
	}

	switch strings.ToLower(format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return fmt.Errorf("未対応のログ形式: %q", format)
	}

	if out != nil {
		logrus.SetOutput(out)
	}
	logrus.SetLevel(lvl)
	return nil
}

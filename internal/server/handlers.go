package server

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"webcamviewer/internal/camera"
	"webcamviewer/internal/pixfmt"
	"webcamviewer/internal/viewer"
)

const (
	mjpegBoundary = "frame"
	jpegQuality   = 80
)

// errorResponse はエラー時のレスポンス
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	res := gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.status != nil {
		res["pipeline"] = s.status()
	}
	if s.display != nil {
		res["frames_presented"] = s.display.Version()
	}
	if s.relay != nil {
		res["relay"] = s.relay.Stats()
	}

	c.JSON(http.StatusOK, res)
}

// handleDevices は利用可能なキャプチャデバイスの一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	ctx := c.Request.Context()
	devices, err := s.discovery.ScanDevices(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}

	infos := make([]*camera.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := s.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			// スキャン後に外されたデバイスは飛ばす
			continue
		}
		infos = append(infos, info)
	}

	c.JSON(http.StatusOK, gin.H{"devices": infos})
}

// handleFrame は最新フレームをPNGで返す
func (s *Server) handleFrame(c *gin.Context) {
	f, ok := s.display.Latest()
	if !ok {
		abortWithError(c, http.StatusServiceUnavailable, "no_frame", "フレームがまだ取得されていません")
		return
	}

	body, err := encodeFrame(f, png.Encode)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Data(http.StatusOK, "image/png", body)
}

// handleStream は変換済みフレームをMJPEGで配信する
func (s *Server) handleStream(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	writer := c.Writer
	ctx := c.Request.Context()

	var (
		version uint64
		failing bool
	)
	for {
		f, v, err := s.display.Next(ctx, version)
		if err != nil {
			// クライアントが切断されたかシャットダウン
			return
		}
		version = v

		body, err := encodeFrame(f, func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
		})
		if err != nil {
			// 失敗が続く間は最初の1回だけ出す
			if !failing {
				logrus.WithFields(logrus.Fields{
					"function": "Server.handleStream",
					"seq":      f.Seq,
					"width":    f.Width,
					"height":   f.Height,
					"bytes":    len(f.Data),
					"error":    err,
				}).Warn("フレームのエンコードに失敗しました")
			}
			failing = true
			continue
		}
		failing = false

		header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(body))
		if _, err := writer.WriteString(header); err != nil {
			return
		}
		if _, err := writer.Write(body); err != nil {
			return
		}
		if _, err := writer.WriteString("\r\n"); err != nil {
			return
		}

		// バッファをフラッシュ
		writer.Flush()
	}
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	data := indexData{
		Title:  s.config.Server.Title,
		Width:  s.config.Viewer.Width,
		Height: s.config.Viewer.Height,
		Relay:  s.relay != nil,
	}
	if data.Title == "" {
		data.Title = "Webcam viewer"
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		abortWithError(c, http.StatusInternalServerError, "template_failed", err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// encodeFrame は変換済みフレームを画像形式にエンコードする
func encodeFrame(f viewer.ConvertedFrame, encode func(w io.Writer, img image.Image) error) ([]byte, error) {
	width, height := imageSize(f)
	img, err := pixfmt.ToImage(f.Data, f.Layout, width, height)
	if err != nil {
		return nil, fmt.Errorf("画像の作成に失敗: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return nil, fmt.Errorf("画像のエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// imageSize はデータ長に合う画像サイズを返す
// 幅×高さが合わず、データ長が1行の倍数なら高さを求め直す。
func imageSize(f viewer.ConvertedFrame) (int, int) {
	row := f.Layout.BytesPerPixel() * f.Width
	if row <= 0 || len(f.Data) == 0 || row*f.Height == len(f.Data) {
		return f.Width, f.Height
	}
	if len(f.Data)%row == 0 {
		return f.Width, len(f.Data) / row
	}
	return f.Width, f.Height
}

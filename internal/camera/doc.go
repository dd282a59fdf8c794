// Package camera 生フレームの取得を担う
//
// # 責務
// - FrameSource: デバイス (USBCameraSource) とネットワーク (NetworkSource) の2実装
// - SourceFactory: 設定からソースを一度だけ作る
// - Acquisition: ソースを読み続け、frame.Sender へ順番に送る取得ループ
// - LinuxDiscovery: /dev/video* の検出
//
// # 仕様
// - デバイスには YUYV を要求し、実際に選ばれた形式をログと SourceInfo に出す
// - YUYV 以外が選ばれた場合は FormatNegotiationFailure（圧縮形式は扱わない）
// - 空のバッファは「フレームなし」として読み飛ばす
// - 一時的なエラーは指数バックオフで再試行する。タイムアウト以外はソースを開き直す
// - 各フレームに Seq（1から）、取得時刻、形式、トレースIDを付ける
//
// # 前提要件
//   - Linux の V4L2 デバイス (go4vl)。他のOSではデバイスソースは DeviceOpenFailure になる
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
//   - v4l-utils (任意): カメラ名の取得に使用
package camera

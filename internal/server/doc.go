// Package server は、ビューアーのHTTPサーバーを管理します。
//
// Display は viewer.Surface の実装で、変換済みの最新フレームを保持します。
// HTTPクライアントはPNGスナップショットかMJPEGストリームでそれを見ます。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 最新フレームのPNG/MJPEG配信
//   - パイプラインの状態確認API
//   - pub/subリレーのマウント（cmd/server）
package server

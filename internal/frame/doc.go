// Package frame は取得ゴルーチンから表示ループへ生フレームを運ぶ
//
// # 責務
// - 生フレーム (Frame) と封筒 (Event) の定義
// - 取得側はブロックせずに Send し、表示側は Receive で待つ
//
// # 仕様
// - 配送はFIFO。送った順番通りに受け取る
// - PolicyUnbounded（既定）: 間引き・結合・破棄をしない。消費が遅いとキューは伸び続ける
// - PolicyKeepLatest: 容量を超えると最も古いフレームを捨てる（破棄数を記録）
// - 生産者1・消費者1を前提とする
package frame

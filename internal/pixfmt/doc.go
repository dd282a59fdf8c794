// Package pixfmt はカメラの生フレームを表示用のピクセル配置に変換する
//
// # 責務
// - YUYV (YUY2, 4:2:2) 形式の生バッファを RGBA / RGB24 / BGRX に変換
// - 出力バッファ長の事前検証（不一致は明示的なエラー）
// - 全CPUを使った並列変換
//
// # 仕様
// - 入力4バイト (Y1, Cb, Y2, Cr) が出力2ピクセルになる
// - 2ピクセルは Cb/Cr のみを共有し、隣接グループには依存しない
// - 並列度に関係なく出力はバイト単位で同一
// - BGRX のパディングバイトは常に0を書き込む
// - 状態もI/Oも持たない
package pixfmt

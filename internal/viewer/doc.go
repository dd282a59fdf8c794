// Package viewer は表示側のループを担う
//
// # 責務
// - Loop: チャンネルから1フレームずつ受け取り、変換して Surface に渡す
// - Pipeline: 取得ゴルーチン・チャンネル・Loop を起動から停止までまとめる
//
// # 仕様
// - 変換は表示ループ内で同期的に行う（変換自体は内部で並列化される）
// - 変換に失敗したフレームはログに出して読み飛ばす
// - 取得が致命的なエラーで止まった場合、キューに残ったフレームを処理してからそのエラーを返す
package viewer

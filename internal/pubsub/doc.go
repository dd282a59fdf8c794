// Package pubsub はWebSocket上の軽量なキー単位のpub/sub
//
// # 責務
// - Session: リレーへの接続、購読 (Subscriber) と発行 (Publisher)
// - Relay: gin 上で動く中継サーバー。購読キーに一致するピアへサンプルを転送する
//
// # ワイヤー形式
// - テキストフレーム: JSON制御メッセージ {op, id, key, message}
// - バイナリフレーム: uvarint(len key) key uvarint(len encoding) encoding payload
//
// 生フレームは EncodingOctetStream として送る。
package pubsub

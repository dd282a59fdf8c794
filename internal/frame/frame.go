package frame

import "time"

// Frame は1回の取得で得られた生フレーム
//
// Data は YUYV (Y1,Cb,Y2,Cr の繰り返し) のバイト列。
// Send した後は送信側もどこからも変更してはならない。
type Frame struct {
	Data []byte

	Seq       uint64    // 取得ループ内の連番（1始まり）
	Timestamp time.Time // 取得時刻
	Width     int       // ネゴシエーション後の幅（不明なら0）
	Height    int       // ネゴシエーション後の高さ（不明なら0）
	FourCC    string    // 例: "YUYV"
	TraceID   string
}

// Event はフレームを実行コンテキスト間で運ぶ封筒
type Event struct {
	Frame  *Frame
	Source string // 取得元の識別子（デバイスパスやトピック名）
}

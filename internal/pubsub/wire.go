package pubsub

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodingOctetStream は生バイト列を表すエンコーディングタグ
const EncodingOctetStream = "application/octet-stream"

// 制御メッセージの種類
const (
	opDeclareSubscriber   = "declare_subscriber"
	opUndeclareSubscriber = "undeclare_subscriber"
	opAck                 = "ack"
	opError               = "error"
)

const maxKeyLen = 1024

// ErrMalformedSample は不正なサンプルを受信した場合のエラー
var ErrMalformedSample = errors.New("pubsub: 不正なサンプル")

// Sample はトピックに発行された1メッセージ
type Sample struct {
	Key      string
	Encoding string
	Payload  []byte
}

// controlMessage はテキストフレームで送るJSON制御メッセージ
type controlMessage struct {
	Op      string `json:"op"`
	ID      uint64 `json:"id,omitempty"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
}

// EncodeSample はサンプルをバイナリフレームに詰める
//
//	uvarint(len(key)) key uvarint(len(encoding)) encoding payload
func EncodeSample(s Sample) []byte {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64+len(s.Key)+len(s.Encoding)+len(s.Payload))
	buf = binary.AppendUvarint(buf, uint64(len(s.Key)))
	buf = append(buf, s.Key...)
	buf = binary.AppendUvarint(buf, uint64(len(s.Encoding)))
	buf = append(buf, s.Encoding...)
	buf = append(buf, s.Payload...)
	return buf
}

// DecodeSample はバイナリフレームを解釈する
// Payload は b の部分スライスを指すので、保持する場合はコピーすること。
func DecodeSample(b []byte) (Sample, error) {
	key, rest, err := readString(b)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: key: %v", ErrMalformedSample, err)
	}
	if key == "" {
		return Sample{}, fmt.Errorf("%w: 空のキー", ErrMalformedSample)
	}
	enc, rest, err := readString(rest)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: encoding: %v", ErrMalformedSample, err)
	}
	return Sample{Key: key, Encoding: enc, Payload: rest}, nil
}

// decodeKey はペイロードを読まずにキーだけを取り出す
func decodeKey(b []byte) (string, error) {
	key, _, err := readString(b)
	if err != nil || key == "" {
		return "", ErrMalformedSample
	}
	return key, nil
}

func readString(b []byte) (string, []byte, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 {
		return "", nil, errors.New("長さの読み取りに失敗")
	}
	if n > maxKeyLen || n > uint64(len(b)-size) {
		return "", nil, fmt.Errorf("長さが不正: %d", n)
	}
	end := size + int(n)
	return string(b[size:end]), b[end:], nil
}

package camera

import (
	"context"
	"errors"
	"fmt"
)

// Kind はフレーム取得で起きるエラーの分類
type Kind int

const (
	KindUnknown Kind = iota
	// KindDeviceOpen はデバイスを開けない
	KindDeviceOpen
	// KindFormatNegotiation は要求した形式をデバイスが受け付けない
	KindFormatNegotiation
	// KindCaptureRead はデバイスからの読み取りに失敗
	KindCaptureRead
	// KindSessionOpen はpub/subセッションを確立できない
	KindSessionOpen
	// KindSubscription は購読の宣言に失敗
	KindSubscription
	// KindMessageReceive はサンプルの受信に失敗
	KindMessageReceive
)

func (k Kind) String() string {
	switch k {
	case KindDeviceOpen:
		return "DeviceOpenFailure"
	case KindFormatNegotiation:
		return "FormatNegotiationFailure"
	case KindCaptureRead:
		return "CaptureReadFailure"
	case KindSessionOpen:
		return "SessionOpenFailure"
	case KindSubscription:
		return "SubscriptionFailure"
	case KindMessageReceive:
		return "MessageReceiveFailure"
	default:
		return "Unknown"
	}
}

// Error はフレームソースのエラー
//
// Transient が true のものは取得ループで再試行される。
type Error struct {
	Kind      Kind
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, transient bool, err error) *Error {
	return &Error{Kind: kind, Op: op, Transient: transient, Err: err}
}

// KindOf はエラーの分類を返す。camera.Error でなければ KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient は再試行で回復する可能性のあるエラーかを返す
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

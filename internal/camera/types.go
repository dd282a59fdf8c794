package camera

import (
	"context"
	"encoding/binary"
)

// Status はフレームソースの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中
	StatusActive   Status = "active"   // 取得中
	StatusError    Status = "error"    // エラーが発生
)

// FourCCYUYV はパック形式 4:2:2 (Y1,Cb,Y2,Cr) のFourCC
const FourCCYUYV = "YUYV"

// Format はデバイスとネゴシエーションした画像形式
type Format struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FourCC string `json:"fourcc"`
}

// FrameSize は1フレームのバイト数 (YUYVは1画素2バイト)
func (f Format) FrameSize() int {
	return f.Width * f.Height * 2
}

// SourceInfo はソース情報を表す
type SourceInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        SourceType `json:"type"`
	Driver      string     `json:"driver"`
	Description string     `json:"description"`
	Device      string     `json:"device,omitempty"` // デバイスパス
	Topic       string     `json:"topic,omitempty"`  // ネットワークソースの購読キー
	Requested   Format     `json:"requested"`
	Format      Format     `json:"format"` // 実際に使われる形式
	Status      Status     `json:"status"`
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device string `json:"device"`
	Name   string `json:"name"`
	Index  int    `json:"index"`
}

// fourCCString は32bitのFourCCを文字列にする
func fourCCString(v uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return string(b[:])
}

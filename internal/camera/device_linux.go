//go:build linux && cgo

package camera

import (
	"context"
	"fmt"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// v4l2Device は go4vl のデバイスを captureDevice として扱う
type v4l2Device struct {
	dev *device.Device
}

func openV4L2Device(req deviceRequest) (captureDevice, error) {
	opts := []device.Option{
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtYUYV,
			Width:       uint32(req.Format.Width),
			Height:      uint32(req.Format.Height),
			Field:       v4l2.FieldNone,
		}),
	}
	if req.Buffers > 0 {
		opts = append(opts, device.WithBufferSize(uint32(req.Buffers)))
	}
	if req.FPS > 0 {
		opts = append(opts, device.WithFPS(uint32(req.FPS)))
	}

	dev, err := device.Open(req.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("デバイスのオープンに失敗 %s: %w", req.Path, err)
	}
	return &v4l2Device{dev: dev}, nil
}

func (d *v4l2Device) Start(ctx context.Context) error {
	return d.dev.Start(ctx)
}

func (d *v4l2Device) Output() <-chan []byte {
	return d.dev.GetOutput()
}

func (d *v4l2Device) Format() (Format, error) {
	pf, err := d.dev.GetPixFormat()
	if err != nil {
		return Format{}, err
	}
	return Format{
		Width:  int(pf.Width),
		Height: int(pf.Height),
		FourCC: fourCCString(uint32(pf.PixelFormat)),
	}, nil
}

func (d *v4l2Device) Close() error {
	return d.dev.Close()
}

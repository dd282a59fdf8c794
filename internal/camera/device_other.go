//go:build !linux || !cgo

package camera

import (
	"errors"
	"runtime"
)

func openV4L2Device(req deviceRequest) (captureDevice, error) {
	return nil, errors.New("未対応のプラットフォームです: " + runtime.GOOS)
}

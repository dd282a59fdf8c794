package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0", "videoX", "other"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	discovery := &LinuxDiscovery{dir: dir}
	devices, err := discovery.ScanDevices(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video2"),
		filepath.Join(dir, "video10"),
	}, devices)
}

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	t.Run("存在しないデバイス", func(t *testing.T) {
		assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/video999"))
	})

	t.Run("無効なパス", func(t *testing.T) {
		assert.False(t, discovery.IsDeviceAvailable(ctx, "/invalid/path"))
	})
}

func TestLinuxDiscovery_GetDeviceInfo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	device := filepath.Join(dir, "video3")
	require.NoError(t, os.WriteFile(device, nil, 0o600))

	discovery := &LinuxDiscovery{dir: dir}
	info, err := discovery.GetDeviceInfo(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, device, info.Device)
	assert.Equal(t, 3, info.Index)
	assert.NotEmpty(t, info.Name)

	_, err = discovery.GetDeviceInfo(ctx, filepath.Join(dir, "video99"))
	assert.Error(t, err)
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/dev/video0", DevicePath(0))
	assert.Equal(t, "/dev/video12", DevicePath(12))
	assert.Equal(t, 12, extractDeviceNumber(DevicePath(12)))
	assert.Equal(t, -1, extractDeviceNumber("/dev/null"))
}

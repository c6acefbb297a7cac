//go:build !linux

// internal/tunnel/tunnel_other.go
package tunnel

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// Open is only supported on Linux
func Open(template string, logger *zap.Logger) (*Device, error) {
	logger.Error("Tunnel devices are not supported on this platform",
		zap.String("os", runtime.GOOS),
	)
	return nil, fmt.Errorf("%w: unsupported platform %s", ErrDeviceUnavailable, runtime.GOOS)
}

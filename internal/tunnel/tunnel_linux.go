//go:build linux

// internal/tunnel/tunnel_linux.go
package tunnel

import (
	"fmt"

	"github.com/songgao/water"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Open allocates a TUN interface. A %d in template is expanded by the kernel.
func Open(template string, logger *zap.Logger) (*Device, error) {
	if template == "" {
		template = DefaultNameTemplate
	}

	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: template,
		},
	})
	if err != nil {
		logger.Error("Failed to create tunnel",
			zap.String("template", template),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, template, err)
	}

	logger.Info("Tunnel created", zap.String("interface", ifce.Name()))
	return NewDevice(ifce.Name(), ifce, linkDown, logger), nil
}

func linkDown(name string) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open control socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("SIOCGIFFLAGS: %w", err)
	}

	flags := ifr.Uint16()
	if flags&unix.IFF_UP == 0 {
		return nil
	}
	ifr.SetUint16(flags &^ unix.IFF_UP)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("SIOCSIFFLAGS: %w", err)
	}
	return nil
}

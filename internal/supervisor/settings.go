// internal/supervisor/settings.go
package supervisor

import (
	"errors"
	"fmt"
	"time"

	"ppp-gateway/internal/chat"
	"ppp-gateway/internal/ppp"
	"ppp-gateway/internal/tunnel"
)

const (
	// DefaultMaxConnectRetries is the number of consecutive connect script
	// failures before the modem is reset
	DefaultMaxConnectRetries = 15
	// ModemResetPause is slept after the retry budget is exhausted
	ModemResetPause = 30 * time.Second
	// PollInterval bounds each wait on the tunnel
	PollInterval = time.Second
	// SettleDelay follows protocol disconnect notifications and the modem escape
	SettleDelay = 100 * time.Microsecond
	// EscapeSequence returns the modem to command mode
	EscapeSequence = "+++\r\n"
)

// ErrInvalidSettings is returned when settings cannot be used
var ErrInvalidSettings = errors.New("invalid connection settings")

// Settings describes one dial-up connection
type Settings struct {
	Device            string
	BaudRate          int
	InterfaceTemplate string
	Engine            string

	ConnectScript    string
	DisconnectScript string
	Credentials      ppp.Credentials

	Holdoff           time.Duration
	Persist           bool
	MaxConnectRetries int

	ChatTimeout time.Duration
	ChatEcho    bool
	ChatVerbose bool
}

// withDefaults fills unset optional fields
func (s Settings) withDefaults() Settings {
	if s.InterfaceTemplate == "" {
		s.InterfaceTemplate = tunnel.DefaultNameTemplate
	}
	if s.Engine == "" {
		s.Engine = ppp.SimEngineName
	}
	if s.MaxConnectRetries <= 0 {
		s.MaxConnectRetries = DefaultMaxConnectRetries
	}
	if s.ChatTimeout <= 0 {
		s.ChatTimeout = chat.DefaultTimeout
	}
	return s
}

// Validate checks the settings and parses the chat scripts
func (s Settings) Validate() error {
	_, _, err := s.scripts()
	return err
}

func (s Settings) scripts() (connect, disconnect *chat.Script, err error) {
	if s.Device == "" {
		return nil, nil, fmt.Errorf("%w: device is required", ErrInvalidSettings)
	}
	if s.Holdoff < 0 {
		return nil, nil, fmt.Errorf("%w: holdoff must not be negative", ErrInvalidSettings)
	}
	if s.ConnectScript != "" {
		if connect, err = chat.Parse(s.ConnectScript); err != nil {
			return nil, nil, fmt.Errorf("%w: connect script: %w", ErrInvalidSettings, err)
		}
	}
	if s.DisconnectScript != "" {
		if disconnect, err = chat.Parse(s.DisconnectScript); err != nil {
			return nil, nil, fmt.Errorf("%w: disconnect script: %w", ErrInvalidSettings, err)
		}
	}
	return connect, disconnect, nil
}

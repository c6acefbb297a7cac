// internal/supervisor/connect.go
package supervisor

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// notifyDisconnect tells the engine to drop the link twice, each with a fresh
// transaction id and a settle delay
func (s *Supervisor) notifyDisconnect() {
	for i := 0; i < 2; i++ {
		s.conn.nextID++
		s.engine.Disconnect(s.conn.nextID)
		s.clock.Sleep(SettleDelay)
	}
}

// bringDown marks the tunnel down. Failures are logged only.
func (s *Supervisor) bringDown() {
	if err := s.conn.tun.Down(); err != nil {
		s.logger.Warn("Failed to bring tunnel down", zap.Error(err))
	}
}

// reconnect brings the link up. When first is false the previous link is
// hung up before dialing. The connect script is retried until it succeeds.
func (s *Supervisor) reconnect(first bool) {
	s.bringDown()
	reason := s.Snapshot().LastError
	if reason == "" {
		reason = "reconnect"
	}
	s.endSession(reason)

	if !first {
		s.update(func(snap *Snapshot) { snap.Reconnects++ })
		s.notifyDisconnect()

		if s.disconnect != nil {
			if err := s.conn.chat.Run(s.disconnect); err != nil {
				s.logger.Warn("Disconnect script failed", zap.Error(err))
			}
		}
	}

	s.setState(StateConnecting)

	if s.connect != nil {
		retry := s.settings.MaxConnectRetries
		for {
			err := s.conn.chat.Run(s.connect)
			if err == nil {
				break
			}

			s.logger.Warn("Connect script failed", zap.Error(err), zap.Int("retries_left", retry-1))
			s.update(func(snap *Snapshot) {
				snap.ChatFailures++
				snap.LastChatError = err.Error()
			})
			s.emit(Event{Type: EventChatFailed, Message: err.Error()})

			retry--
			if retry == 0 {
				retry = s.settings.MaxConnectRetries
				s.resetModem()
				s.clock.Sleep(ModemResetPause)
			} else {
				s.clock.Sleep(s.settings.Holdoff)
			}
		}
	}

	s.engine.Init(s.conn.modem, s.settings.Credentials)
	s.engine.Connect()
	s.conn.staged = nil

	sessionID := uuid.NewString()
	s.update(func(snap *Snapshot) {
		snap.SessionID = sessionID
		snap.ConnectedSince = s.clock.Now()
		snap.LastChatError = ""
		s.conn.baseToLink = snap.BytesToLink
		s.conn.baseFromLink = snap.BytesFromLink
	})
	s.setState(StateConnected)
	s.logger.Info("Link connected", zap.String("session_id", sessionID))
	s.emit(Event{Type: EventConnected, SessionID: sessionID})
}

func (s *Supervisor) resetModem() {
	s.update(func(snap *Snapshot) { snap.ModemResets++ })
	s.emit(Event{Type: EventModemReset})

	if s.resetter == nil {
		s.logger.Warn("Connect retries exhausted, no modem reset configured")
		return
	}
	s.logger.Warn("Connect retries exhausted, resetting modem")
	if err := s.resetter.ResetModem(s.settings.Device); err != nil {
		s.logger.Error("Modem reset failed", zap.Error(err))
	}
}

// disconnectLink hangs up for good. Safe to call more than once.
func (s *Supervisor) disconnectLink() {
	s.setState(StateTerminating)
	s.bringDown()
	s.notifyDisconnect()

	if err := s.conn.modem.WriteString(EscapeSequence); err != nil {
		s.logger.Warn("Failed to write modem escape", zap.Error(err))
	}
	s.clock.Sleep(SettleDelay)

	if s.disconnect != nil {
		if err := s.conn.chat.Run(s.disconnect); err != nil {
			s.logger.Warn("Disconnect script failed", zap.Error(err))
		}
		if err := s.conn.modem.ClearDTR(); err != nil {
			s.logger.Warn("Failed to clear DTR", zap.Error(err))
		}
	}

	s.conn.staged = nil
	reason, _ := s.shutdownReason.Load().(string)
	if reason == "" {
		reason = "link terminated"
	}
	s.endSession(reason)
	s.setState(StateDisconnected)
}

// endSession closes the current session record, if any
func (s *Supervisor) endSession(reason string) {
	var snap Snapshot
	s.update(func(cur *Snapshot) {
		snap = *cur
		cur.SessionID = ""
		cur.ConnectedSince = time.Time{}
	})
	if snap.SessionID == "" {
		return
	}
	s.logger.Info("Link disconnected",
		zap.String("session_id", snap.SessionID),
		zap.String("reason", reason),
	)
	s.emit(Event{
		Type:          EventDisconnected,
		SessionID:     snap.SessionID,
		Message:       reason,
		BytesToLink:   snap.BytesToLink - s.conn.baseToLink,
		BytesFromLink: snap.BytesFromLink - s.conn.baseFromLink,
	})
}

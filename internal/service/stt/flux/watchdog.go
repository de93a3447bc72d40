package flux

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// watchdog injects silence while a turn is open and the caller has gone quiet,
// so the server can still detect the end of the turn.
func (s *Session) watchdog(ctx context.Context, conn *websocket.Conn, d *dispatcher, done chan struct{}) {
	defer close(done)

	silence := s.cfg.silenceFrame(s.cfg.Watchdog.SilenceDuration)
	ticker := time.NewTicker(s.cfg.Watchdog.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.needsSilence() {
			continue
		}

		s.logger.Debug().Int("bytes", len(silence)).Msg("Injecting silence mid-turn")
		if err := s.writeBinary(ctx, conn, silence); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Every later write on a gorilla connection fails once one has.
			sockErr := NewSocketError("write", err)
			s.logger.Warn().Err(sockErr).Msg("Failed to send silence")
			s.reportError(d, sockErr)
			return
		}
		s.touchAudio()
		s.metrics.RecordSilenceFrame(len(silence))
	}
}

func (s *Session) needsSilence() bool {
	if !s.speaking.Load() || s.State() != Open {
		return false
	}
	idle, ok := s.sinceLastAudio()
	return ok && idle > s.cfg.Watchdog.SilenceThreshold
}

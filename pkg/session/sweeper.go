package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper closes sessions that have seen no activity for longer than
// the idle timeout. It runs on a cron schedule so the daemon does not
// keep a ticker per session.
type Sweeper struct {
	manager     *Manager
	idleTimeout time.Duration
	cron        *cron.Cron
	onClose     func(sessionID string)
}

// NewSweeper creates an idle session sweeper. onClose, when non-nil, is
// called after a session is closed.
func NewSweeper(manager *Manager, idleTimeout time.Duration, onClose func(sessionID string)) *Sweeper {
	return &Sweeper{
		manager:     manager,
		idleTimeout: idleTimeout,
		cron:        cron.New(),
		onClose:     onClose,
	}
}

// Start begins the sweep schedule
func (s *Sweeper) Start() error {
	if s.idleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	if _, err := s.cron.AddFunc("@every 1m", s.SweepNow); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()

	log.Info().Dur("idle_timeout", s.idleTimeout).Msg("Idle session sweeper started")
	return nil
}

// Stop halts the sweep schedule
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Idle session sweeper stopped")
}

// SweepNow closes every session idle past the timeout. Only idle
// sessions are swept; a session mid-turn keeps its LastActivity fresh
// anyway.
func (s *Sweeper) SweepNow() {
	closed := 0

	for _, id := range s.manager.List() {
		swept, err := s.manager.CloseIfIdle(id, s.idleTimeout)
		if err != nil {
			log.Warn().Str("session", id).Err(err).Msg("Failed to close idle session")
			continue
		}
		if swept {
			closed++
			if s.onClose != nil {
				s.onClose(id)
			}
		}
	}

	if closed > 0 {
		log.Info().Int("closed", closed).Msg("Swept idle sessions")
	}
}

// sweeper.go implements the ExpirySweeper background job, which periodically
// deactivates sessions and permission grants whose deadlines have passed.
// Expiry is otherwise enforced lazily at validation time, so the sweeper's job
// is only to reclaim rows for tokens and grants that are never presented
// again; missing a cycle affects nothing but table bloat.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/querygate/querygate/internal/telemetry"
)

// SessionSweepStore deactivates expired session rows.
// *repositories.SessionRepository satisfies it.
type SessionSweepStore interface {
	DeactivateExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// GrantSweeper deactivates expired grants and flushes the decision cache.
// *access.Ledger satisfies it.
type GrantSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirySweeper periodically reclaims expired sessions and grants.
type ExpirySweeper struct {
	sessions SessionSweepStore
	grants   GrantSweeper
	interval time.Duration
	stopChan chan struct{}
}

// NewExpirySweeper creates a new ExpirySweeper. interval defaults to 5 minutes
// when not positive.
func NewExpirySweeper(sessions SessionSweepStore, grants GrantSweeper, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ExpirySweeper{
		sessions: sessions,
		grants:   grants,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Expiry sweeper started (interval: %v)", s.interval)

	// Run once immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			log.Println("Expiry sweeper stopped")
			return
		case <-ctx.Done():
			log.Println("Expiry sweeper stopped (context cancelled)")
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *ExpirySweeper) Stop() {
	close(s.stopChan)
}

func (s *ExpirySweeper) runSweep(ctx context.Context) {
	if sessions, err := s.sessions.DeactivateExpiredSessions(ctx, time.Now().UTC()); err != nil {
		log.Printf("Expiry sweeper: session sweep failed: %v", err)
	} else if sessions > 0 {
		telemetry.ExpiredSweptTotal.WithLabelValues("session").Add(float64(sessions))
		log.Printf("Expiry sweeper: deactivated %d expired sessions", sessions)
	}

	if grants, err := s.grants.SweepExpired(ctx); err != nil {
		log.Printf("Expiry sweeper: grant sweep failed: %v", err)
	} else if grants > 0 {
		telemetry.ExpiredSweptTotal.WithLabelValues("grant").Add(float64(grants))
		log.Printf("Expiry sweeper: deactivated %d expired grants", grants)
	}
}

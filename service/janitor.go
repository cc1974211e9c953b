package service

import (
	"context"
	"log"
	"time"

	"reportpilot/faults"
)

// RunJanitor ends idle sessions every JanitorInterval until ctx is done.
// A zero IdleTTL disables expiry.
func (o *Orchestrator) RunJanitor(ctx context.Context) {
	if o.opts.IdleTTL <= 0 {
		log.Printf("[JANITOR] Idle expiry disabled")
		return
	}
	ticker := time.NewTicker(o.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.Sweep(ctx, now)
		}
	}
}

// Sweep ends every session idle for longer than IdleTTL at now and returns
// how many it ended. Sessions with an interaction in flight are skipped.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) int {
	sessions, err := o.db.ListSessions()
	if err != nil {
		log.Printf("[JANITOR] Failed to list sessions: %v", err)
		return 0
	}
	ended := 0
	for _, s := range sessions {
		if now.Sub(s.LastActive) <= o.opts.IdleTTL {
			continue
		}
		if o.expire(ctx, s.ID, now) {
			ended++
		}
	}
	if ended > 0 {
		log.Printf("[JANITOR] Ended %d idle sessions", ended)
		if err := o.db.RunGC(); err != nil {
			log.Printf("[JANITOR] Value log GC failed: %v", err)
		}
	}
	return ended
}

// expire ends one session if it is still idle once its lock is held. The
// listing Sweep works from may predate a commit.
func (o *Orchestrator) expire(ctx context.Context, sessionID string, now time.Time) bool {
	release, ok := o.locks.tryAcquire(sessionID)
	if !ok {
		return false
	}
	defer release()

	current, err := o.db.GetSession(sessionID)
	if err != nil {
		if !faults.Is(err, faults.NotFound) {
			log.Printf("[JANITOR] Failed to reload session %s: %v", sessionID, err)
		}
		return false
	}
	if now.Sub(current.LastActive) <= o.opts.IdleTTL {
		return false
	}
	if err := o.end(ctx, sessionID); err != nil {
		log.Printf("[JANITOR] Failed to end idle session %s: %v", sessionID, err)
		return false
	}
	return true
}

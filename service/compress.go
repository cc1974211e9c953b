package service

import (
	"context"
	"log"

	"reportpilot/models"
)

// compress folds turns older than the recent window into the session
// summary once the session is long enough. It runs after the interaction
// is committed; failures are only logged.
func (o *Orchestrator) compress(ctx context.Context, sessionID string, history []*models.Interaction) {
	if o.summarizer == nil || o.opts.CompressAfterTurns <= 0 || len(history) < o.opts.CompressAfterTurns {
		return
	}
	session, err := o.db.GetSession(sessionID)
	if err != nil {
		log.Printf("[ORCHESTRATOR] Compression skipped for %s: %v", sessionID, err)
		return
	}

	keep := len(history) - o.opts.RecentTurns
	var older []models.Turn
	for _, in := range history[:max(keep, 0)] {
		if in.Seq > session.SummarizedUpTo {
			older = append(older, in.Turn())
		}
	}
	if len(older) == 0 {
		return
	}

	// the interaction is already committed, so the caller going away must
	// not cut the summary short
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SummaryTimeout)
	defer cancel()
	summary, err := o.summarizer.Summarize(ctx, session.Summary, older)
	if err != nil {
		log.Printf("[ORCHESTRATOR] Failed to summarize %d turns of session %s: %v", len(older), sessionID, err)
		return
	}

	session.Summary = summary
	session.SummarizedUpTo = older[len(older)-1].Seq
	if err := o.db.PutSession(session); err != nil {
		log.Printf("[ORCHESTRATOR] Failed to store summary of session %s: %v", sessionID, err)
		return
	}
	log.Printf("[ORCHESTRATOR] Compressed session %s up to turn %d", sessionID, session.SummarizedUpTo)
}

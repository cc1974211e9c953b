package strategy

import (
	"context"

	"reportpilot/models"
)

const defaultReply = "I can help you explore your data. Ask for a report, a chart, or a change to the last result."

// Conversation answers without touching sources or the working set.
type Conversation struct{}

func (c *Conversation) Name() models.StrategyName { return models.StrategyConversation }

func (c *Conversation) Run(ctx context.Context, req Request) (*Outcome, error) {
	reply := req.Reply
	if reply == "" {
		reply = defaultReply
	}
	return &Outcome{
		Strategy:    models.StrategyConversation,
		Summary:     reply,
		Suggestions: req.Suggestions,
	}, nil
}

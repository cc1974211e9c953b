package routing

import (
	"context"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"reportpilot/ai"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/validation"
)

var tracer = otel.Tracer("reportpilot/routing")

const (
	unclearReply   = "I couldn't make sense of that request. Could you describe the data or report you need?"
	degradedReply  = "I'm having trouble reaching the assistant right now. Please try again in a moment."
	defaultRecents = 5
)

var starterSuggestions = []string{
	"Show total sales by region",
	"List the top 10 customers by revenue",
	"Compare monthly orders for this year",
}

type Classifier interface {
	ClassifyIntent(ctx context.Context, req ai.IntentRequest) (*ai.Intent, error)
}

// SessionState is the compact view of a session that routing sees.
type SessionState struct {
	HasTable      bool
	LastChartKind models.ChartKind
	TurnCount     int
	RecentTurns   []models.Turn
	Summary       string
}

type Decision struct {
	Strategy models.StrategyName
	// Classified is the label inference returned before tie-breaks.
	Classified models.StrategyName
	// Query is the refined query text when classification offered one.
	Query       string
	Reply       string
	Suggestions []string
	ChartKind   models.ChartKind
	// Degraded is set when inference failed and the decision is a canned
	// conversational reply.
	Degraded bool
	Reason   string
}

type Engine struct {
	classifier  Classifier
	recentTurns int
}

func New(classifier Classifier, recentTurns int) *Engine {
	if recentTurns <= 0 {
		recentTurns = defaultRecents
	}
	return &Engine{classifier: classifier, recentTurns: recentTurns}
}

// Route picks one strategy for query. It has no side effects beyond the
// classification call.
func (e *Engine) Route(ctx context.Context, query string, state SessionState) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "routing.Route")
	defer span.End()

	if reason := validation.CheckQuery(query); reason != "" {
		log.Printf("[ROUTING] Query rejected before classification: %s", reason)
		span.SetAttributes(attribute.String("routing.rejected", string(reason)))
		return &Decision{
			Strategy:    models.StrategyConversation,
			Query:       query,
			Reply:       unclearReply,
			Suggestions: starterSuggestions,
			Reason:      "unusable query: " + string(reason),
		}, nil
	}

	recent := state.RecentTurns
	if len(recent) > e.recentTurns {
		recent = recent[len(recent)-e.recentTurns:]
	}
	intent, err := e.classifier.ClassifyIntent(ctx, ai.IntentRequest{
		Query:         query,
		HasTable:      state.HasTable,
		LastChartKind: state.LastChartKind,
		TurnCount:     state.TurnCount,
		RecentTurns:   recent,
		Summary:       state.Summary,
	})
	if err != nil {
		kind := faults.KindOf(err)
		if ctx.Err() == nil && (kind == faults.Inference || kind == faults.Timeout) {
			log.Printf("[ROUTING] Classification failed, answering conversationally: %v", err)
			span.SetAttributes(attribute.Bool("routing.degraded", true))
			return &Decision{
				Strategy: models.StrategyConversation,
				Query:    query,
				Reply:    degradedReply,
				Degraded: true,
				Reason:   "classification failed",
			}, nil
		}
		return nil, err
	}

	d := decide(query, intent, state.HasTable)
	if d == nil {
		span.SetAttributes(attribute.String("routing.label", intent.Strategy))
		return nil, faults.New(faults.PlanInvalid, "route", "unknown strategy %q", intent.Strategy)
	}
	span.SetAttributes(
		attribute.String("routing.classified", string(d.Classified)),
		attribute.String("routing.strategy", string(d.Strategy)),
	)
	log.Printf("[ROUTING] %s -> %s (%s)", d.Classified, d.Strategy, d.Reason)
	return d, nil
}

// decide applies the deterministic tie-breaks to a classification. It
// returns nil for a label outside the closed strategy set.
func decide(query string, intent *ai.Intent, hasTable bool) *Decision {
	d := &Decision{
		Classified:  models.StrategyName(strings.ToLower(strings.TrimSpace(intent.Strategy))),
		Query:       query,
		Reply:       strings.TrimSpace(intent.Reply),
		Suggestions: intent.Suggestions,
		ChartKind:   models.ChartKind(strings.ToLower(strings.TrimSpace(intent.ChartKind))),
	}
	if refined := strings.TrimSpace(intent.RefinedQuery); refined != "" {
		d.Query = refined
	}
	if d.ChartKind != "" && !d.ChartKind.Supported() {
		d.ChartKind = ""
	}

	if intent.Ambiguous {
		d.Strategy = models.StrategyConversation
		d.Reason = "ambiguous"
		return d
	}
	if !d.Classified.Valid() {
		return nil
	}
	d.Strategy = d.Classified
	d.Reason = "classified"
	if d.Strategy.NeedsWorkingSet() && !hasTable {
		d.Strategy = models.StrategyFullQuery
		d.Reason = "no working-set table"
	}
	return d
}

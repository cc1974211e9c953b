package strategy

import (
	"context"
	"fmt"
	"log"

	"reportpilot/chart"
	"reportpilot/models"
)

// ReuseRechart presents the last result again under a new chart without
// touching sources or creating a table.
type ReuseRechart struct {
	deps Deps
}

func (r *ReuseRechart) Name() models.StrategyName { return models.StrategyReuseRechart }

func (r *ReuseRechart) Run(ctx context.Context, req Request) (*Outcome, error) {
	handle, err := lastTable(req)
	if err != nil {
		return nil, err
	}
	rows, err := r.deps.Store.Query(ctx, handle, "")
	if err != nil {
		return nil, err
	}
	prov := lastProvenance(req.Last)
	result := r.deps.redact(rows, prov)
	meta := result.Meta()

	prev := req.Last.Chart
	kind := req.ChartKind
	var suggestion *chart.Suggestion
	if kind == "" {
		// the user asked for a different presentation without naming one
		suggestion, err = r.deps.Charts.Suggest(ctx, req.Query, meta, chart.SuggestOptions{NoCache: true})
		if err != nil {
			return nil, err
		}
		kind = suggestion.Spec.Kind
	}

	spec := r.rebind(kind, prev, meta)
	if spec == nil {
		if suggestion == nil || suggestion.Spec.Kind != kind {
			suggestion, err = r.deps.Charts.Suggest(ctx, req.Query, meta, chart.SuggestOptions{PreferKind: kind, NoCache: true})
			if err != nil {
				return nil, err
			}
		}
		spec = suggestion.Spec
	}

	summary := ""
	if suggestion != nil && suggestion.Spec == spec {
		summary = chart.FillSummary(suggestion.Summary, result)
	}
	if summary == "" {
		summary = fmt.Sprintf("Showing the previous result as a %s chart.", spec.Kind)
	}

	return &Outcome{
		Strategy:   models.StrategyReuseRechart,
		Result:     result,
		Chart:      spec,
		Summary:    summary,
		Table:      &handle,
		Plan:       req.Last.Plan,
		Provenance: prov,
	}, nil
}

// rebind applies the previous chart's bindings under kind. Bindings to
// columns the table no longer has are dropped. It returns nil when the
// remaining bindings do not fit kind.
func (r *ReuseRechart) rebind(kind models.ChartKind, prev *models.ChartSpec, meta models.ResultMeta) *models.ChartSpec {
	if prev == nil || len(prev.Bindings) == 0 {
		return nil
	}
	spec, err := r.deps.Charts.Compose(kind, prev.Title, prev.Bindings, meta)
	if err != nil {
		log.Printf("[STRATEGY] previous bindings do not fit %s: %v", kind, err)
		return nil
	}
	return spec
}

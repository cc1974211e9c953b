package strategy

import (
	"context"
	"log"

	"reportpilot/ai"
	"reportpilot/chart"
	"reportpilot/models"
	"reportpilot/sources"
)

// FullQuery plans against every registered source plus the session's
// earlier tables, executes, redacts and stores the full result.
type FullQuery struct {
	deps Deps
}

func (q *FullQuery) Name() models.StrategyName { return models.StrategyFullQuery }

func (q *FullQuery) Run(ctx context.Context, req Request) (*Outcome, error) {
	plan, result, prov, err := q.deps.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan.NoMatch {
		return noMatch(models.StrategyFullQuery, plan), nil
	}
	return q.deps.finish(ctx, req, models.StrategyFullQuery, plan, result, prov, true)
}

// DataOnly is FullQuery without chart synthesis.
type DataOnly struct {
	deps Deps
}

func (d *DataOnly) Name() models.StrategyName { return models.StrategyDataOnly }

func (d *DataOnly) Run(ctx context.Context, req Request) (*Outcome, error) {
	plan, result, prov, err := d.deps.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan.NoMatch {
		return noMatch(models.StrategyDataOnly, plan), nil
	}
	return d.deps.finish(ctx, req, models.StrategyDataOnly, plan, result, prov, false)
}

// retrieve plans and executes a query against live sources, with the
// session's working set reachable as one more source. The returned rows
// are already redacted.
func (d Deps) retrieve(ctx context.Context, req Request) (*models.QueryPlan, *models.TabularResult, models.Provenance, error) {
	tables, err := d.Store.Tables(ctx, req.SessionID)
	if err != nil {
		return nil, nil, models.Provenance{}, err
	}
	handles := make([]models.TableHandle, len(tables))
	workingSet := make([]models.TableSchema, len(tables))
	for i, t := range tables {
		handles[i] = t.Handle
		workingSet[i] = models.TableSchema{
			SourceID: models.WorkingSetSourceID,
			Name:     t.Handle.Name,
			Columns:  t.Columns,
			RowCount: t.RowCount,
		}
	}

	plan, err := d.Planner.PlanQuery(ctx, ai.PlanRequest{
		Query:       req.Query,
		Sources:     d.Sources.Schemas(ctx),
		WorkingSet:  workingSet,
		RecentTurns: req.RecentTurns,
		Summary:     req.Summary,
	})
	if err != nil {
		return nil, nil, models.Provenance{}, err
	}
	if plan.NoMatch {
		log.Printf("[STRATEGY] planner found no matching source: %s", plan.UserMessage)
		return plan, nil, models.Provenance{}, nil
	}

	lookup := sources.NewOverlay(d.Sources, d.Store.Source(req.SessionID, handles...))
	out, err := d.Executor.WithCombiner(d.combiner(req.Query)).Execute(ctx, plan, lookup)
	if err != nil {
		return nil, nil, models.Provenance{}, err
	}
	return plan, d.redact(out.Result, out.Provenance), out.Provenance, nil
}

// finish stores result as the interaction's table and derives the chart and
// summary from the redacted rows.
func (d Deps) finish(ctx context.Context, req Request, name models.StrategyName, plan *models.QueryPlan, result *models.TabularResult, prov models.Provenance, withChart bool) (*Outcome, error) {
	handle, err := d.materialize(ctx, req, result)
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		Strategy:   name,
		Result:     result,
		Table:      handle,
		Plan:       plan,
		Provenance: prov,
		NewTable:   handle != nil,
	}

	if !withChart || result.RowCount() == 0 {
		out.Chart = chart.TableSpec("")
		out.Summary = rowsSummary(result.RowCount())
		return out, nil
	}

	suggestion, err := d.Charts.Suggest(ctx, req.Query, result.Meta(), chart.SuggestOptions{PreferKind: req.ChartKind})
	if err != nil {
		d.discard(handle)
		return nil, err
	}
	out.Chart = suggestion.Spec
	out.Summary = chart.FillSummary(suggestion.Summary, result)
	if out.Summary == "" {
		out.Summary = rowsSummary(result.RowCount())
	}
	return out, nil
}

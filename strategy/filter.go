package strategy

import (
	"context"

	"reportpilot/ai"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/sources"
)

// FilterExisting runs a new query over the last working-set table only and
// stores the subset as a new table. Live sources are never reachable from
// its plan.
type FilterExisting struct {
	deps Deps
}

func (f *FilterExisting) Name() models.StrategyName { return models.StrategyFilterExisting }

func (f *FilterExisting) Run(ctx context.Context, req Request) (*Outcome, error) {
	handle, err := lastTable(req)
	if err != nil {
		return nil, err
	}
	table, err := f.deps.Store.Schema(ctx, handle)
	if err != nil {
		return nil, err
	}

	plan, err := f.deps.Planner.PlanQuery(ctx, ai.PlanRequest{
		Query: req.Query,
		WorkingSet: []models.TableSchema{{
			SourceID: models.WorkingSetSourceID,
			Name:     handle.Name,
			Columns:  table.Columns,
			RowCount: table.RowCount,
		}},
		RecentTurns:    req.RecentTurns,
		Summary:        req.Summary,
		WorkingSetOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if plan.NoMatch {
		return noMatch(models.StrategyFilterExisting, plan), nil
	}
	for _, step := range plan.Steps {
		if step.SourceID != models.WorkingSetSourceID {
			return nil, faults.New(faults.PlanInvalid, "filter", "step %s targets %q outside the working set", step.Name, step.SourceID)
		}
	}

	lookup := sources.NewOverlay(nil, f.deps.Store.Source(req.SessionID, handle))
	out, err := f.deps.Executor.WithCombiner(f.deps.combiner(req.Query)).Execute(ctx, plan, lookup)
	if err != nil {
		return nil, err
	}

	// filtered rows inherit the scope of the rows they came from
	prov := lastProvenance(req.Last)
	result := f.deps.redact(out.Result, prov)
	return f.deps.finish(ctx, req, models.StrategyFilterExisting, plan, result, prov, true)
}

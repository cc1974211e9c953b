package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"reportpilot/ai"
	"reportpilot/chart"
	"reportpilot/executor"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/redaction"
	"reportpilot/sources"
	"reportpilot/telemetry"
	"reportpilot/workingset"
)

// Planner is the inference side a retrieving strategy needs.
type Planner interface {
	PlanQuery(ctx context.Context, req ai.PlanRequest) (*models.QueryPlan, error)
	CombineSQL(ctx context.Context, query string, tables []models.TableSchema) (string, error)
}

// Registry is the shared, read-only source registry.
type Registry interface {
	sources.Lookup
	Schemas(ctx context.Context) []models.SourceSchema
}

type Deps struct {
	Planner   Planner
	Charts    *chart.Synthesizer
	Executor  *executor.Executor
	Store     *workingset.Store
	Sources   Registry
	Redaction redaction.Provider
}

// Request is everything a strategy may read for one interaction.
type Request struct {
	SessionID string
	// Seq is the sequence number the new interaction will get.
	Seq   int
	Query string
	// Reply and Suggestions come from classification, for conversation.
	Reply       string
	Suggestions []string
	ChartKind   models.ChartKind
	// Last is the newest interaction that owns a working-set table.
	Last        *models.Interaction
	RecentTurns []models.Turn
	Summary     string
}

// Outcome is a strategy's result before it is committed as an Interaction.
type Outcome struct {
	Strategy    models.StrategyName
	Result      *models.TabularResult
	Chart       *models.ChartSpec
	Summary     string
	Table       *models.TableHandle
	Plan        *models.QueryPlan
	Provenance  models.Provenance
	Suggestions []string
	// NewTable is set when this run materialized Table; the caller drops it
	// if the interaction cannot be committed.
	NewTable bool
	// FallbackFrom names the routed strategy when another one ran instead.
	FallbackFrom models.StrategyName
}

type Strategy interface {
	Name() models.StrategyName
	Run(ctx context.Context, req Request) (*Outcome, error)
}

// errNoTable asks Set.Run to fall back to a full query.
var errNoTable = errors.New("no working-set table for this session")

// Set is the closed set of strategies.
type Set struct {
	deps       Deps
	strategies map[models.StrategyName]Strategy
}

func NewSet(deps Deps) *Set {
	s := &Set{deps: deps, strategies: map[models.StrategyName]Strategy{}}
	for _, st := range []Strategy{
		&Conversation{},
		&ReuseRechart{deps: deps},
		&FilterExisting{deps: deps},
		&FullQuery{deps: deps},
		&DataOnly{deps: deps},
	} {
		s.strategies[st.Name()] = st
	}
	return s
}

func (s *Set) Get(name models.StrategyName) (Strategy, error) {
	st, ok := s.strategies[name]
	if !ok {
		return nil, faults.New(faults.PlanInvalid, "strategy", "unknown strategy %q", name)
	}
	return st, nil
}

// Run executes the named strategy. Reuse and filter fall back to a full
// query when the session has no usable working-set table.
func (s *Set) Run(ctx context.Context, name models.StrategyName, req Request) (*Outcome, error) {
	st, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := st.Run(ctx, req)
	if err != nil && name.NeedsWorkingSet() && (errors.Is(err, errNoTable) || faults.Is(err, faults.NotFound)) {
		log.Printf("[STRATEGY] %s unavailable for session %s (%v), falling back to %s", name, req.SessionID, err, models.StrategyFullQuery)
		telemetry.StrategyFallbacks.WithLabelValues(string(name), string(models.StrategyFullQuery)).Inc()
		out, err = s.strategies[models.StrategyFullQuery].Run(ctx, req)
		if out != nil {
			out.FallbackFrom = name
		}
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[STRATEGY] %s finished in %v (%d rows)", out.Strategy, time.Since(start), out.Result.RowCount())
	return out, nil
}

func (d Deps) redact(result *models.TabularResult, prov models.Provenance) *models.TabularResult {
	if d.Redaction == nil {
		return result.Clone()
	}
	return redaction.Apply(result, prov, d.Redaction.Rules(prov))
}

// lastTable returns the working-set table of req.Last, or errNoTable.
func lastTable(req Request) (models.TableHandle, error) {
	if req.Last == nil || req.Last.Table == nil {
		return models.TableHandle{}, errNoTable
	}
	if req.Last.Table.SessionID != req.SessionID {
		return models.TableHandle{}, faults.New(faults.NotFound, "strategy", "table %s belongs to another session", req.Last.Table.Name)
	}
	return *req.Last.Table, nil
}

func lastProvenance(last *models.Interaction) models.Provenance {
	return models.Provenance{SourceIDs: last.SourceIDs, Tables: last.Tables}
}

// combiner binds the request text to the planner's combination call.
func (d Deps) combiner(query string) executor.Combiner {
	return executor.CombinerFunc(func(ctx context.Context, tables []models.TableSchema) (string, error) {
		return d.Planner.CombineSQL(ctx, query, tables)
	})
}

// materialize stores result as the interaction's table. A result without
// columns has nothing to store.
func (d Deps) materialize(ctx context.Context, req Request, result *models.TabularResult) (*models.TableHandle, error) {
	if result == nil || len(result.Columns) == 0 {
		return nil, nil
	}
	t, err := d.Store.Materialize(ctx, req.SessionID, req.Seq, result)
	if err != nil {
		return nil, err
	}
	return &t.Handle, nil
}

// discard drops a table created earlier in a run that then failed.
func (d Deps) discard(handle *models.TableHandle) {
	if handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Store.Drop(ctx, *handle); err != nil {
		log.Printf("[STRATEGY] failed to drop %s after error: %v", handle.Name, err)
	}
}

func noMatch(name models.StrategyName, plan *models.QueryPlan) *Outcome {
	msg := plan.UserMessage
	if msg == "" {
		msg = "None of the connected data sources can answer that request."
	}
	return &Outcome{Strategy: name, Summary: msg, Plan: plan}
}

func rowsSummary(n int) string {
	return fmt.Sprintf("Query complete, %d records.", n)
}

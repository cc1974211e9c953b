package executor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/sources"
	"reportpilot/workingset"
)

var tracer = otel.Tracer("reportpilot/executor")

// Combiner writes a combination query over step outputs when the plan
// did not carry one.
type Combiner interface {
	CombineSQL(ctx context.Context, tables []models.TableSchema) (string, error)
}

type Options struct {
	Combiner    Combiner
	StepTimeout time.Duration
	// MaxParallel bounds concurrently running steps; 0 means unbounded.
	MaxParallel int
}

type Executor struct {
	opts Options
}

func New(opts Options) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	return &Executor{opts: opts}
}

// WithCombiner returns a copy of e that asks c for missing combination
// queries.
func (e *Executor) WithCombiner(c Combiner) *Executor {
	opts := e.opts
	opts.Combiner = c
	return &Executor{opts: opts}
}

// CombinerFunc adapts a function to Combiner.
type CombinerFunc func(ctx context.Context, tables []models.TableSchema) (string, error)

func (f CombinerFunc) CombineSQL(ctx context.Context, tables []models.TableSchema) (string, error) {
	return f(ctx, tables)
}

// StepReport records what happened to one step.
type StepReport struct {
	Name     string        `json:"name"`
	SourceID string        `json:"source_id"`
	Rows     int           `json:"rows"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	// Dropped is set when an optional step failed and contributed nothing.
	Dropped bool   `json:"dropped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Output struct {
	Result           *models.TabularResult
	Steps            []StepReport
	CombinationQuery string
	Provenance       models.Provenance
}

type stepOutcome struct {
	result *models.TabularResult
	report StepReport
}

// Execute runs every step of plan against lookup and merges the step
// outputs into one result.
func (e *Executor) Execute(ctx context.Context, plan *models.QueryPlan, lookup sources.Lookup) (*Output, error) {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()

	if err := plan.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, faults.Wrap(faults.PlanInvalid, "execute", err)
	}
	resolved := make([]sources.Source, len(plan.Steps))
	for i, step := range plan.Steps {
		src, ok := lookup.Get(step.SourceID)
		if !ok {
			return nil, faults.New(faults.PlanInvalid, "execute", "step %q names unknown source %q", step.Name, step.SourceID)
		}
		resolved[i] = src
	}
	if e.opts.Combiner == nil && strings.TrimSpace(plan.CombinationQuery) == "" && requiredSteps(plan) > 1 {
		return nil, faults.New(faults.PlanInvalid, "execute", "plan has %d required steps but no combination query", requiredSteps(plan))
	}
	span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))

	outcomes := make([]stepOutcome, len(plan.Steps))
	g, gctx := errgroup.WithContext(ctx)
	if e.opts.MaxParallel > 0 {
		g.SetLimit(e.opts.MaxParallel)
	}
	for i := range plan.Steps {
		i := i
		g.Go(func() error {
			step := plan.Steps[i]
			start := time.Now()
			result, attempts, err := e.runStep(gctx, step, resolved[i])
			outcomes[i].report = StepReport{
				Name:     step.Name,
				SourceID: step.SourceID,
				Attempts: attempts,
				Duration: time.Since(start),
			}
			if err != nil {
				outcomes[i].report.Error = err.Error()
				if step.Optional {
					log.Printf("[EXECUTOR] optional step %s failed, continuing without it: %v", step.Name, err)
					outcomes[i].report.Dropped = true
					return nil
				}
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
			outcomes[i].result = result
			outcomes[i].report.Rows = result.RowCount()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &Output{Steps: make([]StepReport, len(outcomes))}
	var contributing []int
	for i, o := range outcomes {
		out.Steps[i] = o.report
		// a step without columns has nothing a combination query could read
		if o.result != nil && len(o.result.Columns) > 0 {
			contributing = append(contributing, i)
		}
	}
	out.Provenance = provenance(plan, contributing)

	switch len(contributing) {
	case 0:
		out.Result = &models.TabularResult{Rows: [][]interface{}{}}
		return out, nil
	case 1:
		out.Result = outcomes[contributing[0]].result
		return out, nil
	}

	query := strings.TrimSpace(plan.CombinationQuery)
	result, query, err := e.combine(ctx, query, plan, outcomes, contributing)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out.Result = result
	out.CombinationQuery = query
	span.SetAttributes(attribute.Int("result.rows", result.RowCount()))
	return out, nil
}

// runStep dispatches one step, retrying once when the source reports a
// transient connectivity fault.
func (e *Executor) runStep(ctx context.Context, step models.PlanStep, src sources.Source) (*models.TabularResult, int, error) {
	ctx, span := tracer.Start(ctx, "executor.step", traceAttrs(step)...)
	defer span.End()

	var (
		lastErr  error
		attempts int
	)
	for attempts < 2 {
		attempts++
		result, err := e.dispatch(ctx, step, src)
		if err == nil {
			span.SetAttributes(attribute.Int("step.rows", result.RowCount()), attribute.Int("step.attempts", attempts))
			return result, attempts, nil
		}
		lastErr = err
		if !faults.IsTransient(err) || ctx.Err() != nil {
			break
		}
		if attempts < 2 {
			log.Printf("[EXECUTOR] step %s hit a transient fault, retrying once: %v", step.Name, err)
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, attempts, lastErr
}

func (e *Executor) dispatch(ctx context.Context, step models.PlanStep, src sources.Source) (*models.TabularResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	var (
		result *models.TabularResult
		err    error
	)
	switch step.Kind {
	case models.StepInvoke:
		result, err = src.Invoke(ctx, step.Capability, step.Args)
	default:
		result, err = src.RunQuery(ctx, step.SQL)
	}
	if err != nil {
		if ctx.Err() != nil && !faults.Is(err, faults.Timeout) {
			return nil, faults.FromContext(ctx, "step:"+step.Name)
		}
		return nil, faults.Wrap(faults.Source, "step:"+step.Name, err)
	}
	if result == nil {
		result = &models.TabularResult{Rows: [][]interface{}{}}
	}
	return result, nil
}

// combine loads the contributing outputs into a scratch area under their
// step names and runs the combination query there.
func (e *Executor) combine(ctx context.Context, query string, plan *models.QueryPlan, outcomes []stepOutcome, contributing []int) (*models.TabularResult, string, error) {
	scratch, err := workingset.OpenScratch(ctx)
	if err != nil {
		return nil, "", err
	}
	defer scratch.Close()

	for _, i := range contributing {
		if err := scratch.Load(ctx, plan.Steps[i].Name, outcomes[i].result); err != nil {
			return nil, "", fmt.Errorf("step %s: %w", plan.Steps[i].Name, err)
		}
	}

	if query == "" {
		if e.opts.Combiner == nil {
			return nil, "", faults.New(faults.PlanInvalid, "combine", "%d steps produced rows but the plan has no combination query", len(contributing))
		}
		query, err = e.opts.Combiner.CombineSQL(ctx, scratch.Schemas())
		if err != nil {
			return nil, "", err
		}
		query = strings.TrimSpace(query)
		if query == "" {
			return nil, "", faults.New(faults.PlanInvalid, "combine", "no combination query could be written")
		}
		log.Printf("[EXECUTOR] generated combination query over %d step outputs", len(contributing))
	}

	lower := strings.ToLower(query)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return nil, "", faults.New(faults.PlanInvalid, "combine", "combination query must be a SELECT")
	}
	result, err := scratch.Query(ctx, query)
	if err != nil {
		return nil, "", err
	}
	return result, query, nil
}

func requiredSteps(plan *models.QueryPlan) int {
	n := 0
	for _, s := range plan.Steps {
		if !s.Optional {
			n++
		}
	}
	return n
}

// provenance names the sources and tables behind the contributing steps.
// When any step's tables cannot be determined the table list is left
// empty, so every table-scoped redaction rule of those sources applies.
func provenance(plan *models.QueryPlan, contributing []int) models.Provenance {
	ids := map[string]bool{}
	seen := map[string]bool{}
	known := true
	var p models.Provenance
	var tables []string
	for _, i := range contributing {
		step := plan.Steps[i]
		if !ids[step.SourceID] {
			ids[step.SourceID] = true
			p.SourceIDs = append(p.SourceIDs, step.SourceID)
		}
		read := stepTables(step)
		if len(read) == 0 {
			known = false
		}
		for _, t := range read {
			if key := strings.ToLower(t); !seen[key] {
				seen[key] = true
				tables = append(tables, t)
			}
		}
	}
	sort.Strings(p.SourceIDs)
	if known {
		p.Tables = tables
	}
	return p
}

func traceAttrs(step models.PlanStep) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.source", step.SourceID),
		attribute.String("step.kind", string(step.Kind)),
		attribute.Bool("step.optional", step.Optional),
	)}
}

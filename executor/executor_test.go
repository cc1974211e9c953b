package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/sources"
	"reportpilot/workingset"
)

type fakeSource struct {
	id      string
	result  *models.TabularResult
	errs    []error
	calls   int32
	delay   time.Duration
	lastSQL atomic.Value
}

func (f *fakeSource) ID() string   { return f.id }
func (f *fakeSource) Kind() string { return "fake" }
func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	return &models.SourceSchema{SourceID: f.id}, nil
}

func (f *fakeSource) next(ctx context.Context) (*models.TabularResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if int(n) <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	return f.result.Clone(), nil
}

func (f *fakeSource) RunQuery(ctx context.Context, q string) (*models.TabularResult, error) {
	f.lastSQL.Store(q)
	return f.next(ctx)
}

func (f *fakeSource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	return f.next(ctx)
}

func regionRows(rows ...[]interface{}) *models.TabularResult {
	return &models.TabularResult{
		Columns: []models.Column{
			{Name: "region", Type: models.ColumnType{Kind: models.String}},
			{Name: "amount", Type: models.ColumnType{Kind: models.Integer}},
		},
		Rows: rows,
	}
}

func registry(t *testing.T, srcs ...sources.Source) *sources.Registry {
	t.Helper()
	reg := sources.NewRegistry()
	for _, s := range srcs {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func TestExecuteSingleStep(t *testing.T) {
	src := &fakeSource{id: "sales", result: regionRows([]interface{}{"north", int64(5)})}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "s", Kind: models.StepQuery, SourceID: "sales", SQL: "SELECT region, amount FROM sales", Tables: []string{"sales"}},
	}}

	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, src))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Result.RowCount())
	assert.Equal(t, []string{"sales"}, out.Provenance.SourceIDs)
	assert.Equal(t, []string{"sales"}, out.Provenance.Tables)
	assert.Equal(t, "SELECT region, amount FROM sales", src.lastSQL.Load())
}

func TestExecuteRejectsMalformedPlans(t *testing.T) {
	src := &fakeSource{id: "sales", result: regionRows()}
	reg := registry(t, src)
	cases := map[string]*models.QueryPlan{
		"no steps": {},
		"duplicate names": {Steps: []models.PlanStep{
			{Name: "a", Kind: models.StepQuery, SourceID: "sales", SQL: "SELECT 1"},
			{Name: "A", Kind: models.StepQuery, SourceID: "sales", SQL: "SELECT 2"},
		}},
		"unknown source": {Steps: []models.PlanStep{
			{Name: "a", Kind: models.StepQuery, SourceID: "nope", SQL: "SELECT 1"},
		}},
		"missing combination": {Steps: []models.PlanStep{
			{Name: "a", Kind: models.StepQuery, SourceID: "sales", SQL: "SELECT 1"},
			{Name: "b", Kind: models.StepQuery, SourceID: "sales", SQL: "SELECT 2"},
		}},
	}
	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(Options{}).Execute(context.Background(), plan, reg)
			assert.True(t, faults.Is(err, faults.PlanInvalid), "got %v", err)
		})
	}
	assert.Zero(t, atomic.LoadInt32(&src.calls))
}

func TestExecuteCombinesSteps(t *testing.T) {
	north := &fakeSource{id: "east", result: regionRows([]interface{}{"north", int64(5)}, []interface{}{"south", int64(1)})}
	west := &fakeSource{id: "west", result: regionRows([]interface{}{"north", int64(2)})}
	plan := &models.QueryPlan{
		Steps: []models.PlanStep{
			{Name: "east_sales", Kind: models.StepQuery, SourceID: "east", SQL: "SELECT region, amount FROM s"},
			{Name: "west_sales", Kind: models.StepInvoke, SourceID: "west", Capability: "sales"},
		},
		CombinationQuery: `SELECT region, SUM(amount) AS amount FROM (
			SELECT * FROM east_sales UNION ALL SELECT * FROM west_sales) GROUP BY region ORDER BY region`,
	}

	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, north, west))
	require.NoError(t, err)
	require.Equal(t, 2, out.Result.RowCount())
	assert.Equal(t, []interface{}{"north", int64(7)}, out.Result.Rows[0])
	assert.Equal(t, []string{"east", "west"}, out.Provenance.SourceIDs)
	assert.NotEmpty(t, out.CombinationQuery)
}

type fakeCombiner struct {
	tables []models.TableSchema
	sql    string
}

func (f *fakeCombiner) CombineSQL(ctx context.Context, tables []models.TableSchema) (string, error) {
	f.tables = tables
	return f.sql, nil
}

func TestExecuteAsksCombinerWhenQueryMissing(t *testing.T) {
	a := &fakeSource{id: "a", result: regionRows([]interface{}{"north", int64(5)})}
	b := &fakeSource{id: "b", result: regionRows([]interface{}{"south", int64(3)})}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "first", Kind: models.StepQuery, SourceID: "a", SQL: "SELECT 1"},
		{Name: "second", Kind: models.StepQuery, SourceID: "b", SQL: "SELECT 1"},
	}}
	combiner := &fakeCombiner{sql: "SELECT * FROM first UNION ALL SELECT * FROM second ORDER BY region"}

	out, err := New(Options{Combiner: combiner}).Execute(context.Background(), plan, registry(t, a, b))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.RowCount())
	require.Len(t, combiner.tables, 2)
	assert.Equal(t, "first", combiner.tables[0].Name)
	assert.Equal(t, combiner.sql, out.CombinationQuery)
}

func TestExecuteOptionalStepFailureContributesNothing(t *testing.T) {
	ok := &fakeSource{id: "ok", result: regionRows([]interface{}{"north", int64(5)})}
	broken := &fakeSource{id: "broken", errs: []error{faults.New(faults.Source, "q", "table missing")}}
	plan := &models.QueryPlan{
		Steps: []models.PlanStep{
			{Name: "main", Kind: models.StepQuery, SourceID: "ok", SQL: "SELECT 1"},
			{Name: "extra", Kind: models.StepQuery, SourceID: "broken", SQL: "SELECT 1", Optional: true},
		},
		CombinationQuery: "SELECT * FROM main JOIN extra USING (region)",
	}

	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, ok, broken))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Result.RowCount())
	assert.True(t, out.Steps[1].Dropped)
	assert.Equal(t, []string{"ok"}, out.Provenance.SourceIDs)
}

func TestExecuteRequiredStepFailureIsFatal(t *testing.T) {
	broken := &fakeSource{id: "broken", errs: []error{faults.New(faults.Source, "q", "syntax error")}}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "main", Kind: models.StepQuery, SourceID: "broken", SQL: "SELEC 1"},
	}}
	_, err := New(Options{}).Execute(context.Background(), plan, registry(t, broken))
	assert.True(t, faults.Is(err, faults.Source))
	assert.EqualValues(t, 1, broken.calls)
}

func TestExecuteRetriesTransientOnce(t *testing.T) {
	flaky := &fakeSource{id: "flaky", result: regionRows([]interface{}{"north", int64(1)}),
		errs: []error{faults.Transient("q", errors.New("connection reset"))}}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "main", Kind: models.StepQuery, SourceID: "flaky", SQL: "SELECT 1"},
	}}
	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, flaky))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Steps[0].Attempts)

	down := &fakeSource{id: "down", errs: []error{
		faults.Transient("q", errors.New("connection reset")),
		faults.Transient("q", errors.New("connection reset")),
		nil,
	}, result: regionRows()}
	plan.Steps[0].SourceID = "down"
	_, err = New(Options{}).Execute(context.Background(), plan, registry(t, down))
	assert.True(t, faults.IsTransient(err))
	assert.EqualValues(t, 2, down.calls)
}

func TestExecuteStepTimeout(t *testing.T) {
	slow := &fakeSource{id: "slow", delay: time.Second, result: regionRows()}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "main", Kind: models.StepQuery, SourceID: "slow", SQL: "SELECT 1"},
	}}
	_, err := New(Options{StepTimeout: 20 * time.Millisecond}).Execute(context.Background(), plan, registry(t, slow))
	assert.True(t, faults.Is(err, faults.Timeout), "got %v", err)
}

func TestExecuteAgainstWorkingSetSource(t *testing.T) {
	store, err := workingset.New(workingset.Options{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	table, err := store.Materialize(ctx, "s", 1, regionRows(
		[]interface{}{"north", int64(5)}, []interface{}{"south", int64(2)}, []interface{}{"north", int64(1)}))
	require.NoError(t, err)

	live := &fakeSource{id: "sales", result: regionRows()}
	lookup := sources.NewOverlay(registry(t, live), store.Source("s", table.Handle))
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "narrow", Kind: models.StepQuery, SourceID: models.WorkingSetSourceID,
			SQL: "SELECT * FROM " + table.Handle.Name + " WHERE region = 'north'"},
	}}

	out, err := New(Options{}).Execute(ctx, plan, lookup)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.RowCount())
	assert.Zero(t, atomic.LoadInt32(&live.calls))
}

func TestTablesRead(t *testing.T) {
	cases := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM sales", []string{"sales"}},
		{"SELECT s.region, c.phone FROM sales s JOIN customers c ON c.id = s.cid", []string{"sales", "customers"}},
		{"SELECT * FROM [dbo].[orders] AS o LEFT OUTER JOIN \"crm\".\"people\" p ON p.id = o.pid", []string{"dbo.orders", "crm.people"}},
		{"SELECT * FROM a, b x, c WHERE a.id = b.id", []string{"a", "b", "c"}},
		{"SELECT * FROM (SELECT id FROM hidden) t WHERE name = 'from nowhere'", []string{"hidden"}},
		{"SELECT 1 -- FROM commented", nil},
	}
	for _, tc := range cases {
		t.Run(tc.sql, func(t *testing.T) {
			assert.Equal(t, tc.want, tablesRead(tc.sql))
		})
	}
}

func TestProvenanceIncludesTablesTheSQLReads(t *testing.T) {
	src := &fakeSource{id: "erp", result: regionRows([]interface{}{"north", int64(5)})}
	plan := &models.QueryPlan{Steps: []models.PlanStep{
		{Name: "s", Kind: models.StepQuery, SourceID: "erp",
			SQL:    "SELECT s.region, s.amount FROM sales s JOIN customers c ON c.id = s.cid",
			Tables: []string{"Sales"}},
	}}

	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, src))
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales", "customers"}, out.Provenance.Tables)
}

func TestProvenanceWithUnknownTablesIsUnscoped(t *testing.T) {
	a := &fakeSource{id: "erp", result: regionRows([]interface{}{"north", int64(5)})}
	plan := &models.QueryPlan{
		Steps: []models.PlanStep{
			{Name: "first", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT region, amount FROM sales"},
			{Name: "second", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT 'south' AS region, 2 AS amount"},
		},
		CombinationQuery: "SELECT * FROM first UNION ALL SELECT * FROM second",
	}

	out, err := New(Options{}).Execute(context.Background(), plan, registry(t, a))
	require.NoError(t, err)
	assert.Empty(t, out.Provenance.Tables)
	assert.Equal(t, []string{"erp"}, out.Provenance.SourceIDs)
}

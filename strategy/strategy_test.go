package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportpilot/ai"
	"reportpilot/chart"
	"reportpilot/executor"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/redaction"
	"reportpilot/sources"
	"reportpilot/workingset"
)

type fakeSource struct {
	id     string
	result *models.TabularResult
	calls  int32
}

func (f *fakeSource) ID() string   { return f.id }
func (f *fakeSource) Kind() string { return "fake" }
func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	return &models.SourceSchema{SourceID: f.id, Tables: []models.TableSchema{{SourceID: f.id, Name: "sales", Columns: f.result.Columns}}}, nil
}

func (f *fakeSource) RunQuery(ctx context.Context, q string) (*models.TabularResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result.Clone(), nil
}

func (f *fakeSource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result.Clone(), nil
}

type fakePlanner struct {
	mu       sync.Mutex
	plans    []*models.QueryPlan
	requests []ai.PlanRequest
	combine  string
	combined []string
}

func (p *fakePlanner) PlanQuery(ctx context.Context, req ai.PlanRequest) (*models.QueryPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	plan := p.plans[0]
	if len(p.plans) > 1 {
		p.plans = p.plans[1:]
	}
	return plan, nil
}

func (p *fakePlanner) CombineSQL(ctx context.Context, query string, tables []models.TableSchema) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.combined = append(p.combined, query)
	return p.combine, nil
}

type fakeSuggester struct {
	reply *ai.ChartSuggestion
	reqs  []ai.ChartRequest
}

func (f *fakeSuggester) SuggestChart(ctx context.Context, req ai.ChartRequest) (*ai.ChartSuggestion, error) {
	f.reqs = append(f.reqs, req)
	s := *f.reply
	if req.PreferKind != "" {
		s.Kind = req.PreferKind
	}
	return &s, nil
}

type env struct {
	set       *Set
	src       *fakeSource
	planner   *fakePlanner
	suggester *fakeSuggester
	store     *workingset.Store
	rules     *redaction.StaticProvider
}

func salesRows() *models.TabularResult {
	return &models.TabularResult{
		Columns: []models.Column{
			{Name: "region", Type: models.ColumnType{Kind: models.String}},
			{Name: "amount", Type: models.ColumnType{Kind: models.Integer}},
			{Name: "phone", Type: models.ColumnType{Kind: models.String}},
		},
		Rows: [][]interface{}{
			{"north", int64(120), "13812345678"},
			{"south", int64(80), "13900001111"},
			{"north", int64(30), "13700002222"},
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := workingset.New(workingset.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	src := &fakeSource{id: "erp", result: salesRows()}
	reg := sources.NewRegistry()
	require.NoError(t, reg.Register(src))

	planner := &fakePlanner{plans: []*models.QueryPlan{{
		Steps: []models.PlanStep{{Name: "sales", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT region, amount, phone FROM sales", Tables: []string{"sales"}}},
	}}}
	suggester := &fakeSuggester{reply: &ai.ChartSuggestion{
		Kind:     models.ChartPie,
		Title:    "Sales by region",
		Bindings: []models.Binding{{Column: "region", Role: models.RoleCategory}, {Column: "amount", Role: models.RoleValue}},
		Summary:  "Top region is {{DATA_PLACEHOLDER_1}}",
	}}

	rules := redaction.NewStaticProvider([]models.RedactionRule{
		{SourceID: "erp", Mode: models.RedactMask, Columns: []string{"phone"}},
	})
	set := NewSet(Deps{
		Planner:   planner,
		Charts:    chart.NewSynthesizer(suggester, chart.NormalizeOptions{}),
		Executor:  executor.New(executor.Options{StepTimeout: 5 * time.Second}),
		Store:     store,
		Sources:   reg,
		Redaction: rules,
	})
	return &env{set: set, src: src, planner: planner, suggester: suggester, store: store, rules: rules}
}

// fullQuery runs turn 1 and returns the interaction a later turn sees.
func (e *env) fullQuery(t *testing.T) (*Outcome, *models.Interaction) {
	t.Helper()
	out, err := e.set.Run(context.Background(), models.StrategyFullQuery, Request{SessionID: "s1", Seq: 1, Query: "show sales by region"})
	require.NoError(t, err)
	return out, &models.Interaction{
		SessionID: "s1", Seq: 1, Strategy: out.Strategy, Chart: out.Chart, Table: out.Table,
		Plan: out.Plan, SourceIDs: out.Provenance.SourceIDs, Tables: out.Provenance.Tables,
	}
}

func TestTableScopedRuleFollowsTheSQLNotThePlannerList(t *testing.T) {
	e := newEnv(t)
	e.rules.Set([]models.RedactionRule{
		{SourceID: "erp", Table: "customers", Mode: models.RedactRemove, Columns: []string{"phone"}},
	})
	e.planner.plans = []*models.QueryPlan{{Steps: []models.PlanStep{{
		Name: "sales", Kind: models.StepQuery, SourceID: "erp",
		SQL:    "SELECT s.region, s.amount, c.phone FROM sales s JOIN dbo.customers c ON c.id = s.customer_id",
		Tables: []string{"sales"},
	}}}}

	out, err := e.set.Run(context.Background(), models.StrategyFullQuery, Request{SessionID: "s1", Seq: 1, Query: "show sales by region"})
	require.NoError(t, err)
	assert.Equal(t, -1, out.Result.ColumnIndex("phone"))
	assert.Contains(t, out.Provenance.Tables, "dbo.customers")

	stored, err := e.store.Query(context.Background(), *out.Table, "")
	require.NoError(t, err)
	assert.Equal(t, -1, stored.ColumnIndex("phone"))
}

func TestFullQueryRedactsBeforeStoringAndCharting(t *testing.T) {
	e := newEnv(t)
	out, _ := e.fullQuery(t)

	assert.Equal(t, models.StrategyFullQuery, out.Strategy)
	require.NotNil(t, out.Table)
	assert.True(t, out.NewTable)
	assert.Equal(t, workingset.TableName("s1", 1), out.Table.Name)
	assert.Equal(t, 3, out.Result.RowCount())
	assert.Equal(t, redaction.DefaultMaskToken, out.Result.Rows[0][2])
	assert.Equal(t, models.ChartPie, out.Chart.Kind)
	assert.Equal(t, "Top region is north", out.Summary)
	assert.Equal(t, []string{"erp"}, out.Provenance.SourceIDs)

	stored, err := e.store.Query(context.Background(), *out.Table, "")
	require.NoError(t, err)
	for _, row := range stored.Rows {
		assert.Equal(t, redaction.DefaultMaskToken, row[2])
	}
	require.Len(t, e.planner.requests, 1)
	assert.Len(t, e.planner.requests[0].Sources, 1)
}

func TestFilterExistingReadsOnlyWorkingSet(t *testing.T) {
	e := newEnv(t)
	_, last := e.fullQuery(t)
	table := workingset.TableName("s1", 1)
	e.planner.plans = []*models.QueryPlan{{
		Steps: []models.PlanStep{{Name: "north", Kind: models.StepQuery, SourceID: models.WorkingSetSourceID, SQL: "SELECT * FROM " + table + " WHERE region = 'north'"}},
	}}

	out, err := e.set.Run(context.Background(), models.StrategyFilterExisting, Request{SessionID: "s1", Seq: 2, Query: "only region north", Last: last})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyFilterExisting, out.Strategy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.src.calls))
	assert.Equal(t, 2, out.Result.RowCount())
	for _, row := range out.Result.Rows {
		assert.Equal(t, "north", row[0])
	}
	require.NotNil(t, out.Table)
	assert.Equal(t, workingset.TableName("s1", 2), out.Table.Name)
	assert.Equal(t, []string{"erp"}, out.Provenance.SourceIDs)

	req := e.planner.requests[1]
	assert.True(t, req.WorkingSetOnly)
	require.Len(t, req.WorkingSet, 1)
	assert.Equal(t, table, req.WorkingSet[0].Name)
	assert.Empty(t, req.Sources)
}

func TestFilterExistingRejectsLiveSteps(t *testing.T) {
	e := newEnv(t)
	_, last := e.fullQuery(t)
	e.planner.plans = []*models.QueryPlan{{
		Steps: []models.PlanStep{{Name: "again", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT * FROM sales"}},
	}}

	_, err := e.set.Run(context.Background(), models.StrategyFilterExisting, Request{SessionID: "s1", Seq: 2, Query: "only north", Last: last})
	assert.True(t, faults.Is(err, faults.PlanInvalid))
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.src.calls))
}

func TestReuseRechartKeepsHandleAndColumns(t *testing.T) {
	e := newEnv(t)
	first, last := e.fullQuery(t)
	plansBefore := len(e.planner.requests)

	out, err := e.set.Run(context.Background(), models.StrategyReuseRechart, Request{
		SessionID: "s1", Seq: 2, Query: "switch to a bar chart", ChartKind: models.ChartBar, Last: last,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyReuseRechart, out.Strategy)
	assert.Equal(t, models.ChartBar, out.Chart.Kind)
	assert.Equal(t, first.Chart.Columns(), out.Chart.Columns())
	assert.Equal(t, *first.Table, *out.Table)
	assert.False(t, out.NewTable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.src.calls))
	assert.Len(t, e.planner.requests, plansBefore)

	tables, err := e.store.Tables(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}

func TestReuseWithoutNamedKindAsksUncached(t *testing.T) {
	e := newEnv(t)
	_, last := e.fullQuery(t)
	e.suggester.reply.Kind = models.ChartLine

	out, err := e.set.Run(context.Background(), models.StrategyReuseRechart, Request{SessionID: "s1", Seq: 2, Query: "show it differently", Last: last})
	require.NoError(t, err)
	assert.Equal(t, models.ChartLine, out.Chart.Kind)
	assert.True(t, e.suggester.reqs[len(e.suggester.reqs)-1].NoCache)
}

func TestNeedsTableStrategiesFallBack(t *testing.T) {
	for _, name := range []models.StrategyName{models.StrategyReuseRechart, models.StrategyFilterExisting} {
		t.Run(string(name), func(t *testing.T) {
			e := newEnv(t)
			out, err := e.set.Run(context.Background(), name, Request{SessionID: "s1", Seq: 1, Query: "sales by region"})
			require.NoError(t, err)
			assert.Equal(t, models.StrategyFullQuery, out.Strategy)
			assert.Equal(t, name, out.FallbackFrom)
			assert.Equal(t, int32(1), atomic.LoadInt32(&e.src.calls))
		})
	}
}

func TestStaleHandleFallsBack(t *testing.T) {
	e := newEnv(t)
	_, last := e.fullQuery(t)
	require.NoError(t, e.store.Reclaim(context.Background(), "s1"))

	out, err := e.set.Run(context.Background(), models.StrategyReuseRechart, Request{SessionID: "s1", Seq: 2, Query: "as a bar chart", ChartKind: models.ChartBar, Last: last})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFullQuery, out.Strategy)
	assert.Equal(t, models.StrategyReuseRechart, out.FallbackFrom)
	assert.Equal(t, int32(2), atomic.LoadInt32(&e.src.calls))
}

func TestDataOnlyUsesTableKind(t *testing.T) {
	e := newEnv(t)
	out, err := e.set.Run(context.Background(), models.StrategyDataOnly, Request{SessionID: "s1", Seq: 1, Query: "raw sales rows"})
	require.NoError(t, err)
	assert.Equal(t, models.ChartTable, out.Chart.Kind)
	assert.Equal(t, "Query complete, 3 records.", out.Summary)
	assert.NotNil(t, out.Table)
	assert.Empty(t, e.suggester.reqs)
}

func TestNoMatchPlanTouchesNothing(t *testing.T) {
	e := newEnv(t)
	e.planner.plans = []*models.QueryPlan{{NoMatch: true, UserMessage: "No source has weather data."}}

	out, err := e.set.Run(context.Background(), models.StrategyFullQuery, Request{SessionID: "s1", Seq: 1, Query: "weather tomorrow"})
	require.NoError(t, err)
	assert.Equal(t, "No source has weather data.", out.Summary)
	assert.Nil(t, out.Table)
	assert.Equal(t, int32(0), atomic.LoadInt32(&e.src.calls))
}

func TestCombinerReceivesQueryText(t *testing.T) {
	e := newEnv(t)
	e.planner.plans = []*models.QueryPlan{{
		Steps: []models.PlanStep{
			{Name: "a", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT 1"},
			{Name: "b", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT 2"},
		},
	}}
	e.planner.combine = "SELECT region, SUM(amount) AS amount FROM (SELECT region, amount FROM a UNION ALL SELECT region, amount FROM b) GROUP BY region ORDER BY region"

	out, err := e.set.Run(context.Background(), models.StrategyDataOnly, Request{SessionID: "s1", Seq: 1, Query: "sales from both systems"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sales from both systems"}, e.planner.combined)
	assert.Equal(t, []interface{}{"north", int64(300)}, out.Result.Rows[0])
}

func TestConversationAndUnknown(t *testing.T) {
	e := newEnv(t)
	out, err := e.set.Run(context.Background(), models.StrategyConversation, Request{Reply: "Hello!", Suggestions: []string{"Show sales"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out.Summary)
	assert.Nil(t, out.Table)
	assert.Equal(t, []string{"Show sales"}, out.Suggestions)

	_, err = e.set.Run(context.Background(), models.StrategyName("dance"), Request{})
	assert.True(t, faults.Is(err, faults.PlanInvalid))
}

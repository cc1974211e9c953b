package service

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportpilot/ai"
	"reportpilot/chart"
	"reportpilot/db"
	"reportpilot/executor"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/redaction"
	"reportpilot/routing"
	"reportpilot/sources"
	"reportpilot/strategy"
	"reportpilot/telemetry"
	"reportpilot/workingset"
)

type fakeSource struct {
	calls int32
}

func (f *fakeSource) ID() string   { return "erp" }
func (f *fakeSource) Kind() string { return "fake" }
func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	return &models.SourceSchema{SourceID: "erp", Tables: []models.TableSchema{{SourceID: "erp", Name: "sales", Columns: salesRows().Columns}}}, nil
}

func (f *fakeSource) RunQuery(ctx context.Context, q string) (*models.TabularResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return salesRows(), nil
}

func (f *fakeSource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return salesRows(), nil
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

// scriptedClassifier answers by query text; unknown queries are
// conversational.
type scriptedClassifier struct {
	mu      sync.Mutex
	intents map[string]*ai.Intent
	err     error
	reqs    []ai.IntentRequest
}

func (c *scriptedClassifier) ClassifyIntent(ctx context.Context, req ai.IntentRequest) (*ai.Intent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	if intent, ok := c.intents[req.Query]; ok {
		return intent, nil
	}
	return &ai.Intent{Strategy: "conversation", Reply: "Hi!"}, nil
}

func (c *scriptedClassifier) last() ai.IntentRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

// planner queries the live source, or the one working-set table it is
// offered when restricted to the working set.
type planner struct {
	err error
}

func (p *planner) PlanQuery(ctx context.Context, req ai.PlanRequest) (*models.QueryPlan, error) {
	if p.err != nil {
		return nil, p.err
	}
	if req.WorkingSetOnly {
		return &models.QueryPlan{Steps: []models.PlanStep{{
			Name: "subset", Kind: models.StepQuery, SourceID: models.WorkingSetSourceID,
			SQL: "SELECT * FROM " + req.WorkingSet[0].Name + " WHERE region = 'north'",
		}}}, nil
	}
	return &models.QueryPlan{Steps: []models.PlanStep{{
		Name: "sales", Kind: models.StepQuery, SourceID: "erp", SQL: "SELECT region, amount, phone FROM sales", Tables: []string{"sales"},
	}}}, nil
}

func (p *planner) CombineSQL(ctx context.Context, query string, tables []models.TableSchema) (string, error) {
	return "", faults.New(faults.Inference, "combine", "not scripted")
}

type suggester struct{}

func (suggester) SuggestChart(ctx context.Context, req ai.ChartRequest) (*ai.ChartSuggestion, error) {
	kind := models.ChartPie
	if req.PreferKind != "" {
		kind = req.PreferKind
	}
	return &ai.ChartSuggestion{
		Kind:     kind,
		Title:    "Sales by region",
		Bindings: []models.Binding{{Column: "region", Role: models.RoleCategory}, {Column: "amount", Role: models.RoleValue}},
		Summary:  "First region: {{DATA_PLACEHOLDER}}",
	}, nil
}

type summarizer struct {
	mu    sync.Mutex
	calls [][]models.Turn
	prev  []string
}

func (s *summarizer) Summarize(ctx context.Context, previous string, turns []models.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, turns)
	s.prev = append(s.prev, previous)
	return "condensed", nil
}

type fixture struct {
	o          *Orchestrator
	src        *fakeSource
	store      *workingset.Store
	db         *db.DB
	classifier *scriptedClassifier
	planner    *planner
	summarizer *summarizer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := workingset.New(workingset.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	database, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	src := &fakeSource{}
	reg := sources.NewRegistry()
	require.NoError(t, reg.Register(src))

	f := &fixture{
		src:        src,
		store:      store,
		db:         database,
		classifier: &scriptedClassifier{intents: map[string]*ai.Intent{}},
		planner:    &planner{},
		summarizer: &summarizer{},
	}
	set := strategy.NewSet(strategy.Deps{
		Planner:  f.planner,
		Charts:   chart.NewSynthesizer(suggester{}, chart.NormalizeOptions{}),
		Executor: executor.New(executor.Options{StepTimeout: 5 * time.Second}),
		Store:    store,
		Sources:  reg,
		Redaction: redaction.NewStaticProvider([]models.RedactionRule{
			{SourceID: "erp", Mode: models.RedactMask, Columns: []string{"phone"}},
		}),
	})
	f.o = New(Deps{
		DB:         database,
		Store:      store,
		Router:     routing.New(f.classifier, opts.RecentTurns),
		Strategies: set,
		Summarizer: f.summarizer,
		Sources:    reg,
	}, opts)
	return f
}

func (f *fixture) script(query string, intent *ai.Intent) {
	f.classifier.mu.Lock()
	f.classifier.intents[query] = intent
	f.classifier.mu.Unlock()
}

func TestConversationEndToEnd(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})
	f.script("only region north", &ai.Intent{Strategy: "filter_existing"})
	f.script("switch to a bar chart", &ai.Intent{Strategy: "reuse_rechart", ChartKind: "bar"})

	first, err := f.o.RunInteraction(ctx, "s1", "show sales by region")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFullQuery, first.Routed)
	assert.Equal(t, 1, first.Interaction.Seq)
	assert.Equal(t, 3, first.Interaction.RowCount)
	require.NotNil(t, first.Interaction.Table)
	assert.Equal(t, "First region: north", first.Interaction.Summary)
	assert.NotEmpty(t, first.Interaction.PlanSQL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.src.calls))

	second, err := f.o.RunInteraction(ctx, "s1", "only region north")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFilterExisting, second.Interaction.Strategy)
	assert.Equal(t, 2, second.Interaction.Seq)
	assert.Equal(t, 2, second.Interaction.RowCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.src.calls))
	assert.NotEqual(t, *first.Interaction.Table, *second.Interaction.Table)

	_, before, err := f.o.Rows(ctx, "s1", 1)
	require.NoError(t, err)
	_, subset, err := f.o.Rows(ctx, "s1", 2)
	require.NoError(t, err)
	for _, row := range subset.Rows {
		assert.Equal(t, "north", row[0])
		assert.Contains(t, before.Rows, row)
	}

	third, err := f.o.RunInteraction(ctx, "s1", "switch to a bar chart")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyReuseRechart, third.Interaction.Strategy)
	assert.Equal(t, *second.Interaction.Table, *third.Interaction.Table)
	assert.Equal(t, models.ChartBar, third.Interaction.Chart.Kind)
	assert.NotEqual(t, second.Interaction.Chart.Kind, third.Interaction.Chart.Kind)
	assert.Equal(t, second.Interaction.Chart.Columns(), third.Interaction.Chart.Columns())
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.src.calls))

	tables, err := f.store.Tables(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, tables, 2)

	req := f.classifier.last()
	assert.True(t, req.HasTable)
	assert.Equal(t, models.ChartPie, req.LastChartKind)
	assert.Equal(t, 2, req.TurnCount)
}

func TestUncommittedTableDoesNotBlockTheSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})

	_, err := f.store.Materialize(ctx, "s1", 1, salesRows())
	require.NoError(t, err)

	res, err := f.o.RunInteraction(ctx, "s1", "show sales by region")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Interaction.Seq)
	require.NotNil(t, res.Interaction.Table)

	_, rows, err := f.o.Rows(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, redaction.DefaultMaskToken, rows.Rows[0][2])

	tables, err := f.store.Tables(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}

func TestRowsAreRedactedAndRenderable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})
	_, err := f.o.RunInteraction(ctx, "s1", "show sales by region")
	require.NoError(t, err)

	_, rows, err := f.o.Rows(ctx, "s1", 1)
	require.NoError(t, err)
	for _, row := range rows.Rows {
		assert.Equal(t, redaction.DefaultMaskToken, row[2])
	}

	rendered, err := f.o.RenderChart(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ChartPie, rendered.Kind)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.Contains(t, buf.String(), "region,amount,phone\n")
	assert.Contains(t, buf.String(), "north,120,******\n")
}

func TestConversationTurnHasNoTable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res, err := f.o.RunInteraction(ctx, "s1", "what can you show")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyConversation, res.Interaction.Strategy)
	assert.Nil(t, res.Interaction.Table)
	assert.Equal(t, "Hi!", res.Interaction.Summary)

	_, _, err = f.o.Rows(ctx, "s1", 1)
	assert.True(t, faults.Is(err, faults.NotFound))
}

func TestStrategyInferenceFaultDegrades(t *testing.T) {
	f := newFixture(t, Options{})
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})
	f.planner.err = faults.New(faults.Inference, "plan", "model unavailable")
	before := testutil.ToFloat64(telemetry.DegradedReplies)

	res, err := f.o.RunInteraction(context.Background(), "s1", "show sales by region")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFullQuery, res.Routed)
	assert.Equal(t, models.StrategyConversation, res.Interaction.Strategy)
	assert.True(t, res.Interaction.Degraded)
	assert.Equal(t, degradedReply, res.Interaction.Summary)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.DegradedReplies))

	stored, err := f.db.GetInteraction("s1", 1)
	require.NoError(t, err)
	assert.True(t, stored.Degraded)
}

func TestRoutingInferenceFaultDegrades(t *testing.T) {
	f := newFixture(t, Options{})
	f.classifier.err = faults.New(faults.Inference, "classify", "model unavailable")

	res, err := f.o.RunInteraction(context.Background(), "s1", "show sales by region")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyConversation, res.Routed)
	assert.True(t, res.Interaction.Degraded)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.src.calls))
}

func TestOtherFaultsPropagate(t *testing.T) {
	f := newFixture(t, Options{})
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})
	f.planner.err = faults.New(faults.PlanInvalid, "plan", "no steps")

	_, err := f.o.RunInteraction(context.Background(), "s1", "show sales by region")
	assert.True(t, faults.Is(err, faults.PlanInvalid))

	detail, err := f.o.GetSession("s1")
	require.NoError(t, err)
	assert.Empty(t, detail.Interactions)
}

func TestInvalidSessionID(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.o.RunInteraction(context.Background(), "a:b", "show sales")
	assert.True(t, faults.Is(err, faults.PlanInvalid))
	assert.True(t, faults.Is(f.o.EndSession(context.Background(), ""), faults.PlanInvalid))
}

func TestSameSessionIsSerialized(t *testing.T) {
	f := newFixture(t, Options{})
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})

	var wg sync.WaitGroup
	seqs := make([]int, 4)
	errs := make([]error, 4)
	for i := range seqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.o.RunInteraction(context.Background(), "s1", "show sales by region")
			errs[i] = err
			if err == nil {
				seqs[i] = res.Interaction.Seq
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, seqs)

	tables, err := f.store.Tables(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, tables, 4)
}

func TestLockWaitHonoursContext(t *testing.T) {
	f := newFixture(t, Options{})
	release, err := f.o.locks.acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.o.RunInteraction(ctx, "s1", "show sales by region")
	assert.True(t, faults.Is(err, faults.Timeout))

	// another session is not blocked
	_, err = f.o.RunInteraction(context.Background(), "s2", "what can you show")
	assert.NoError(t, err)
}

func TestEndSessionReclaims(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.script("show sales by region", &ai.Intent{Strategy: "full_query"})
	res, err := f.o.RunInteraction(ctx, "s1", "show sales by region")
	require.NoError(t, err)

	require.NoError(t, f.o.EndSession(ctx, "s1"))
	_, err = f.store.Query(ctx, *res.Interaction.Table, "")
	assert.True(t, faults.Is(err, faults.NotFound))
	_, err = f.o.GetSession("s1")
	assert.True(t, faults.Is(err, faults.NotFound))

	assert.NoError(t, f.o.EndSession(ctx, "s1"))
}

func TestSweepSkipsBusySessions(t *testing.T) {
	f := newFixture(t, Options{IdleTTL: time.Hour})
	ctx := context.Background()
	idle, err := f.o.CreateSession("idle")
	require.NoError(t, err)
	busy, err := f.o.CreateSession("busy")
	require.NoError(t, err)
	fresh, err := f.o.CreateSession("fresh")
	require.NoError(t, err)
	fresh.LastActive = time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, f.db.PutSession(fresh))

	release, err := f.o.locks.acquire(ctx, busy.ID)
	require.NoError(t, err)

	later := time.Now().Add(90 * time.Minute)
	assert.Equal(t, 1, f.o.Sweep(ctx, later))
	_, err = f.o.GetSession(idle.ID)
	assert.True(t, faults.Is(err, faults.NotFound))
	_, err = f.o.GetSession(busy.ID)
	assert.NoError(t, err)

	release()
	assert.Equal(t, 1, f.o.Sweep(ctx, later))
	_, err = f.o.GetSession(fresh.ID)
	assert.NoError(t, err)
}

func TestExpireRechecksIdleTimeUnderTheLock(t *testing.T) {
	f := newFixture(t, Options{IdleTTL: time.Hour})
	ctx := context.Background()
	later := time.Now().Add(90 * time.Minute)

	session, err := f.o.CreateSession("touched")
	require.NoError(t, err)
	session.LastActive = later.Add(-time.Minute)
	require.NoError(t, f.db.PutSession(session))

	assert.False(t, f.o.expire(ctx, session.ID, later))
	_, err = f.o.GetSession(session.ID)
	assert.NoError(t, err)

	assert.False(t, f.o.expire(ctx, "never-existed", later))

	session.LastActive = later.Add(-2 * time.Hour)
	require.NoError(t, f.db.PutSession(session))
	assert.True(t, f.o.expire(ctx, session.ID, later))
	_, err = f.o.GetSession(session.ID)
	assert.True(t, faults.Is(err, faults.NotFound))
}

func TestOlderTurnsAreCompressed(t *testing.T) {
	f := newFixture(t, Options{RecentTurns: 1, CompressAfterTurns: 3})
	ctx := context.Background()
	for _, q := range []string{"what can you show", "how does this work", "what is in the report"} {
		_, err := f.o.RunInteraction(ctx, "s1", q)
		require.NoError(t, err)
	}
	require.Len(t, f.summarizer.calls, 1)
	assert.Len(t, f.summarizer.calls[0], 2)

	s, err := f.db.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "condensed", s.Summary)
	assert.Equal(t, 2, s.SummarizedUpTo)

	_, err = f.o.RunInteraction(ctx, "s1", "show the total for this year")
	require.NoError(t, err)
	req := f.classifier.last()
	assert.Equal(t, "condensed", req.Summary)
	require.Len(t, req.RecentTurns, 1)
	assert.Equal(t, 3, req.RecentTurns[0].Seq)

	require.Len(t, f.summarizer.calls, 2)
	assert.Equal(t, "condensed", f.summarizer.prev[1])
	assert.Equal(t, 3, f.summarizer.calls[1][0].Seq)
}

func TestUpdateSummaryAndSessions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.o.RunInteraction(ctx, "s1", "what can you show")
	require.NoError(t, err)

	updated, err := f.o.UpdateSummary(ctx, "s1", 1, "  edited  ")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Summary)

	_, err = f.o.UpdateSummary(ctx, "s1", 9, "x")
	assert.True(t, faults.Is(err, faults.NotFound))

	list, err := f.o.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "what can you show", list[0].Title)

	assert.Equal(t, []models.SourceInfo{{ID: "erp", Kind: "fake"}}, f.o.Sources())
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "New report", titleFrom("   "))
	assert.Equal(t, "a b", titleFrom(" a\n b "))
	long := titleFrom(string(bytes.Repeat([]byte("x"), 80)))
	assert.Equal(t, 53, len(long))
}

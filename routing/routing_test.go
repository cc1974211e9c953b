package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportpilot/ai"
	"reportpilot/faults"
	"reportpilot/models"
)

type fakeClassifier struct {
	intent *ai.Intent
	err    error
	calls  int
	last   ai.IntentRequest
}

func (f *fakeClassifier) ClassifyIntent(ctx context.Context, req ai.IntentRequest) (*ai.Intent, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func TestRouteNeedsTableDowngrades(t *testing.T) {
	for _, label := range []string{"reuse_rechart", "filter_existing"} {
		c := &fakeClassifier{intent: &ai.Intent{Strategy: label}}
		d, err := New(c, 3).Route(context.Background(), "only region north", SessionState{HasTable: false})
		require.NoError(t, err)
		assert.Equal(t, models.StrategyFullQuery, d.Strategy, label)
		assert.Equal(t, models.StrategyName(label), d.Classified)
	}

	c := &fakeClassifier{intent: &ai.Intent{Strategy: "filter_existing"}}
	d, err := New(c, 3).Route(context.Background(), "only region north", SessionState{HasTable: true})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFilterExisting, d.Strategy)
}

func TestRouteAmbiguousAlwaysConversation(t *testing.T) {
	c := &fakeClassifier{intent: &ai.Intent{
		Strategy:    "full_query",
		Ambiguous:   true,
		Reply:       "Which period?",
		Suggestions: []string{"This year", "Last year"},
	}}
	d, err := New(c, 3).Route(context.Background(), "show me the numbers", SessionState{HasTable: true})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyConversation, d.Strategy)
	assert.Equal(t, "Which period?", d.Reply)
	assert.Len(t, d.Suggestions, 2)
}

func TestRouteUnknownLabelIsPlanInvalid(t *testing.T) {
	c := &fakeClassifier{intent: &ai.Intent{Strategy: "make_coffee"}}
	_, err := New(c, 3).Route(context.Background(), "show sales", SessionState{})
	assert.True(t, faults.Is(err, faults.PlanInvalid))
}

func TestRouteInferenceFailureDegrades(t *testing.T) {
	for _, kind := range []faults.Kind{faults.Inference, faults.Timeout} {
		c := &fakeClassifier{err: &faults.Error{Kind: kind, Op: "classify", Err: errors.New("down")}}
		d, err := New(c, 3).Route(context.Background(), "show sales", SessionState{})
		require.NoError(t, err)
		assert.Equal(t, models.StrategyConversation, d.Strategy)
		assert.True(t, d.Degraded)
	}

	c := &fakeClassifier{err: faults.New(faults.Storage, "x", "boom")}
	_, err := New(c, 3).Route(context.Background(), "show sales", SessionState{})
	assert.True(t, faults.Is(err, faults.Storage))
}

func TestRouteCancelledCallerPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeClassifier{err: &faults.Error{Kind: faults.Timeout, Op: "classify", Err: context.Canceled}}
	_, err := New(c, 3).Route(ctx, "show sales", SessionState{})
	assert.True(t, faults.Is(err, faults.Timeout))
}

func TestRouteGibberishSkipsInference(t *testing.T) {
	c := &fakeClassifier{intent: &ai.Intent{Strategy: "full_query"}}
	d, err := New(c, 3).Route(context.Background(), "asdfgh", SessionState{})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyConversation, d.Strategy)
	assert.NotEmpty(t, d.Suggestions)
	assert.Equal(t, 0, c.calls)
}

func TestRouteCapsRecentTurnsAndRefinesQuery(t *testing.T) {
	c := &fakeClassifier{intent: &ai.Intent{Strategy: "Full_Query", RefinedQuery: "sales by region for 2024", ChartKind: "PIE"}}
	turns := []models.Turn{{Seq: 1}, {Seq: 2}, {Seq: 3}, {Seq: 4}, {Seq: 5}}
	d, err := New(c, 2).Route(context.Background(), "same for 2024", SessionState{RecentTurns: turns, TurnCount: 5})
	require.NoError(t, err)

	require.Len(t, c.last.RecentTurns, 2)
	assert.Equal(t, 4, c.last.RecentTurns[0].Seq)
	assert.Equal(t, 5, c.last.TurnCount)
	assert.Equal(t, "sales by region for 2024", d.Query)
	assert.Equal(t, models.ChartPie, d.ChartKind)
}

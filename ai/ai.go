package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reportpilot/cache"
	"reportpilot/faults"
	"reportpilot/models"
)

type Options struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	CallTimeout       time.Duration
	RequestsPerSecond float64
	ChartCacheTTL     time.Duration
	// ModelName only feeds cache keys.
	ModelName string
}

// AIService is the inference collaborator: every prompt, retry and parse
// goes through here.
type AIService struct {
	completer Completer
	cache     *cache.Cache
	limiter   *rate.Limiter
	opts      Options
}

func New(completer Completer, opts Options) *AIService {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 120 * time.Second
	}
	if opts.ChartCacheTTL <= 0 {
		opts.ChartCacheTTL = time.Hour
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &AIService{
		completer: completer,
		cache:     cache.New(opts.ChartCacheTTL),
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
	}
}

func (a *AIService) Close() error {
	return nil
}

// complete sends messages and decodes the JSON reply into out. Transport
// failures and unusable replies are retried with exponential backoff;
// when every attempt fails the result is an InferenceFault.
func (a *AIService) complete(ctx context.Context, op string, messages []Message, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			// 2s, 4s, 8s with the default base
			delay := a.opts.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			log.Printf("[AI] %s failed, retrying after %v (attempt %d/%d): %v", op, delay, attempt, a.opts.MaxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return faults.FromContext(ctx, op)
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return faults.FromContext(ctx, op)
			}
			return &faults.Error{Kind: faults.Inference, Op: op, Err: err}
		}

		reply, err := a.call(ctx, messages)
		if err == nil {
			err = decodeJSON(reply, out)
			if err == nil {
				return nil
			}
			err = fmt.Errorf("unusable reply: %w", err)
		}
		if ctx.Err() != nil {
			return faults.FromContext(ctx, op)
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return &faults.Error{Kind: faults.Inference, Op: op, Err: lastErr}
}

func (a *AIService) call(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.completer.Complete(ctx, messages)
}

// retryable is false only for client errors that will fail the same way
// again, such as a bad key.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500 || se.Status == 0
	}
	return true
}

// decodeJSON strips markdown fences and surrounding prose from reply and
// unmarshals the JSON object inside.
func decodeJSON(reply string, out interface{}) error {
	raw := cleanJSON(reply)
	if raw == "" {
		return fmt.Errorf("empty reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func cleanJSON(reply string) string {
	raw := strings.TrimSpace(reply)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```JSON")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

// IntentRequest is the compact session description classification sees.
type IntentRequest struct {
	Query         string
	HasTable      bool
	LastChartKind models.ChartKind
	TurnCount     int
	RecentTurns   []models.Turn
	Summary       string
}

type Intent struct {
	Strategy     string   `json:"strategy"`
	Ambiguous    bool     `json:"ambiguous"`
	Reply        string   `json:"reply"`
	Suggestions  []string `json:"suggestions"`
	RefinedQuery string   `json:"refined_query"`
	ChartKind    string   `json:"chart_kind"`
}

func (a *AIService) ClassifyIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	sys, user := BuildIntentPrompt(req)
	var intent Intent
	if err := a.complete(ctx, "classify", []Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}, &intent); err != nil {
		return nil, err
	}
	intent.Strategy = strings.ToLower(strings.TrimSpace(intent.Strategy))
	return &intent, nil
}

type PlanRequest struct {
	Query       string
	Sources     []models.SourceSchema
	WorkingSet  []models.TableSchema
	RecentTurns []models.Turn
	Summary     string
	// WorkingSetOnly restricts the plan to one step over one working-set table.
	WorkingSetOnly bool
}

func (a *AIService) PlanQuery(ctx context.Context, req PlanRequest) (*models.QueryPlan, error) {
	sys, user := BuildPlanPrompt(req)
	var plan models.QueryPlan
	if err := a.complete(ctx, "plan", []Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// CombineSQL writes a query joining or unioning step outputs held in the
// scratch area.
func (a *AIService) CombineSQL(ctx context.Context, query string, tables []models.TableSchema) (string, error) {
	sys, user := BuildCombinationPrompt(query, tables)
	var reply struct {
		SQL         string `json:"sql"`
		Explanation string `json:"explanation"`
	}
	if err := a.complete(ctx, "combine", []Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}, &reply); err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.SQL) == "" {
		return "", faults.New(faults.Inference, "combine", "model returned no SQL")
	}
	return reply.SQL, nil
}

type ChartRequest struct {
	Query    string
	Columns  []models.ColumnMeta
	RowCount int
	// PreferKind is a kind the user asked for explicitly.
	PreferKind models.ChartKind
	NoCache    bool
}

type ChartSuggestion struct {
	Kind     models.ChartKind `json:"kind"`
	Title    string           `json:"title"`
	Bindings []models.Binding `json:"bindings"`
	Summary  string           `json:"summary"`
}

// SuggestChart sees column names, types and the row count only. Replies
// are cached for ChartCacheTTL unless the request opts out.
func (a *AIService) SuggestChart(ctx context.Context, req ChartRequest) (*ChartSuggestion, error) {
	shape := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		shape[i] = c.Name + ":" + c.Type.String()
	}
	key := cache.Key("chart_suggestion", req.Query, shape, req.RowCount, req.PreferKind, a.opts.ModelName)
	if !req.NoCache {
		if cached, found := a.cache.Get(key); found {
			log.Printf("[AI] chart suggestion cache hit")
			s := cached.(ChartSuggestion)
			s.Bindings = append([]models.Binding(nil), s.Bindings...)
			return &s, nil
		}
	}

	sys, user := BuildChartPrompt(req)
	var s ChartSuggestion
	if err := a.complete(ctx, "suggest_chart", []Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}, &s); err != nil {
		return nil, err
	}
	s.Kind = models.ChartKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	a.cache.SetDefault(key, s)
	return &s, nil
}

// Summarize condenses turns into a short running summary that replaces
// them in later prompts.
func (a *AIService) Summarize(ctx context.Context, previous string, turns []models.Turn) (string, error) {
	sys, user := BuildSummaryPrompt(previous, turns)
	var reply struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
	}
	if err := a.complete(ctx, "summarize", []Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}, &reply); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(reply.Summary)
	if len(reply.KeyPoints) > 0 {
		summary += "\nKey points: " + strings.Join(reply.KeyPoints, "; ")
	}
	return summary, nil
}

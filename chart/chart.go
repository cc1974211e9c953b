package chart

import (
	"context"
	"log"

	"reportpilot/ai"
	"reportpilot/faults"
	"reportpilot/models"
)

// Suggester is the inference call behind Suggest.
type Suggester interface {
	SuggestChart(ctx context.Context, req ai.ChartRequest) (*ai.ChartSuggestion, error)
}

type Synthesizer struct {
	suggester Suggester
	normalize NormalizeOptions
}

func NewSynthesizer(suggester Suggester, normalize NormalizeOptions) *Synthesizer {
	return &Synthesizer{suggester: suggester, normalize: normalize.withDefaults()}
}

type SuggestOptions struct {
	// PreferKind is a kind the user asked for.
	PreferKind models.ChartKind
	// NoCache skips the suggestion cache.
	NoCache bool
}

// Suggestion is a chart spec plus the summary text that goes with it.
type Suggestion struct {
	Spec    *models.ChartSpec
	Summary string
	// Fallback is set when the table kind was used because inference failed
	// or proposed something unusable.
	Fallback bool
}

// Suggest asks inference for a chart over a result described only by meta.
// Failures never escape as errors unless ctx itself is done: the result
// falls back to the table kind.
func (s *Synthesizer) Suggest(ctx context.Context, query string, meta models.ResultMeta, opts SuggestOptions) (*Suggestion, error) {
	req := ai.ChartRequest{
		Query:      query,
		Columns:    stripRanges(meta.Columns),
		RowCount:   meta.RowCount,
		PreferKind: opts.PreferKind,
		NoCache:    opts.NoCache,
	}
	suggestion, err := s.suggester.SuggestChart(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.FromContext(ctx, "suggest_chart")
		}
		log.Printf("[CHART] Suggestion failed, falling back to table: %v", err)
		return &Suggestion{Spec: TableSpec(""), Fallback: true}, nil
	}

	kind := suggestion.Kind
	if kind == "" && opts.PreferKind != "" {
		kind = opts.PreferKind
	}
	spec, err := s.Compose(kind, suggestion.Title, suggestion.Bindings, meta)
	if err != nil {
		log.Printf("[CHART] Unusable suggestion (%s): %v, falling back to table", kind, err)
		return &Suggestion{Spec: TableSpec(suggestion.Title), Summary: suggestion.Summary, Fallback: true}, nil
	}
	return &Suggestion{Spec: spec, Summary: suggestion.Summary}, nil
}

// Compose validates bindings against meta, builds the tree for kind and
// applies normalization. It is also used to re-apply a previous spec's
// bindings under a new kind.
func (s *Synthesizer) Compose(kind models.ChartKind, title string, bindings []models.Binding, meta models.ResultMeta) (*models.ChartSpec, error) {
	spec, err := Build(kind, title, KnownBindings(bindings, meta))
	if err != nil {
		return nil, err
	}
	Normalize(spec, meta, s.normalize)
	return spec, nil
}

// KnownBindings drops bindings whose column is absent from meta.
func KnownBindings(bindings []models.Binding, meta models.ResultMeta) []models.Binding {
	var out []models.Binding
	for _, b := range bindings {
		if _, ok := meta.Column(b.Column); ok {
			out = append(out, b)
			continue
		}
		log.Printf("[CHART] Dropping binding to unknown column %q", b.Column)
	}
	return out
}

func TableSpec(title string) *models.ChartSpec {
	spec, _ := Build(models.ChartTable, title, nil)
	return spec
}

func stripRanges(columns []models.ColumnMeta) []models.ColumnMeta {
	out := make([]models.ColumnMeta, len(columns))
	for i, c := range columns {
		out[i] = models.ColumnMeta{Name: c.Name, Type: c.Type}
	}
	return out
}

package models

import "time"

type StrategyName string

const (
	StrategyConversation   StrategyName = "conversation"
	StrategyReuseRechart   StrategyName = "reuse_rechart"
	StrategyFilterExisting StrategyName = "filter_existing"
	StrategyFullQuery      StrategyName = "full_query"
	StrategyDataOnly       StrategyName = "data_only"
)

// Strategies is the closed set, in routing-prompt order.
var Strategies = []StrategyName{
	StrategyConversation,
	StrategyReuseRechart,
	StrategyFilterExisting,
	StrategyFullQuery,
	StrategyDataOnly,
}

func (s StrategyName) Valid() bool {
	for _, v := range Strategies {
		if v == s {
			return true
		}
	}
	return false
}

// NeedsWorkingSet reports whether the strategy reads a prior table.
func (s StrategyName) NeedsWorkingSet() bool {
	return s == StrategyReuseRechart || s == StrategyFilterExisting
}

type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	// Summary condenses turns older than the recent window.
	Summary        string `json:"summary,omitempty"`
	SummarizedUpTo int    `json:"summarized_up_to,omitempty"`
}

// TableHandle addresses one working-set table.
type TableHandle struct {
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Name      string `json:"name"`
}

type WorkingSetTable struct {
	Handle    TableHandle `json:"handle"`
	Columns   []Column    `json:"columns"`
	RowCount  int         `json:"row_count"`
	CreatedAt time.Time   `json:"created_at"`
}

type Interaction struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Seq       int          `json:"seq"`
	Query     string       `json:"query"`
	Strategy  StrategyName `json:"strategy"`
	Plan      *QueryPlan   `json:"plan,omitempty"`
	PlanSQL   string       `json:"plan_sql,omitempty"`
	Chart     *ChartSpec   `json:"chart,omitempty"`
	Summary   string       `json:"summary"`
	Table     *TableHandle `json:"table,omitempty"`
	// SourceIDs is the provenance of the rows behind Table.
	SourceIDs []string  `json:"source_ids,omitempty"`
	Tables    []string  `json:"tables,omitempty"`
	RowCount  int       `json:"row_count"`
	Degraded  bool      `json:"degraded,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is the compact form of an interaction used in prompts.
type Turn struct {
	Seq      int          `json:"seq"`
	Query    string       `json:"query"`
	Strategy StrategyName `json:"strategy"`
	Summary  string       `json:"summary"`
}

func (i *Interaction) Turn() Turn {
	return Turn{Seq: i.Seq, Query: i.Query, Strategy: i.Strategy, Summary: i.Summary}
}

// InteractionResult is what RunInteraction hands back to its caller.
type InteractionResult struct {
	SessionID   string         `json:"session_id"`
	Interaction *Interaction   `json:"interaction"`
	Result      *TabularResult `json:"result,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	// Routed is the strategy chosen by routing; Interaction.Strategy is
	// the one that actually ran after any fallback.
	Routed StrategyName `json:"routed"`
}

type RedactionMode string

const (
	RedactRemove RedactionMode = "remove"
	RedactMask   RedactionMode = "mask"
)

type RedactionRule struct {
	Name     string        `json:"name,omitempty" yaml:"name"`
	SourceID string        `json:"source_id,omitempty" yaml:"source" validate:"omitempty"`
	Table    string        `json:"table,omitempty" yaml:"table"`
	Mode     RedactionMode `json:"mode" yaml:"mode" validate:"required,oneof=remove mask"`
	Columns  []string      `json:"columns" yaml:"columns" validate:"required,min=1,dive,required"`
	Pattern  string        `json:"pattern,omitempty" yaml:"pattern"`
}

// Provenance identifies where a result's rows came from.
type Provenance struct {
	SourceIDs []string
	Tables    []string
}

// API bodies

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type InteractionRequest struct {
	Query string `json:"query" binding:"required"`
}

type SummaryUpdateRequest struct {
	Summary string `json:"summary" binding:"required"`
}

type SourceInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type SessionDetail struct {
	Session      *Session       `json:"session"`
	Interactions []*Interaction `json:"interactions"`
}

type RenderedChart struct {
	Kind    ChartKind              `json:"kind"`
	Title   string                 `json:"title,omitempty"`
	Options map[string]interface{} `json:"options"`
}

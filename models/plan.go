package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type StepKind string

const (
	StepQuery  StepKind = "query"
	StepInvoke StepKind = "invoke"
)

// WorkingSetSourceID addresses the session's own working-set tables in a plan.
const WorkingSetSourceID = "__session__"

type PlanStep struct {
	Name       string                 `json:"name"`
	Kind       StepKind               `json:"kind"`
	SourceID   string                 `json:"source_id"`
	SQL        string                 `json:"sql,omitempty"`
	Capability string                 `json:"capability,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	// Tables lists the source tables the step reads, when the planner knows.
	Tables   []string `json:"tables,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

type QueryPlan struct {
	Steps            []PlanStep `json:"steps"`
	CombinationQuery string     `json:"combination_query,omitempty"`
	NoMatch          bool       `json:"no_match,omitempty"`
	UserMessage      string     `json:"user_message,omitempty"`
}

// Validate checks the structural contract: at least one step, unique
// names, a target for every step.
func (p *QueryPlan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[key] = true
		if s.SourceID == "" {
			return fmt.Errorf("step %q has no source", s.Name)
		}
		switch s.Kind {
		case StepQuery:
			if strings.TrimSpace(s.SQL) == "" {
				return fmt.Errorf("step %q has no sql", s.Name)
			}
		case StepInvoke:
			if s.Capability == "" {
				return fmt.Errorf("step %q has no capability", s.Name)
			}
		default:
			return fmt.Errorf("step %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// SourceIDs returns the distinct sources the plan touches, sorted.
func (p *QueryPlan) SourceIDs() []string {
	if p == nil {
		return nil
	}
	set := map[string]bool{}
	for _, s := range p.Steps {
		set[s.SourceID] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *QueryPlan) Tables() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Tables...)
	}
	return out
}

// Display renders the plan for people reading an interaction afterwards.
func (p *QueryPlan) Display() string {
	if p == nil || len(p.Steps) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range p.Steps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		opt := ""
		if s.Optional {
			opt = " (optional)"
		}
		switch s.Kind {
		case StepInvoke:
			args, _ := json.Marshal(s.Args)
			fmt.Fprintf(&b, "-- %s: %s.%s%s\n%s", s.Name, s.SourceID, s.Capability, opt, args)
		default:
			fmt.Fprintf(&b, "-- %s: %s%s\n%s", s.Name, s.SourceID, opt, strings.TrimSpace(s.SQL))
		}
	}
	if p.CombinationQuery != "" {
		fmt.Fprintf(&b, "\n\n-- combine\n%s", strings.TrimSpace(p.CombinationQuery))
	}
	return b.String()
}

// TableSchema describes a table for planning prompts.
type TableSchema struct {
	SourceID string   `json:"source_id"`
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int      `json:"row_count,omitempty"`
}

type CapabilitySchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SourceSchema is the declared shape of a registered source.
type SourceSchema struct {
	SourceID     string             `json:"source_id"`
	Kind         string             `json:"kind"`
	Description  string             `json:"description,omitempty"`
	Tables       []TableSchema      `json:"tables,omitempty"`
	Capabilities []CapabilitySchema `json:"capabilities,omitempty"`
}

package redaction

import (
	"sync"

	"reportpilot/models"
)

// DefaultMaskToken replaces a whole value when a mask rule has no pattern.
const DefaultMaskToken = "******"

// Apply runs rules over result in order and returns a new result. The input
// is never modified.
func Apply(result *models.TabularResult, prov models.Provenance, rules []models.RedactionRule) *models.TabularResult {
	if result == nil {
		return nil
	}
	out := result.Clone()
	for _, rule := range rules {
		if !matchesScope(rule, prov) {
			continue
		}
		switch rule.Mode {
		case models.RedactRemove:
			out = removeColumns(out, rule.Columns)
		case models.RedactMask:
			masker := NewMasker(rule.Pattern)
			for _, col := range rule.Columns {
				idx := out.ColumnIndex(col)
				if idx < 0 {
					continue
				}
				maskColumn(out, idx, masker)
			}
		}
	}
	return out
}

// matchesScope: an unscoped rule applies everywhere. A table-scoped rule
// applies when the table is in the provenance, or when the provenance
// carries no table names at all.
func matchesScope(rule models.RedactionRule, prov models.Provenance) bool {
	if rule.SourceID != "" && !contains(prov.SourceIDs, rule.SourceID) {
		return false
	}
	if rule.Table != "" && len(prov.Tables) > 0 && !containsFold(prov.Tables, rule.Table) {
		return false
	}
	return true
}

func removeColumns(r *models.TabularResult, targets []string) *models.TabularResult {
	drop := make(map[int]bool)
	for _, t := range targets {
		if idx := r.ColumnIndex(t); idx >= 0 {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return r
	}
	out := &models.TabularResult{
		Columns: make([]models.Column, 0, len(r.Columns)-len(drop)),
		Rows:    make([][]interface{}, len(r.Rows)),
	}
	for i, c := range r.Columns {
		if !drop[i] {
			out.Columns = append(out.Columns, c)
		}
	}
	for ri, row := range r.Rows {
		kept := make([]interface{}, 0, len(out.Columns))
		for i, v := range row {
			if !drop[i] {
				kept = append(kept, v)
			}
		}
		out.Rows[ri] = kept
	}
	return out
}

func maskColumn(r *models.TabularResult, idx int, m Masker) {
	for _, row := range r.Rows {
		if row[idx] == nil {
			continue
		}
		s, _ := models.CoerceValue(models.String, row[idx])
		row[idx] = m.Mask(s.(string))
	}
	r.Columns[idx].Type.Kind = models.String
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if equalFoldTable(v, s) {
			return true
		}
	}
	return false
}

// Provider supplies the rules applicable to a provenance.
type Provider interface {
	Rules(prov models.Provenance) []models.RedactionRule
}

// StaticProvider holds a swappable rule list; Set is used on config reload.
type StaticProvider struct {
	mu    sync.RWMutex
	rules []models.RedactionRule
}

func NewStaticProvider(rules []models.RedactionRule) *StaticProvider {
	return &StaticProvider{rules: append([]models.RedactionRule(nil), rules...)}
}

func (p *StaticProvider) Set(rules []models.RedactionRule) {
	p.mu.Lock()
	p.rules = append([]models.RedactionRule(nil), rules...)
	p.mu.Unlock()
}

func (p *StaticProvider) Rules(prov models.Provenance) []models.RedactionRule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []models.RedactionRule
	for _, r := range p.rules {
		if matchesScope(r, prov) {
			out = append(out, r)
		}
	}
	return out
}

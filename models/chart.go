package models

import (
	"encoding/json"
	"fmt"
)

type ChartKind string

const (
	ChartTable    ChartKind = "table"
	ChartText     ChartKind = "text"
	ChartBar      ChartKind = "bar"
	ChartLine     ChartKind = "line"
	ChartArea     ChartKind = "area"
	ChartPie      ChartKind = "pie"
	ChartScatter  ChartKind = "scatter"
	ChartRadar    ChartKind = "radar"
	ChartParallel ChartKind = "parallel"
	ChartHeatmap  ChartKind = "heatmap"
)

var supportedKinds = map[ChartKind]bool{
	ChartTable: true, ChartText: true, ChartBar: true, ChartLine: true, ChartArea: true,
	ChartPie: true, ChartScatter: true, ChartRadar: true, ChartParallel: true, ChartHeatmap: true,
}

func (k ChartKind) Supported() bool { return supportedKinds[k] }

// MultiAxis kinds plot every value column on its own axis.
func (k ChartKind) MultiAxis() bool { return k == ChartRadar || k == ChartParallel }

type Role string

const (
	RoleCategory Role = "category"
	RoleValue    Role = "value"
	RoleSeries   Role = "series"
	RoleX        Role = "x"
	RoleY        Role = "y"
	RoleLabel    Role = "label"
	RoleSize     Role = "size"
)

// Binding says which result column feeds which visual role.
type Binding struct {
	Column string `json:"column"`
	Role   Role   `json:"role"`
}

// Placeholder is a leaf in a ChartSpec tree standing in for the values of
// one bound column.
type Placeholder struct {
	Bind Binding `json:"$bind"`
}

// AxisRange records the original extent of a normalized column.
type AxisRange struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ChartSpec never carries row data, only bindings. Options is a JSON-like
// tree of map[string]interface{}, []interface{}, scalars and Placeholder.
type ChartSpec struct {
	Kind      ChartKind              `json:"kind"`
	Title     string                 `json:"title,omitempty"`
	Bindings  []Binding              `json:"bindings,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
	Normalize map[string]AxisRange   `json:"normalize,omitempty"`
}

// Columns returns the distinct bound columns in binding order.
func (s *ChartSpec) Columns() []string {
	if s == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, b := range s.Bindings {
		if !seen[b.Column] {
			seen[b.Column] = true
			out = append(out, b.Column)
		}
	}
	return out
}

func (s *ChartSpec) ColumnsFor(role Role) []string {
	var out []string
	for _, b := range s.Bindings {
		if b.Role == role {
			out = append(out, b.Column)
		}
	}
	return out
}

func (s *ChartSpec) UnmarshalJSON(data []byte) error {
	type plain ChartSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Options != nil {
		restored, ok := restorePlaceholders(p.Options).(map[string]interface{})
		if !ok {
			return fmt.Errorf("chart options are not an object")
		}
		p.Options = restored
	}
	*s = ChartSpec(p)
	return nil
}

// restorePlaceholders turns {"$bind": {...}} objects decoded from JSON back
// into typed Placeholder leaves.
func restorePlaceholders(node interface{}) interface{} {
	switch n := node.(type) {
	case map[string]interface{}:
		if raw, ok := n["$bind"]; ok && len(n) == 1 {
			if m, ok := raw.(map[string]interface{}); ok {
				col, _ := m["column"].(string)
				role, _ := m["role"].(string)
				return Placeholder{Bind: Binding{Column: col, Role: Role(role)}}
			}
		}
		for k, v := range n {
			n[k] = restorePlaceholders(v)
		}
		return n
	case []interface{}:
		for i, v := range n {
			n[i] = restorePlaceholders(v)
		}
		return n
	}
	return node
}

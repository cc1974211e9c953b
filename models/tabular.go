package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TypeKind is the closed set of column value types.
type TypeKind string

const (
	Integer  TypeKind = "integer"
	Float    TypeKind = "float"
	String   TypeKind = "string"
	Boolean  TypeKind = "boolean"
	DateTime TypeKind = "datetime"
)

// ColumnType is a TypeKind optionally wrapped as null-capable.
type ColumnType struct {
	Kind     TypeKind
	Nullable bool
}

func (t ColumnType) String() string {
	if t.Nullable {
		return "nullable(" + string(t.Kind) + ")"
	}
	return string(t.Kind)
}

func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(b []byte) error {
	parsed, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseColumnType(s string) (ColumnType, error) {
	s = strings.TrimSpace(s)
	var t ColumnType
	if strings.HasPrefix(s, "nullable(") && strings.HasSuffix(s, ")") {
		t.Nullable = true
		s = s[len("nullable(") : len(s)-1]
	}
	switch TypeKind(s) {
	case Integer, Float, String, Boolean, DateTime:
		t.Kind = TypeKind(s)
		return t, nil
	}
	return ColumnType{}, fmt.Errorf("unknown column type %q", s)
}

func (t ColumnType) IsNumeric() bool {
	return t.Kind == Integer || t.Kind == Float
}

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TabularResult is an ordered, typed row set. Values are int64, float64,
// string, bool, time.Time or nil.
type TabularResult struct {
	Columns []Column        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func (r *TabularResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

func (r *TabularResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of name, or -1.
func (r *TabularResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone deep-copies column and row slices. Values themselves are immutable.
func (r *TabularResult) Clone() *TabularResult {
	if r == nil {
		return nil
	}
	out := &TabularResult{
		Columns: append([]Column(nil), r.Columns...),
		Rows:    make([][]interface{}, len(r.Rows)),
	}
	for i, row := range r.Rows {
		out.Rows[i] = append([]interface{}(nil), row...)
	}
	return out
}

// Validate checks unique column names, row widths and value types.
func (r *TabularResult) Validate() error {
	seen := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		if c.Name == "" {
			return fmt.Errorf("empty column name")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(r.Columns))
		}
		for j, v := range row {
			if !ValueMatches(r.Columns[j].Type.Kind, v) {
				return fmt.Errorf("row %d column %q: value %v (%T) is not %s", i, r.Columns[j].Name, v, v, r.Columns[j].Type.Kind)
			}
		}
	}
	return nil
}

// ValueMatches reports whether v is a null marker or a value of kind.
func ValueMatches(kind TypeKind, v interface{}) bool {
	if v == nil {
		return true
	}
	switch kind {
	case Integer:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case String:
		_, ok := v.(string)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case DateTime:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// NormalizeValue converts driver values into the closed value set.
func NormalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case []byte:
		return string(x)
	case string, bool, time.Time:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

// InferKind picks a kind from the first non-null value.
func InferKind(values []interface{}) ColumnType {
	t := ColumnType{Kind: String}
	for _, v := range values {
		if v == nil {
			t.Nullable = true
			continue
		}
		switch v.(type) {
		case int64:
			t.Kind = Integer
		case float64:
			t.Kind = Float
		case bool:
			t.Kind = Boolean
		case time.Time:
			t.Kind = DateTime
		default:
			t.Kind = String
		}
		break
	}
	for _, v := range values {
		if v == nil {
			t.Nullable = true
			break
		}
	}
	return t
}

// CoerceValue converts v to kind, or returns false when it cannot.
func CoerceValue(kind TypeKind, v interface{}) (interface{}, bool) {
	v = NormalizeValue(v)
	if v == nil || ValueMatches(kind, v) {
		return v, true
	}
	switch kind {
	case Float:
		if i, ok := v.(int64); ok {
			return float64(i), true
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case Integer:
		if s, ok := v.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i, true
			}
		}
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f), true
		}
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), true
			}
			return int64(0), true
		}
	case Boolean:
		if i, ok := v.(int64); ok {
			return i != 0, true
		}
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return b, true
			}
		}
	case DateTime:
		if s, ok := v.(string); ok {
			if t, err := ParseTime(s); err == nil {
				return t, true
			}
		}
	case String:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), true
		}
		return fmt.Sprintf("%v", v), true
	}
	return nil, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// ColumnMeta is what the visualization side may see of a result: no raw
// values, only shape and numeric extent.
type ColumnMeta struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
	Min  *float64   `json:"min,omitempty"`
	Max  *float64   `json:"max,omitempty"`
}

type ResultMeta struct {
	Columns  []ColumnMeta `json:"columns"`
	RowCount int          `json:"row_count"`
}

// Meta derives column metadata and numeric ranges from r.
func (r *TabularResult) Meta() ResultMeta {
	meta := ResultMeta{RowCount: r.RowCount(), Columns: make([]ColumnMeta, len(r.Columns))}
	for i, c := range r.Columns {
		cm := ColumnMeta{Name: c.Name, Type: c.Type}
		if c.Type.IsNumeric() {
			for _, row := range r.Rows {
				f, ok := AsFloat(row[i])
				if !ok {
					continue
				}
				if cm.Min == nil || f < *cm.Min {
					v := f
					cm.Min = &v
				}
				if cm.Max == nil || f > *cm.Max {
					v := f
					cm.Max = &v
				}
			}
		}
		meta.Columns[i] = cm
	}
	return meta
}

func (m ResultMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

func AsFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

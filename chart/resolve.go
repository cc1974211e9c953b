package chart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reportpilot/faults"
	"reportpilot/models"
)

// Resolve binds spec to result, replacing each placeholder leaf with the
// values of its column. Normalized columns are rescaled with the ranges
// recorded on the spec. The spec itself is not modified.
func Resolve(spec *models.ChartSpec, result *models.TabularResult) (*models.RenderedChart, error) {
	if spec == nil {
		return nil, faults.New(faults.NotFound, "render", "interaction has no chart")
	}
	if result == nil {
		result = &models.TabularResult{}
	}
	out := &models.RenderedChart{Kind: spec.Kind, Title: spec.Title}
	resolved, err := resolveNode(spec.Options, spec, result)
	if err != nil {
		return nil, err
	}
	out.Options, _ = resolved.(map[string]interface{})
	if out.Options == nil {
		out.Options = map[string]interface{}{}
	}
	if spec.Kind == models.ChartTable {
		out.Options["columns"] = toInterfaces(result.ColumnNames())
		rows := make([]interface{}, len(result.Rows))
		for i, row := range result.Rows {
			rows[i] = renderRow(row)
		}
		out.Options["rows"] = rows
	}
	return out, nil
}

func resolveNode(node interface{}, spec *models.ChartSpec, result *models.TabularResult) (interface{}, error) {
	switch n := node.(type) {
	case models.Placeholder:
		return columnValues(n.Bind, spec, result)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			r, err := resolveNode(v, spec, result)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			r, err := resolveNode(v, spec, result)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return node, nil
}

func columnValues(b models.Binding, spec *models.ChartSpec, result *models.TabularResult) ([]interface{}, error) {
	idx := result.ColumnIndex(b.Column)
	if idx < 0 {
		return nil, faults.New(faults.SchemaConflict, "render", "bound column %q is not in the result", b.Column)
	}
	r, normalized := spec.Normalize[b.Column]
	values := make([]interface{}, len(result.Rows))
	for i, row := range result.Rows {
		v := row[idx]
		if normalized {
			if f, ok := models.AsFloat(v); ok {
				values[i] = scale(f, r)
				continue
			}
		}
		values[i] = renderValue(v)
	}
	return values, nil
}

func renderRow(row []interface{}) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = renderValue(v)
	}
	return out
}

func renderValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

const noData = "no data"

var placeholderPattern = regexp.MustCompile(`\{\{DATA_PLACEHOLDER(?:_(\d+|X))?\}\}`)

// FillSummary replaces data placeholders in summary with values from the
// first row of result. {{DATA_PLACEHOLDER}} and {{DATA_PLACEHOLDER_X}} take
// the first column, {{DATA_PLACEHOLDER_N}} the Nth (1-based).
func FillSummary(summary string, result *models.TabularResult) string {
	if !strings.Contains(summary, "{{DATA_PLACEHOLDER") {
		return summary
	}
	return placeholderPattern.ReplaceAllStringFunc(summary, func(match string) string {
		if result.RowCount() == 0 || len(result.Columns) == 0 {
			return noData
		}
		col := 0
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) > 1 && sub[1] != "" && sub[1] != "X" {
			n, err := strconv.Atoi(sub[1])
			if err != nil || n < 1 || n > len(result.Columns) {
				return noData
			}
			col = n - 1
		}
		return formatValue(result.Rows[0][col])
	})
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return noData
	case int64:
		return groupThousands(strconv.FormatInt(x, 10))
	case float64:
		return groupThousands(strconv.FormatFloat(x, 'f', -1, 64))
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// groupThousands inserts commas into the integer part of a formatted number.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, frac = s[:dot], s[dot:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}

package chart

import (
	"fmt"

	"reportpilot/models"
)

func bind(column string, role models.Role) models.Placeholder {
	return models.Placeholder{Bind: models.Binding{Column: column, Role: role}}
}

// roles splits bindings into the first dimension-like column and the value
// columns, in binding order.
type roles struct {
	category string
	x, y     string
	label    string
	size     string
	series   string
	values   []string
}

func collect(bindings []models.Binding) roles {
	var r roles
	for _, b := range bindings {
		switch b.Role {
		case models.RoleCategory:
			if r.category == "" {
				r.category = b.Column
			}
		case models.RoleX:
			if r.x == "" {
				r.x = b.Column
			}
		case models.RoleY:
			if r.y == "" {
				r.y = b.Column
			}
		case models.RoleLabel:
			if r.label == "" {
				r.label = b.Column
			}
		case models.RoleSize:
			if r.size == "" {
				r.size = b.Column
			}
		case models.RoleSeries:
			if r.series == "" {
				r.series = b.Column
			}
		case models.RoleValue:
			r.values = append(r.values, b.Column)
		}
	}
	return r
}

func first(names ...string) string {
	for _, n := range names {
		if n != "" {
			return n
		}
	}
	return ""
}

// Build assembles the placeholder tree for kind from bindings. It fails when
// the bindings do not supply the roles the kind needs.
func Build(kind models.ChartKind, title string, bindings []models.Binding) (*models.ChartSpec, error) {
	if !kind.Supported() {
		return nil, fmt.Errorf("unsupported chart kind %q", kind)
	}
	r := collect(bindings)
	spec := &models.ChartSpec{Kind: kind, Title: title}
	options := map[string]interface{}{}
	if title != "" {
		options["title"] = map[string]interface{}{"text": title}
	}

	switch kind {
	case models.ChartTable, models.ChartText:
		spec.Bindings = append([]models.Binding(nil), bindings...)

	case models.ChartBar, models.ChartLine, models.ChartArea:
		category := first(r.category, r.x, r.label, r.series)
		values := r.values
		if len(values) == 0 && r.y != "" {
			values = []string{r.y}
		}
		if category == "" || len(values) == 0 {
			return nil, fmt.Errorf("%s chart needs a category and at least one value column", kind)
		}
		spec.Bindings = append(spec.Bindings, models.Binding{Column: category, Role: models.RoleCategory})
		seriesType := string(kind)
		if kind == models.ChartArea {
			seriesType = string(models.ChartLine)
		}
		var series []interface{}
		for _, v := range values {
			spec.Bindings = append(spec.Bindings, models.Binding{Column: v, Role: models.RoleValue})
			s := map[string]interface{}{"name": v, "type": seriesType, "data": bind(v, models.RoleValue)}
			if kind == models.ChartArea {
				s["areaStyle"] = map[string]interface{}{}
			}
			series = append(series, s)
		}
		options["tooltip"] = map[string]interface{}{"trigger": "axis"}
		options["xAxis"] = map[string]interface{}{"type": "category", "name": category, "data": bind(category, models.RoleCategory)}
		options["yAxis"] = map[string]interface{}{"type": "value"}
		if len(values) > 1 {
			options["legend"] = map[string]interface{}{"data": toInterfaces(values)}
		}
		options["series"] = series

	case models.ChartPie:
		category := first(r.category, r.label, r.x, r.series)
		value := first(append(r.values, r.y)...)
		if category == "" || value == "" {
			return nil, fmt.Errorf("pie chart needs a category and a value column")
		}
		spec.Bindings = []models.Binding{
			{Column: category, Role: models.RoleCategory},
			{Column: value, Role: models.RoleValue},
		}
		options["tooltip"] = map[string]interface{}{"trigger": "item"}
		options["series"] = []interface{}{map[string]interface{}{
			"name":   value,
			"type":   "pie",
			"labels": bind(category, models.RoleCategory),
			"data":   bind(value, models.RoleValue),
		}}

	case models.ChartScatter:
		x := first(r.x, r.category)
		y := first(append([]string{r.y}, r.values...)...)
		if x == "" || y == "" || x == y {
			return nil, fmt.Errorf("scatter chart needs distinct x and y columns")
		}
		spec.Bindings = []models.Binding{{Column: x, Role: models.RoleX}, {Column: y, Role: models.RoleY}}
		s := map[string]interface{}{"type": "scatter", "x": bind(x, models.RoleX), "y": bind(y, models.RoleY)}
		if r.size != "" {
			spec.Bindings = append(spec.Bindings, models.Binding{Column: r.size, Role: models.RoleSize})
			s["size"] = bind(r.size, models.RoleSize)
		}
		if r.label != "" {
			spec.Bindings = append(spec.Bindings, models.Binding{Column: r.label, Role: models.RoleLabel})
			s["labels"] = bind(r.label, models.RoleLabel)
		}
		options["tooltip"] = map[string]interface{}{"trigger": "item"}
		options["xAxis"] = map[string]interface{}{"type": "value", "name": x}
		options["yAxis"] = map[string]interface{}{"type": "value", "name": y}
		options["series"] = []interface{}{s}

	case models.ChartRadar, models.ChartParallel:
		label := first(r.label, r.category, r.series, r.x)
		values := r.values
		if len(values) < 2 {
			return nil, fmt.Errorf("%s chart needs at least two value columns", kind)
		}
		if label != "" {
			spec.Bindings = append(spec.Bindings, models.Binding{Column: label, Role: models.RoleLabel})
		}
		axes := make([]interface{}, len(values))
		points := make([]interface{}, len(values))
		for i, v := range values {
			spec.Bindings = append(spec.Bindings, models.Binding{Column: v, Role: models.RoleValue})
			if kind == models.ChartRadar {
				axes[i] = map[string]interface{}{"name": v}
			} else {
				axes[i] = map[string]interface{}{"dim": i, "name": v}
			}
			points[i] = bind(v, models.RoleValue)
		}
		s := map[string]interface{}{"type": string(kind), "values": points}
		if label != "" {
			s["labels"] = bind(label, models.RoleLabel)
		}
		if kind == models.ChartRadar {
			options["radar"] = map[string]interface{}{"indicator": axes}
		} else {
			options["parallelAxis"] = axes
		}
		options["series"] = []interface{}{s}

	case models.ChartHeatmap:
		x := first(r.x, r.category)
		y := first(r.y, r.series, r.label)
		value := first(r.values...)
		if x == "" || y == "" || value == "" {
			return nil, fmt.Errorf("heatmap needs x, y and value columns")
		}
		spec.Bindings = []models.Binding{
			{Column: x, Role: models.RoleX},
			{Column: y, Role: models.RoleY},
			{Column: value, Role: models.RoleValue},
		}
		options["xAxis"] = map[string]interface{}{"type": "category", "name": x, "data": bind(x, models.RoleX)}
		options["yAxis"] = map[string]interface{}{"type": "category", "name": y, "data": bind(y, models.RoleY)}
		options["visualMap"] = map[string]interface{}{"calculable": true}
		options["series"] = []interface{}{map[string]interface{}{"type": "heatmap", "data": bind(value, models.RoleValue)}}
	}

	spec.Options = options
	return spec, nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

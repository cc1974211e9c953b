package chart

import (
	"fmt"
	"log"
	"strconv"

	"reportpilot/models"
)

type NormalizeOptions struct {
	// Ratio is the span ratio between bound value columns above which
	// multi-axis charts are rescaled.
	Ratio float64
	Lower float64
	Upper float64
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.Ratio <= 1 {
		o.Ratio = 10
	}
	if o.Upper <= o.Lower {
		o.Lower, o.Upper = 0, 100
	}
	return o
}

// Normalize decides from column metadata whether the value columns of a
// multi-axis spec need rescaling, and if so records each column's original
// range and rewrites the axis labels. Other kinds are left untouched.
func Normalize(spec *models.ChartSpec, meta models.ResultMeta, opts NormalizeOptions) {
	if spec == nil || !spec.Kind.MultiAxis() {
		return
	}
	opts = opts.withDefaults()

	values := spec.ColumnsFor(models.RoleValue)
	ranges := make(map[string]models.AxisRange, len(values))
	var smallest, largest float64
	for _, col := range values {
		cm, ok := meta.Column(col)
		if !ok || !cm.Type.IsNumeric() || cm.Min == nil || cm.Max == nil {
			continue
		}
		ranges[col] = models.AxisRange{Min: *cm.Min, Max: *cm.Max, Lower: opts.Lower, Upper: opts.Upper}
		span := *cm.Max - *cm.Min
		if span <= 0 {
			continue
		}
		if smallest == 0 || span < smallest {
			smallest = span
		}
		if span > largest {
			largest = span
		}
	}
	if smallest == 0 || largest/smallest <= opts.Ratio {
		return
	}

	log.Printf("[CHART] Normalizing %d value columns to %v..%v (span ratio %.1f)", len(ranges), opts.Lower, opts.Upper, largest/smallest)
	spec.Normalize = ranges
	relabel(spec)
}

// relabel rewrites the radar indicators or parallel axes of a normalized
// spec to carry the original extent.
func relabel(spec *models.ChartSpec) {
	var axes []interface{}
	switch spec.Kind {
	case models.ChartRadar:
		radar, _ := spec.Options["radar"].(map[string]interface{})
		axes, _ = radar["indicator"].([]interface{})
	case models.ChartParallel:
		axes, _ = spec.Options["parallelAxis"].([]interface{})
	}
	for _, a := range axes {
		axis, ok := a.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := axis["name"].(string)
		r, ok := spec.Normalize[name]
		if !ok {
			continue
		}
		axis["name"] = AxisLabel(name, r)
		axis["min"] = r.Lower
		axis["max"] = r.Upper
	}
}

func AxisLabel(column string, r models.AxisRange) string {
	return fmt.Sprintf("%s (min %s, max %s)", column, formatNumber(r.Min), formatNumber(r.Max))
}

// scale maps v from the recorded range onto Lower..Upper, clamped so rows
// outside the recorded extent stay on the axis.
func scale(v float64, r models.AxisRange) float64 {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Lower
	}
	out := r.Lower + (v-r.Min)/span*(r.Upper-r.Lower)
	if out < r.Lower {
		return r.Lower
	}
	if out > r.Upper {
		return r.Upper
	}
	return out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

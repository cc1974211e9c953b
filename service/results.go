package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"reportpilot/chart"
	"reportpilot/faults"
	"reportpilot/models"
)

// Rows returns the working-set rows behind an interaction. They were
// redacted before they were stored.
func (o *Orchestrator) Rows(ctx context.Context, sessionID string, seq int) (*models.Interaction, *models.TabularResult, error) {
	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	in, err := o.db.GetInteraction(sessionID, seq)
	if err != nil {
		return nil, nil, err
	}
	if in.Table == nil {
		return in, nil, faults.New(faults.NotFound, "rows", "interaction %d has no result table", seq)
	}
	rows, err := o.store.Query(ctx, *in.Table, "")
	if err != nil {
		return in, nil, err
	}
	return in, rows, nil
}

// RenderChart resolves the interaction's stored chart spec against its
// working-set rows.
func (o *Orchestrator) RenderChart(ctx context.Context, sessionID string, seq int) (*models.RenderedChart, error) {
	in, rows, err := o.Rows(ctx, sessionID, seq)
	if err != nil {
		return nil, err
	}
	if in.Chart == nil {
		return nil, faults.New(faults.NotFound, "render", "interaction %d has no chart", seq)
	}
	return chart.Resolve(in.Chart, rows)
}

// UpdateSummary replaces an interaction's summary text, the only edit an
// interaction allows.
func (o *Orchestrator) UpdateSummary(ctx context.Context, sessionID string, seq int, summary string) (*models.Interaction, error) {
	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.db.UpdateSummary(sessionID, seq, summary)
}

// ExportFileName names a rows download.
func ExportFileName(sessionID string, seq int, format string) string {
	return fmt.Sprintf("report_%s_%03d_%s.%s", sessionID, seq, time.Now().Format("20060102_150405"), format)
}

// WriteCSV writes result with a header row. Nulls become empty cells.
func WriteCSV(w io.Writer, result *models.TabularResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range result.Rows {
		record := make([]string, len(row))
		for i, val := range row {
			record[i] = csvValue(val)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

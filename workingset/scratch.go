package workingset

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/sources"
)

// Scratch is a throwaway in-memory database holding only the outputs of one
// plan's steps, so a combination query can join them by step name.
type Scratch struct {
	db     *sql.DB
	tables map[string]*models.TableSchema
}

func OpenScratch(ctx context.Context) (*Scratch, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "scratch", fmt.Errorf("failed to open scratch area: %w", err))
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, faults.Wrap(faults.Storage, "scratch", err)
	}
	return &Scratch{db: db, tables: map[string]*models.TableSchema{}}, nil
}

// Load stores one step output under the step's name.
func (s *Scratch) Load(ctx context.Context, name string, result *models.TabularResult) error {
	if err := checkSchema(result); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Wrap(faults.Storage, "scratch", err)
	}
	defer tx.Rollback()
	if err := createAndLoad(ctx, tx, name, result); err != nil {
		return faults.Wrap(faults.Storage, "scratch", fmt.Errorf("step %s: %w", name, err))
	}
	if err := tx.Commit(); err != nil {
		return faults.Wrap(faults.Storage, "scratch", err)
	}
	s.tables[name] = &models.TableSchema{Name: name, Columns: result.Columns, RowCount: result.RowCount()}
	return nil
}

// Schemas describes the loaded step outputs, for writing a combination query.
func (s *Scratch) Schemas() []models.TableSchema {
	out := make([]models.TableSchema, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scratch) Query(ctx context.Context, query string) (*models.TabularResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, faults.Wrap(faults.Source, "combine", err)
	}
	defer rows.Close()
	result, err := sources.ScanRows(rows)
	if err != nil {
		return nil, faults.Wrap(faults.Source, "combine", err)
	}
	return result, nil
}

func (s *Scratch) Close() error {
	return s.db.Close()
}

package workingset

import (
	"context"
	"strings"

	"reportpilot/faults"
	"reportpilot/models"
)

// SourceKind is reported by SessionSource.
const SourceKind = "working_set"

// SessionSource exposes some of one session's working-set tables as a plan
// source under models.WorkingSetSourceID. Every statement must address
// exactly one of those tables.
type SessionSource struct {
	store     *Store
	sessionID string
	handles   map[string]models.TableHandle
	order     []models.TableHandle
}

// Source scopes a SessionSource to the given handles of sessionID.
func (s *Store) Source(sessionID string, handles ...models.TableHandle) *SessionSource {
	src := &SessionSource{store: s, sessionID: sessionID, handles: map[string]models.TableHandle{}}
	for _, h := range handles {
		if h.SessionID != sessionID {
			continue
		}
		if _, dup := src.handles[strings.ToLower(h.Name)]; dup {
			continue
		}
		src.handles[strings.ToLower(h.Name)] = h
		src.order = append(src.order, h)
	}
	return src
}

func (s *SessionSource) ID() string   { return models.WorkingSetSourceID }
func (s *SessionSource) Kind() string { return SourceKind }
func (s *SessionSource) Close() error { return nil }

// RunQuery resolves the one table the statement names and runs it there.
// A statement naming no table runs against the only table in scope.
func (s *SessionSource) RunQuery(ctx context.Context, query string) (*models.TabularResult, error) {
	refs := map[string]bool{}
	for _, ref := range tableRef.FindAllString(stripLiterals(query), -1) {
		refs[strings.ToLower(ref)] = true
	}
	switch {
	case len(refs) > 1:
		return nil, faults.New(faults.PlanInvalid, "query", "a working-set query may read only one table")
	case len(refs) == 1:
		for ref := range refs {
			h, ok := s.handles[ref]
			if !ok {
				return nil, faults.New(faults.NotFound, "query", "working-set table %s is not available to this session", ref)
			}
			return s.store.Query(ctx, h, query)
		}
	}
	if len(s.order) != 1 {
		return nil, faults.New(faults.PlanInvalid, "query", "statement names no working-set table and %d are in scope", len(s.order))
	}
	return s.store.Query(ctx, s.order[0], query)
}

func (s *SessionSource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	return nil, faults.New(faults.PlanInvalid, "invoke", "the working set has no capabilities")
}

func (s *SessionSource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	schema := &models.SourceSchema{SourceID: models.WorkingSetSourceID, Kind: SourceKind, Description: "tables holding this conversation's earlier results"}
	for _, h := range s.order {
		t, err := s.store.Schema(ctx, h)
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return nil, err
		}
		schema.Tables = append(schema.Tables, models.TableSchema{
			SourceID: models.WorkingSetSourceID,
			Name:     h.Name,
			Columns:  t.Columns,
			RowCount: t.RowCount,
		})
	}
	return schema, nil
}

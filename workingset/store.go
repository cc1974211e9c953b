package workingset

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/sources"

	_ "modernc.org/sqlite"
)

// reserved names SQLite resolves to the implicit row id
var reservedColumns = map[string]bool{"rowid": true, "oid": true, "_rowid_": true}

var (
	tableRef   = regexp.MustCompile(`(?i)\bws_[0-9a-f]{16}_i\d+\b`)
	fromClause = regexp.MustCompile(`(?i)\bfrom\b`)

	// clauses that must follow an implied FROM
	tailClause  = regexp.MustCompile(`(?i)\b(where|group\s+by|having|order\s+by|limit|window)\b`)
	setOperator = regexp.MustCompile(`(?i)\b(union|intersect|except)\b`)
)

type Options struct {
	// Path is the SQLite file; empty keeps the working set in memory.
	Path string
	// MaxTablesPerSession bounds how many tables one session may hold.
	MaxTablesPerSession int
	// OpTimeout bounds every store operation.
	OpTimeout time.Duration
}

// Store holds every session's working-set tables in one SQLite database.
// Table names are derived from (session id, sequence) so any interaction
// can address an earlier one.
type Store struct {
	db        *sql.DB
	maxTables int
	timeout   time.Duration
}

func New(opts Options) (*Store, error) {
	dsn := ":memory:"
	if opts.Path != "" {
		dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open working set: %w", err)
	}
	if opts.Path == "" {
		// every :memory: connection is its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("working set ping failed: %w", err)
	}
	if opts.MaxTablesPerSession <= 0 {
		opts.MaxTablesPerSession = 20
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 30 * time.Second
	}
	return &Store{db: db, maxTables: opts.MaxTablesPerSession, timeout: opts.OpTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionPrefix(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return "ws_" + hex.EncodeToString(sum[:8]) + "_i"
}

// TableName is the deterministic table name for one interaction.
func TableName(sessionID string, seq int) string {
	return fmt.Sprintf("%s%d", sessionPrefix(sessionID), seq)
}

func Handle(sessionID string, seq int) models.TableHandle {
	return models.TableHandle{SessionID: sessionID, Seq: seq, Name: TableName(sessionID, seq)}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Materialize creates the interaction's table and loads every row in one
// transaction. On any error, including cancellation, nothing is left behind.
func (s *Store) Materialize(ctx context.Context, sessionID string, seq int, result *models.TabularResult) (*models.WorkingSetTable, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := checkSchema(result); err != nil {
		return nil, err
	}
	handle := Handle(sessionID, seq)

	count, exists, err := s.countTables(ctx, sessionID, handle.Name)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "materialize", err)
	}
	if exists {
		return nil, faults.New(faults.Storage, "materialize", "table for interaction %d already exists", seq)
	}
	if count >= s.maxTables {
		return nil, faults.New(faults.Storage, "materialize", "session table budget of %d exhausted", s.maxTables)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "materialize", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := createAndLoad(ctx, tx, handle.Name, result); err != nil {
		return nil, faults.Wrap(faults.Storage, "materialize", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, faults.Wrap(faults.Storage, "materialize", fmt.Errorf("failed to commit: %w", err))
	}

	return &models.WorkingSetTable{
		Handle:    handle,
		Columns:   append([]models.Column(nil), result.Columns...),
		RowCount:  result.RowCount(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func checkSchema(result *models.TabularResult) error {
	if result == nil || len(result.Columns) == 0 {
		return faults.New(faults.SchemaConflict, "materialize", "result has no columns")
	}
	seen := make(map[string]bool, len(result.Columns))
	for _, c := range result.Columns {
		lower := strings.ToLower(c.Name)
		if reservedColumns[lower] || strings.HasPrefix(lower, "sqlite_") {
			return faults.New(faults.SchemaConflict, "materialize", "column %q collides with a reserved identifier", c.Name)
		}
		// SQLite identifiers are case-insensitive
		if seen[lower] {
			return faults.New(faults.SchemaConflict, "materialize", "duplicate column %q", c.Name)
		}
		seen[lower] = true
	}
	if err := result.Validate(); err != nil {
		return faults.Wrap(faults.SchemaConflict, "materialize", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// createAndLoad declares the table from result's column types and inserts
// every row.
func createAndLoad(ctx context.Context, tx execer, name string, result *models.TabularResult) error {
	defs := make([]string, len(result.Columns))
	marks := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		defs[i] = quoteIdent(c.Name) + " " + sources.DeclaredType(c.Type)
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(result.Columns))
	for _, row := range result.Rows {
		for i, v := range row {
			args[i] = storageValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}

func storageValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (s *Store) countTables(ctx context.Context, sessionID, name string) (int, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB ?", sessionPrefix(sessionID)+"*")
	if err != nil {
		return 0, false, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()
	count, exists := 0, false
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return 0, false, err
		}
		count++
		if n == name {
			exists = true
		}
	}
	return count, exists, rows.Err()
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return n > 0, err
}

// Query runs a read-only statement against exactly one table. sqlOrFilter
// is either a SELECT/WITH statement that may only name this table, a bare
// filter expression, or empty for every row.
func (s *Store) Query(ctx context.Context, handle models.TableHandle, sqlOrFilter string) (*models.TabularResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if handle.Name != TableName(handle.SessionID, handle.Seq) {
		return nil, faults.New(faults.NotFound, "query", "handle %q does not belong to session", handle.Name)
	}
	exists, err := s.tableExists(ctx, handle.Name)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "query", err)
	}
	if !exists {
		return nil, faults.New(faults.NotFound, "query", "working-set table %s no longer exists", handle.Name)
	}

	stmt, err := scopedStatement(handle.Name, sqlOrFilter)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "query", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, faults.Wrap(faults.Storage, "query", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
			log.Printf("[WORKING SET] failed to reset query_only, discarding connection: %v", err)
			conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		}
	}()

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classifyQueryError(handle, err)
	}
	defer rows.Close()
	result, err := sources.ScanRows(rows)
	if err != nil {
		return nil, classifyQueryError(handle, err)
	}
	return result, nil
}

func classifyQueryError(handle models.TableHandle, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return &faults.Error{Kind: faults.NotFound, Op: "query", Err: fmt.Errorf("%s: %w", handle.Name, err)}
	}
	// a bad filter is a malformed query, never retried
	return faults.Wrap(faults.Source, "query", err)
}

func scopedStatement(table, sqlOrFilter string) (string, error) {
	q := strings.TrimSpace(sqlOrFilter)
	q = strings.TrimRight(q, "; \n\t")
	if q == "" {
		return "SELECT * FROM " + quoteIdent(table), nil
	}
	bare := stripLiterals(q)
	if strings.Contains(bare, ";") {
		return "", faults.New(faults.PlanInvalid, "query", "only a single statement is allowed")
	}
	for _, ref := range tableRef.FindAllString(bare, -1) {
		if !strings.EqualFold(ref, table) {
			return "", faults.New(faults.PlanInvalid, "query", "statement references %s outside its scope", ref)
		}
	}

	lower := strings.ToLower(q)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		// a filter is a single predicate over this table's columns
		if fromClause.MatchString(bare) || setOperator.MatchString(bare) {
			return "", faults.New(faults.PlanInvalid, "query", "a filter may not read other tables")
		}
		return fmt.Sprintf("SELECT * FROM %s WHERE %s", quoteIdent(table), q), nil
	}
	// "select *", "select count(*) where ...": the table is implied
	if !fromClause.MatchString(bare) {
		from := " FROM " + quoteIdent(table)
		if loc := tailClause.FindStringIndex(bare); loc != nil {
			return strings.TrimRight(q[:loc[0]], " \n\t") + from + " " + q[loc[0]:], nil
		}
		return q + from, nil
	}
	return q, nil
}

// stripLiterals blanks out single-quoted string literals, keeping byte
// offsets unchanged.
func stripLiterals(q string) string {
	b := []byte(q)
	in := false
	for i, c := range b {
		if c == '\'' {
			in = !in
			continue
		}
		if in {
			b[i] = ' '
		}
	}
	return string(b)
}

// Schema describes one table without reading its rows.
func (s *Store) Schema(ctx context.Context, handle models.TableHandle) (*models.WorkingSetTable, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.describe(ctx, handle)
}

func (s *Store) describe(ctx context.Context, handle models.TableHandle) (*models.WorkingSetTable, error) {
	exists, err := s.tableExists(ctx, handle.Name)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "schema", err)
	}
	if !exists {
		return nil, faults.New(faults.NotFound, "schema", "working-set table %s no longer exists", handle.Name)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name, type FROM pragma_table_info(%s) ORDER BY cid", quoteLiteral(handle.Name)))
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "schema", err)
	}
	defer rows.Close()
	t := &models.WorkingSetTable{Handle: handle}
	for rows.Next() {
		var name, decl string
		if err := rows.Scan(&name, &decl); err != nil {
			return nil, faults.Wrap(faults.Storage, "schema", err)
		}
		t.Columns = append(t.Columns, models.Column{Name: name, Type: sources.ParseDeclaredType(decl)})
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.Storage, "schema", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(handle.Name)).Scan(&t.RowCount); err != nil {
		return nil, faults.Wrap(faults.Storage, "schema", err)
	}
	return t, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Tables lists the session's tables in sequence order.
func (s *Store) Tables(ctx context.Context, sessionID string) ([]*models.WorkingSetTable, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prefix := sessionPrefix(sessionID)
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB ?", prefix+"*")
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "tables", err)
	}
	var seqs []int
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, faults.Wrap(faults.Storage, "tables", err)
		}
		var seq int
		if _, err := fmt.Sscanf(strings.TrimPrefix(name, prefix), "%d", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	rows.Close()
	sort.Ints(seqs)

	out := make([]*models.WorkingSetTable, 0, len(seqs))
	for _, seq := range seqs {
		t, err := s.describe(ctx, Handle(sessionID, seq))
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Drop removes one table. Missing tables are ignored.
func (s *Store) Drop(ctx context.Context, handle models.TableHandle) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(handle.Name)); err != nil {
		return faults.Wrap(faults.Storage, "drop", err)
	}
	return nil
}

// Reclaim drops every table of the session. Reclaiming an unknown or
// already reclaimed session succeeds.
func (s *Store) Reclaim(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB ?", sessionPrefix(sessionID)+"*")
	if err != nil {
		return faults.Wrap(faults.Storage, "reclaim", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return faults.Wrap(faults.Storage, "reclaim", err)
		}
		names = append(names, n)
	}
	rows.Close()

	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Wrap(faults.Storage, "reclaim", err)
	}
	defer tx.Rollback()
	for _, n := range names {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(n)); err != nil {
			return faults.Wrap(faults.Storage, "reclaim", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return faults.Wrap(faults.Storage, "reclaim", err)
	}
	log.Printf("[WORKING SET] reclaimed %d table(s) for session %s", len(names), sessionID)
	return nil
}

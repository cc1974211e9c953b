package sources

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"reportpilot/cache"
	"reportpilot/config"
	"reportpilot/faults"
	"reportpilot/models"

	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// SQLSource runs relational queries against SQL Server, Postgres or SQLite.
type SQLSource struct {
	id          string
	kind        string
	description string
	db          *sql.DB
	tables      map[string]bool
	schemaCache *cache.Cache
}

// NewSQLSource opens the pool for cfg. A failed ping is only logged so the
// service can start while a source is temporarily unreachable.
func NewSQLSource(cfg config.SourceConfig) (*SQLSource, error) {
	driverName, dsn, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Kind, err)
	}
	return newSQLSource(cfg, db), nil
}

func newSQLSource(cfg config.SourceConfig, db *sql.DB) *SQLSource {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("[SOURCES] Warning: failed to ping %s (%s) during initialization: %v", cfg.ID, cfg.Kind, err)
	}

	var tables map[string]bool
	if len(cfg.Tables) > 0 {
		tables = make(map[string]bool, len(cfg.Tables))
		for _, t := range cfg.Tables {
			tables[strings.ToLower(t)] = true
		}
	}
	return &SQLSource{
		id:          cfg.ID,
		kind:        cfg.Kind,
		description: cfg.Description,
		db:          db,
		tables:      tables,
		schemaCache: cache.New(10 * time.Minute),
	}
}

func connectionString(cfg config.SourceConfig) (string, string, error) {
	switch cfg.Kind {
	case config.KindSQLServer:
		return "sqlserver", buildSQLServerConnectionString(cfg.SQLServer), nil
	case config.KindPostgres:
		return "postgres", cfg.DSN, nil
	case config.KindSQLite:
		if cfg.DSN != "" {
			return "sqlite", cfg.DSN, nil
		}
		return "sqlite", "file:" + cfg.Path + "?mode=ro", nil
	}
	return "", "", fmt.Errorf("source %s: %s is not a relational source", cfg.ID, cfg.Kind)
}

func buildSQLServerConnectionString(cfg config.SQLServerConfig) string {
	port := cfg.Port
	if port == "" {
		port = "1433"
	}
	connStr := fmt.Sprintf("server=%s;port=%s;database=%s", cfg.Server, port, cfg.Database)

	if cfg.UserID != "" {
		connStr += fmt.Sprintf(";user id=%s;password=%s", cfg.UserID, cfg.Password)
	} else {
		connStr += ";trusted_connection=true"
	}

	if cfg.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	} else {
		connStr += ";encrypt=false"
	}
	return connStr
}

func (s *SQLSource) ID() string   { return s.id }
func (s *SQLSource) Kind() string { return s.kind }

func (s *SQLSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunQuery executes a single read statement and returns all rows.
func (s *SQLSource) RunQuery(ctx context.Context, query string) (*models.TabularResult, error) {
	op := "query:" + s.id
	q := strings.TrimRight(strings.TrimSpace(query), "; \n\t")
	lower := strings.ToLower(q)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return nil, faults.New(faults.PlanInvalid, op, "only SELECT statements may run against a source")
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		if staleSchema(err) {
			log.Printf("[SOURCES] %s rejected a table or column, dropping its cached schema", s.id)
			s.schemaCache.Delete("schema")
		}
		return nil, classify(op, err)
	}
	defer rows.Close()

	result, err := ScanRows(rows)
	if err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

func (s *SQLSource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	return nil, unsupported(s.id, "invoke")
}

// Schema lists tables and columns, cached for ten minutes.
func (s *SQLSource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	if v, ok := s.schemaCache.Get("schema"); ok {
		return v.(*models.SourceSchema), nil
	}

	rows, err := s.db.QueryContext(ctx, s.schemaQuery())
	if err != nil {
		return nil, classify("schema:"+s.id, err)
	}
	defer rows.Close()

	schema := &models.SourceSchema{SourceID: s.id, Kind: s.kind, Description: s.description}
	index := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		var nullable bool
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, classify("schema:"+s.id, err)
		}
		if s.tables != nil && !s.tables[strings.ToLower(table)] {
			continue
		}
		i, ok := index[table]
		if !ok {
			i = len(schema.Tables)
			index[table] = i
			schema.Tables = append(schema.Tables, models.TableSchema{SourceID: s.id, Name: table})
		}
		ct := ParseDeclaredType(dataType)
		ct.Nullable = nullable
		schema.Tables[i].Columns = append(schema.Tables[i].Columns, models.Column{Name: column, Type: ct})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("schema:"+s.id, err)
	}
	s.schemaCache.SetDefault("schema", schema)
	return schema, nil
}

func (s *SQLSource) schemaQuery() string {
	switch s.kind {
	case config.KindSQLServer:
		return `SELECT TABLE_SCHEMA + '.' + TABLE_NAME, COLUMN_NAME, DATA_TYPE,
			CAST(CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS BIT)
			FROM INFORMATION_SCHEMA.COLUMNS
			ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`
	case config.KindPostgres:
		return `SELECT table_schema || '.' || table_name, column_name, data_type, is_nullable = 'YES'
			FROM information_schema.columns
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
			ORDER BY table_schema, table_name, ordinal_position`
	default:
		return `SELECT m.name, p.name, p.type, p."notnull" = 0
			FROM sqlite_master m JOIN pragma_table_info(m.name) p
			WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
			ORDER BY m.name, p.cid`
	}
}

// classify separates connectivity faults, which may be retried once, from
// faults in the query itself.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &faults.Error{Kind: faults.Timeout, Op: op, Err: err}
	}
	if isTransient(err) {
		return faults.Transient(op, err)
	}
	return faults.Wrap(faults.Source, op, err)
}

// staleSchema reports errors that mean the cached schema no longer
// matches the database.
func staleSchema(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no such table", "no such column", "invalid object name", "invalid column name", "does not exist"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "database is locked", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

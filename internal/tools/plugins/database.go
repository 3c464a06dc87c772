package plugins

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/gateway/internal/tools"
)

var forbiddenSQL = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|CREATE|REPLACE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX)\b`)

// Database runs read-only queries against a SQLite database.
type Database struct {
	dsn string
	db  *sql.DB
	log logr.Logger
}

// NewDatabase creates the database plugin. The connection is opened on Init.
func NewDatabase(dsn string, log logr.Logger) *Database {
	return &Database{dsn: dsn, log: log.WithName("database")}
}

func (d *Database) Name() string { return "database" }

func (d *Database) Init(ctx context.Context) error {
	if d.dsn == "" {
		return fmt.Errorf("database dsn is required")
	}
	db, err := sql.Open("sqlite3", readOnlyDSN(d.dsn))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db
	d.log.Info("database plugin initialized")
	return nil
}

// readOnlyDSN turns a path or file: URI into a URI that every pooled
// connection opens read-only.
func readOnlyDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "mode=ro&_query_only=1"
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *Database) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewTool("db.query", "Execute a read-only SELECT query and return the rows.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "SQL SELECT query"},
				"limit": map[string]any{"type": "integer", "description": "Maximum rows to return", "default": 100},
			},
			"required": []string{"query"},
		}, d.query),
		tools.NewTool("db.schema", "List tables, or the columns of one table.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table_name": map[string]any{"type": "string", "description": "Table to describe (optional)"},
			},
		}, d.schema),
	}
}

// validateQuery accepts a single SELECT or WITH statement.
func validateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("only SELECT queries are allowed")
	}
	if strings.Contains(q, ";") {
		return "", fmt.Errorf("multiple statements are not allowed")
	}
	if kw := forbiddenSQL.FindString(q); kw != "" {
		return "", fmt.Errorf("query contains forbidden keyword: %s", strings.ToUpper(kw))
	}
	return q, nil
}

func (d *Database) query(ctx context.Context, args map[string]any) (any, error) {
	raw, err := tools.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	q, err := validateQuery(raw)
	if err != nil {
		return nil, err
	}
	limit := tools.IntArg(args, "limit", 100, 500)

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if len(out) == limit {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	d.log.V(1).Info("query executed", "rows", len(out))
	return map[string]any{"columns": cols, "rows": out, "row_count": len(out), "truncated": truncated}, nil
}

func (d *Database) schema(ctx context.Context, args map[string]any) (any, error) {
	table := tools.OptionalStringArg(args, "table_name", "")
	if table == "" {
		rows, err := d.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		defer rows.Close()
		tables := make([]string, 0)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("failed to scan table: %w", err)
			}
			tables = append(tables, name)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate tables: %w", err)
		}
		return map[string]any{"tables": tables}, nil
	}

	rows, err := d.db.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	defer rows.Close()

	type column struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Nullable bool   `json:"nullable"`
	}
	columns := make([]column, 0)
	for rows.Next() {
		var c column
		var notNull int
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		c.Nullable = notNull == 0
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}
	return map[string]any{"table": table, "columns": columns}, nil
}

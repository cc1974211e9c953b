package sources

import (
	"database/sql"
	"fmt"
	"strings"

	"reportpilot/models"
)

// NullablePrefix marks a declared column type as null-capable in tables
// this module creates itself.
const NullablePrefix = "NULLABLE "

// DeclaredType is the column type this module writes for a ColumnType.
func DeclaredType(t models.ColumnType) string {
	var base string
	switch t.Kind {
	case models.Integer:
		base = "INTEGER"
	case models.Float:
		base = "REAL"
	case models.Boolean:
		base = "BOOLEAN"
	case models.DateTime:
		base = "DATETIME_TEXT"
	default:
		base = "TEXT"
	}
	if t.Nullable {
		return NullablePrefix + base
	}
	return base
}

// kindFromDatabaseType maps driver type names from SQLite, SQL Server and
// Postgres onto the closed kind set. ok is false for unknown/empty names.
func kindFromDatabaseType(name string) (kind models.TypeKind, nullable bool, explicit bool, ok bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if strings.HasPrefix(upper, NullablePrefix) {
		nullable, explicit = true, true
		upper = strings.TrimPrefix(upper, NullablePrefix)
	}
	if i := strings.Index(upper, "("); i > 0 {
		upper = upper[:i]
	}
	switch upper {
	case "":
		return "", nullable, explicit, false
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL":
		return models.Integer, nullable, explicit, true
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return models.Float, nullable, explicit, true
	case "BOOLEAN", "BOOL", "BIT":
		return models.Boolean, nullable, explicit, true
	case "DATETIME_TEXT", "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET",
		"TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return models.DateTime, nullable, explicit, true
	case "TEXT", "VARCHAR", "NVARCHAR", "CHAR", "NCHAR", "NTEXT", "BPCHAR", "UUID", "UNIQUEIDENTIFIER", "JSON", "JSONB", "XML":
		return models.String, nullable, explicit, true
	}
	return models.String, nullable, explicit, true
}

// ScanRows reads every row into a typed TabularResult. Column kinds come
// from driver type names where available and from values otherwise; a
// column whose values do not fit its declared kind is demoted to string.
func ScanRows(rows *sql.Rows) (*models.TabularResult, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	var raw [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = models.NormalizeValue(v)
		}
		raw = append(raw, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	result := &models.TabularResult{
		Columns: make([]models.Column, len(names)),
		Rows:    raw,
	}
	if result.Rows == nil {
		result.Rows = [][]interface{}{}
	}
	for i, name := range names {
		column := make([]interface{}, len(raw))
		for r := range raw {
			column[r] = raw[r][i]
		}
		var ct models.ColumnType
		kind, nullable, explicit, ok := kindFromDatabaseType(colTypes[i].DatabaseTypeName())
		if ok {
			ct = models.ColumnType{Kind: kind, Nullable: nullable}
		} else {
			ct = models.InferKind(column)
		}
		// drivers disagree on nullability reporting (SQLite always says
		// yes), so only the declared prefix or an observed null counts
		if !explicit {
			for _, v := range column {
				if v == nil {
					ct.Nullable = true
					break
				}
			}
		}
		ct.Kind = coerceColumn(raw, i, ct.Kind)
		result.Columns[i] = models.Column{Name: name, Type: ct}
	}
	return result, nil
}

func coerceColumn(rows [][]interface{}, idx int, kind models.TypeKind) models.TypeKind {
	converted := make([]interface{}, len(rows))
	for r, row := range rows {
		v, ok := models.CoerceValue(kind, row[idx])
		if !ok {
			for r2, row2 := range rows {
				s, _ := models.CoerceValue(models.String, row2[idx])
				rows[r2][idx] = s
			}
			return models.String
		}
		converted[r] = v
	}
	for r := range rows {
		rows[r][idx] = converted[r]
	}
	return kind
}

// ParseDeclaredType reads back a type written by DeclaredType, or maps a
// foreign declared type as well as it can.
func ParseDeclaredType(decl string) models.ColumnType {
	kind, nullable, _, ok := kindFromDatabaseType(decl)
	if !ok {
		kind = models.String
	}
	return models.ColumnType{Kind: kind, Nullable: nullable}
}

// Package mssql implements the store backend on database/sql with the
// "sqlserver" driver.
//
// This package does not blank-import a SQL Server driver. The application
// must register one under the name "sqlserver" before New is called;
// store/all pulls in github.com/microsoft/go-mssqldb for that.
//
// SQL Server has no ON CONFLICT clause, so dedupe uses the
// INSERT ... SELECT ... WHERE NOT EXISTS form over the key columns.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
	"thermoclean/internal/store"
)

const (
	// The generic DDL builder types unknown columns NVARCHAR(MAX), which
	// cannot key a table, so the schema table is spelled out.
	createSchemaTableSQL = `IF OBJECT_ID(N'ingest_schemas', N'U') IS NULL BEGIN ` +
		`CREATE TABLE [ingest_schemas] ([kind] NVARCHAR(64) NOT NULL, [document] NVARCHAR(MAX), ` +
		`PRIMARY KEY ([kind])); END;`

	upsertSchemaSQL = `IF EXISTS (SELECT 1 FROM [ingest_schemas] WHERE [kind] = @p1) ` +
		`BEGIN UPDATE [ingest_schemas] SET [document] = @p2 WHERE [kind] = @p1; END ` +
		`ELSE BEGIN INSERT INTO [ingest_schemas] ([kind], [document]) VALUES (@p1, @p2); END;`

	selectSchemaSQL = `SELECT [document] FROM [ingest_schemas] WHERE [kind] = @p1;`
)

// Repo implements store.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("mssql", New)
}

// New opens a pool for the DSN and verifies connectivity with a ping.
func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureCycleTable(ctx context.Context, schema *detect.Schema) error {
	if err := r.ensure(ctx, store.TableName(schema.Kind), store.CycleColumns(schema), store.CycleKeyColumns()); err != nil {
		return err
	}
	return r.saveSchema(ctx, schema)
}

func (r *Repo) EnsureObsTable(ctx context.Context, schema *detect.Schema) error {
	if err := r.ensure(ctx, store.TableName(schema.Kind), store.ObsColumns(schema), store.ObsKeyColumns()); err != nil {
		return err
	}
	return r.saveSchema(ctx, schema)
}

// saveSchema upserts the schema document under its kind.
func (r *Repo) saveSchema(ctx context.Context, schema *detect.Schema) error {
	if _, err := r.db.ExecContext(ctx, createSchemaTableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", store.SchemaTable, err)
	}
	doc, err := store.MarshalSchema(schema)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertSchemaSQL, schema.Kind.String(), doc); err != nil {
		return fmt.Errorf("save %s schema: %w", schema.Kind, err)
	}
	return nil
}

// loadSchema reads the saved schema document of a kind back into a
// validated schema.
func (r *Repo) loadSchema(ctx context.Context, kind detect.FileKind) (*detect.Schema, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, selectSchemaSQL, kind.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no saved schema for kind=%q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s schema: %w", kind, err)
	}
	return store.UnmarshalSchema(doc, kind)
}

func (r *Repo) ensure(ctx context.Context, table string, columns, key []string) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(table, columns, key)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func buildCreateSQL(table string, columns, key []string) string {
	inKey := make(map[string]bool, len(key))
	for _, c := range key {
		inKey[c] = true
	}

	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
		b.WriteString(" ")
		b.WriteString(columnType(c))
		if inKey[c] {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(", PRIMARY KEY (")
	for i, c := range key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(")")

	return wrapCreateIfMissing(table, b.String())
}

// columnType maps a column to its SQL Server type. Key columns get a
// bounded NVARCHAR since MAX types cannot participate in a primary key.
func columnType(name string) string {
	switch name {
	case store.ColStartTime, store.ColEndTime, store.ColObserved:
		return "DATETIME2"
	case store.ColDeviceID, store.ColMode:
		return "NVARCHAR(128)"
	default:
		return "NVARCHAR(MAX)"
	}
}

// wrapCreateIfMissing guards DDL so it is idempotent. SQL Server has no
// CREATE TABLE IF NOT EXISTS; OBJECT_ID is the standard workaround.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func (r *Repo) InsertCycles(ctx context.Context, t *history.CycleTable) (int64, error) {
	cols := store.CycleColumns(t.Schema)
	payloadLen := len(cols) - 4

	rows := make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		rows = append(rows, store.CycleRowValues(row, payloadLen))
	}
	return r.insertSkipDupes(ctx, store.TableName(t.Schema.Kind), cols, store.CycleKeyColumns(), rows)
}

func (r *Repo) InsertObservations(ctx context.Context, t *history.ObsTable) (int64, error) {
	cols := store.ObsColumns(t.Schema)
	payloadLen := len(cols) - 2

	rows := make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		rows = append(rows, store.ObsRowValues(row, payloadLen))
	}
	return r.insertSkipDupes(ctx, store.TableName(t.Schema.Kind), cols, store.ObsKeyColumns(), rows)
}

// LoadCycles reads the saved cycle schema and every stored cycle row.
// DATETIME2 keys come back as store.KeyTime text.
func (r *Repo) LoadCycles(ctx context.Context) (*records.CycleSet, error) {
	schema, err := r.loadSchema(ctx, detect.Cycles)
	if err != nil {
		return nil, err
	}

	cols := store.CycleColumns(schema)
	payloadLen := len(cols) - 4
	table := store.TableName(detect.Cycles)

	rows, err := r.db.QueryContext(ctx, buildSelectSQL(table, cols))
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	set := records.NewCycleSet(schema)
	for rows.Next() {
		var (
			deviceID, mode string
			start, end     time.Time
		)
		payload := make([]sql.NullString, payloadLen)
		dest := make([]any, 0, len(cols))
		dest = append(dest, &deviceID, &mode, &start, &end)
		for i := range payload {
			dest = append(dest, &payload[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		set.Add(
			records.CycleKey{DeviceID: deviceID, Mode: mode, Start: store.KeyTime(start)},
			records.CycleValue{End: store.KeyTime(end), Data: store.PayloadText(payload)},
		)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return set, nil
}

// LoadObservations reads the saved schema and every stored row of an
// observation kind.
func (r *Repo) LoadObservations(ctx context.Context, kind detect.FileKind) (*records.ObsSet, error) {
	if kind == detect.Cycles {
		return nil, fmt.Errorf("load observations: %s is not an observation kind", kind)
	}
	schema, err := r.loadSchema(ctx, kind)
	if err != nil {
		return nil, err
	}

	cols := store.ObsColumns(schema)
	payloadLen := len(cols) - 2
	table := store.TableName(kind)

	rows, err := r.db.QueryContext(ctx, buildSelectSQL(table, cols))
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	set := records.NewObsSet(schema)
	for rows.Next() {
		var (
			deviceID string
			observed time.Time
		)
		payload := make([]sql.NullString, payloadLen)
		dest := make([]any, 0, len(cols))
		dest = append(dest, &deviceID, &observed)
		for i := range payload {
			dest = append(dest, &payload[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		set.Add(records.ObsKey{DeviceID: deviceID, Time: store.KeyTime(observed)}, store.PayloadText(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return set, nil
}

// insertSkipDupes writes rows in chunks sized for the 2100 parameter
// limit, each chunk a single NOT EXISTS guarded insert.
func (r *Repo) insertSkipDupes(ctx context.Context, table string, columns, key []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	maxRows := 2000 / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertNotExistsSQL(table, columns, rows[start:end], key)

		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// buildInsertNotExistsSQL emits
//
//	INSERT INTO t (cols) SELECT v.cols FROM (VALUES ...) AS v(cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.key = v.key ...)
//
// which skips rows whose key already exists, including duplicates
// arriving within the same load.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(" FROM (VALUES ")
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String(), args
}

func buildSelectSQL(table string, columns []string) string {
	var b strings.Builder

	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))

	return b.String()
}

// mssqlIdent bracket-quotes an identifier, doubling embedded brackets.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent bracket-quotes each part of a schema-qualified name,
// so "dbo.device_cycles" becomes [dbo].[device_cycles].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// Package sqlite implements the store backend on modernc.org/sqlite.
//
// SQLite stores everything here with TEXT affinity, including timestamps:
// they are written as RFC3339Nano strings in UTC, which round-trip exactly
// and stay readable in ad-hoc queries. Dedupe rides on INSERT OR IGNORE
// against the primary key.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
	"thermoclean/internal/store"
)

// maxArgs keeps multi-row inserts under the engine's bound-variable limit.
const maxArgs = 800

// Schema documents replace on upsert: a re-ingest under a changed layout
// wins.
const (
	upsertSchemaSQL = `INSERT OR REPLACE INTO "ingest_schemas" ("kind", "document") VALUES (?, ?)`
	selectSchemaSQL = `SELECT "document" FROM "ingest_schemas" WHERE "kind" = ?`
)

// Repo implements store.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

// New opens (creating if needed) the database file named by the DSN.
func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
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
	if err := r.ensure(ctx, store.SchemaTable, store.SchemaColumns(), store.SchemaKeyColumns()); err != nil {
		return err
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
	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" TEXT")
	}
	b.WriteString(", PRIMARY KEY (")
	for i, c := range key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString("))")

	return b.String()
}

func (r *Repo) InsertCycles(ctx context.Context, t *history.CycleTable) (int64, error) {
	cols := store.CycleColumns(t.Schema)
	payloadLen := len(cols) - 4

	rows := make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		vals := store.CycleRowValues(row, payloadLen)
		vals[2] = store.KeyTime(row.Start)
		vals[3] = store.KeyTime(row.End)
		rows = append(rows, vals)
	}
	return r.insertIgnore(ctx, store.TableName(t.Schema.Kind), cols, rows)
}

func (r *Repo) InsertObservations(ctx context.Context, t *history.ObsTable) (int64, error) {
	cols := store.ObsColumns(t.Schema)
	payloadLen := len(cols) - 2

	rows := make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		vals := store.ObsRowValues(row, payloadLen)
		vals[1] = store.KeyTime(row.Time)
		rows = append(rows, vals)
	}
	return r.insertIgnore(ctx, store.TableName(t.Schema.Kind), cols, rows)
}

// LoadCycles reads the saved cycle schema and every stored cycle row.
// Key timestamps pass through as the stored text.
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
		var deviceID, mode, start, end string
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
			records.CycleKey{DeviceID: deviceID, Mode: mode, Start: start},
			records.CycleValue{End: end, Data: store.PayloadText(payload)},
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
		var deviceID, observed string
		payload := make([]sql.NullString, payloadLen)
		dest := make([]any, 0, len(cols))
		dest = append(dest, &deviceID, &observed)
		for i := range payload {
			dest = append(dest, &payload[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		set.Add(records.ObsKey{DeviceID: deviceID, Time: observed}, store.PayloadText(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return set, nil
}

// insertIgnore writes rows in chunks of multi-row INSERT OR IGNORE
// statements. OR IGNORE relies on the primary key created by ensure, which
// is exactly the record key, so replays skip rather than duplicate.
func (r *Repo) insertIgnore(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	maxRows := maxArgs / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end])

		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	return b.String(), args
}

func buildSelectSQL(table string, columns []string) string {
	var b strings.Builder

	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(table))

	return b.String()
}

// sqlIdent quotes an identifier, doubling embedded quotes.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

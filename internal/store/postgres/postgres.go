// Package postgres implements the store backend on pgx.
//
// Timestamps are written as native TIMESTAMPTZ values and dedupe uses
// ON CONFLICT (<key columns>) DO NOTHING against the primary key, so
// replaying an already-loaded file is a no-op.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
	"thermoclean/internal/store"
)

// maxArgs caps the parameters bound per statement. Postgres allows far
// more, but large statements stop being faster past this point.
const maxArgs = 2000

const (
	upsertSchemaSQL = `INSERT INTO "ingest_schemas" ("kind", "document") VALUES ($1, $2) ` +
		`ON CONFLICT ("kind") DO UPDATE SET "document" = EXCLUDED."document";`
	selectSchemaSQL = `SELECT "document" FROM "ingest_schemas" WHERE "kind" = $1;`
)

// Repo implements store.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	store.Register("postgres", New)
}

// New opens a connection pool for the DSN and verifies it with a ping.
func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

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
	if _, err := r.pool.Exec(ctx, upsertSchemaSQL, schema.Kind.String(), doc); err != nil {
		return fmt.Errorf("save %s schema: %w", schema.Kind, err)
	}
	return nil
}

// loadSchema reads the saved schema document of a kind back into a
// validated schema.
func (r *Repo) loadSchema(ctx context.Context, kind detect.FileKind) (*detect.Schema, error) {
	var doc string
	err := r.pool.QueryRow(ctx, selectSchemaSQL, kind.String()).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no saved schema for kind=%q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s schema: %w", kind, err)
	}
	return store.UnmarshalSchema(doc, kind)
}

func (r *Repo) ensure(ctx context.Context, table string, columns, key []string) error {
	if _, err := r.pool.Exec(ctx, buildCreateSQL(table, columns, key)); err != nil {
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
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
		b.WriteString(pgIdent(c))
	}
	b.WriteString("));")
	return b.String()
}

// columnType maps a column to its Postgres type. Key timestamps become
// TIMESTAMPTZ; everything else stays TEXT since payload values keep the
// exact field text from the source file.
func columnType(name string) string {
	switch name {
	case store.ColStartTime, store.ColEndTime, store.ColObserved:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
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
// TIMESTAMPTZ keys come back as store.KeyTime text.
func (r *Repo) LoadCycles(ctx context.Context) (*records.CycleSet, error) {
	schema, err := r.loadSchema(ctx, detect.Cycles)
	if err != nil {
		return nil, err
	}

	cols := store.CycleColumns(schema)
	payloadLen := len(cols) - 4
	table := store.TableName(detect.Cycles)

	rows, err := r.pool.Query(ctx, buildSelectSQL(table, cols))
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

	rows, err := r.pool.Query(ctx, buildSelectSQL(table, cols))
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

// insertSkipDupes writes rows in chunked multi-row INSERTs, relying on
// ON CONFLICT DO NOTHING over the key columns for idempotency.
func (r *Repo) insertSkipDupes(ctx context.Context, table string, columns, key []string, rows [][]any) (int64, error) {
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
		q, args := buildInsertSQL(table, columns, key, rows[start:end])

		cmd, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
// It is pure so placeholder numbering and the conflict clause can be
// unit tested without a database.
func buildInsertSQL(table string, columns, key []string, rows [][]any) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") DO NOTHING;")

	return b.String(), args
}

func buildSelectSQL(table string, columns []string) string {
	var b strings.Builder

	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(pgIdent(table))
	b.WriteString(";")

	return b.String()
}

// pgIdent quotes an identifier, doubling embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"thermoclean/internal/detect"
	"thermoclean/internal/records"
	"thermoclean/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		kindName  string
		storeKind string
		storeDSN  string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored records back out as delimited text",
		Long: `Export reads one kind's records and saved schema from the store backend
and renders them in the original layout: same delimiter, same quote,
same heading order. Timestamps come back canonical (RFC3339 UTC), not
as the source file printed them, and columns that were ignored at clean
time come back empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := detect.KindFromString(kindName)
			if err != nil {
				return err
			}
			if storeKind == "" {
				storeKind = a.cfg.StoreBackend
			}
			if storeDSN == "" {
				storeDSN = a.cfg.StoreDSN
			}

			ctx := cmd.Context()
			repo, err := store.New(ctx, store.Config{Kind: storeKind, DSN: storeDSN})
			if err != nil {
				return err
			}
			defer repo.Close()

			out, err := openOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer out.Close()

			if kind == detect.Cycles {
				set, err := repo.LoadCycles(ctx)
				if err != nil {
					return err
				}
				return writeCycleExport(out, set)
			}
			set, err := repo.LoadObservations(ctx, kind)
			if err != nil {
				return err
			}
			return writeObsExport(out, set)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&kindName, "kind", "cycles", "stored kind to export (cycles, sensor, geospatial)")
	fl.StringVar(&storeKind, "store", "", "store backend (sqlite, postgres, mssql)")
	fl.StringVar(&storeDSN, "dsn", "", "store connection string")
	fl.StringVar(&outPath, "out", "", "output file (default stdout)")
	return cmd
}

// writeCycleExport renders a cycle set under its schema's layout: the
// header line, then one line per record in sorted key order.
func writeCycleExport(w io.Writer, set *records.CycleSet) error {
	schema := set.Schema
	if err := writeLine(w, schema.Format, schema.Header()); err != nil {
		return err
	}
	for _, k := range set.SortedKeys() {
		v := set.Rows[k]
		fields := make([]string, 0, schema.Width())
		pi := 0
		for _, c := range schema.Columns {
			switch c.Role {
			case detect.RoleID:
				fields = append(fields, k.DeviceID)
			case detect.RoleCycle:
				fields = append(fields, k.Mode)
			case detect.RoleStart:
				fields = append(fields, k.Start)
			case detect.RoleEnd:
				fields = append(fields, v.End)
			default:
				fields = append(fields, payloadField(c, v.Data, &pi))
			}
		}
		if err := writeLine(w, schema.Format, fields); err != nil {
			return err
		}
	}
	return nil
}

// writeObsExport renders an observation set under its schema's layout.
func writeObsExport(w io.Writer, set *records.ObsSet) error {
	schema := set.Schema
	if err := writeLine(w, schema.Format, schema.Header()); err != nil {
		return err
	}
	for _, k := range set.SortedKeys() {
		data := set.Rows[k]
		fields := make([]string, 0, schema.Width())
		pi := 0
		for _, c := range schema.Columns {
			switch c.Role {
			case detect.RoleID:
				fields = append(fields, k.DeviceID)
			case detect.RoleTime:
				fields = append(fields, k.Time)
			default:
				fields = append(fields, payloadField(c, data, &pi))
			}
		}
		if err := writeLine(w, schema.Format, fields); err != nil {
			return err
		}
	}
	return nil
}

// payloadField returns the next payload slot, empty when the column was
// ignored at clean time or the row is short.
func payloadField(c detect.ColumnMeta, data []string, pi *int) string {
	if c.Ignored {
		return ""
	}
	f := ""
	if *pi < len(data) {
		f = data[*pi]
	}
	*pi++
	return f
}

// writeLine renders one line under the format's delimiter and quote. A
// field containing the delimiter, the quote or a line break is quoted
// with embedded quotes doubled; a format without a quote rune writes
// every field as-is.
func writeLine(w io.Writer, f detect.Format, fields []string) error {
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field
		if f.Quote == 0 {
			continue
		}
		if strings.ContainsRune(field, f.Delimiter) || strings.ContainsRune(field, f.Quote) || strings.ContainsAny(field, "\r\n") {
			q := string(f.Quote)
			parts[i] = q + strings.ReplaceAll(field, q, q+q) + q
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, string(f.Delimiter)))
	return err
}

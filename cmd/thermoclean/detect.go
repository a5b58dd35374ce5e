package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/config"
	"thermoclean/internal/detect"
)

// detectFlags is the inference flag set shared by every command that has
// to understand a raw export file.
type detectFlags struct {
	kind          string
	delimiter     string
	quote         string
	encoding      string
	idHeading     string
	cycleLiteral  string
	cycleHeading  string
	ignoreHeads   []string
	ignoreIndexes []int
}

func (f *detectFlags) install(cmd *cobra.Command, defaultKind string) {
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", defaultKind, "file kind (cycles, sensor, geospatial)")
	fl.StringVar(&f.delimiter, "delimiter", "", "field delimiter; inferred when empty")
	fl.StringVar(&f.quote, "quote", "", "quote character; inferred when empty")
	fl.StringVar(&f.encoding, "encoding", "", "source encoding, e.g. windows-1252; UTF-8 when empty")
	fl.StringVar(&f.idHeading, "id-heading", "", "heading of the device id column; resolved from the data when empty")
	fl.StringVar(&f.cycleLiteral, "cycle-literal", "", "cycle mode value to locate, e.g. Cool")
	fl.StringVar(&f.cycleHeading, "cycle-heading", "", "heading of the cycle mode column")
	fl.StringSliceVar(&f.ignoreHeads, "ignore-heading", nil, "payload column heading to drop; repeatable")
	fl.IntSliceVar(&f.ignoreIndexes, "ignore-index", nil, "payload column position to drop; repeatable")
}

// options turns the flags into inference options, with the configured
// scan bounds applied on top.
func (f *detectFlags) options(cfg config.Config) (detect.Options, error) {
	kind, err := detect.KindFromString(f.kind)
	if err != nil {
		return detect.Options{}, err
	}
	o := detect.Options{
		Kind:           kind,
		Delimiter:      f.delimiter,
		Quote:          f.quote,
		Encoding:       f.encoding,
		IDHeading:      f.idHeading,
		CycleLiteral:   f.cycleLiteral,
		CycleHeading:   f.cycleHeading,
		IgnoreHeadings: f.ignoreHeads,
		IgnoreIndexes:  f.ignoreIndexes,
	}
	cfg.ApplyDetect(&o)
	return o, nil
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		df      detectFlags
		asJSON  bool
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "detect FILE",
		Short: "Infer the column schema of a delimited export",
		Long: `Detect reads a delimited export and reports the inferred schema:
delimiter, quote, timestamp columns, cycle-mode column, device-id column
and the value shape of every remaining column. The source file is only
read, never modified; --out writes the schema JSON for later replay with
"ingest --schema".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := df.options(a.cfg)
			if err != nil {
				return err
			}

			schema, err := detect.Columns(args[0], opts)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"path":    args[0],
				"kind":    schema.Kind.String(),
				"columns": schema.Width(),
			}).Debug("schema inferred")

			if outPath != "" {
				if err := schema.WriteFile(outPath); err != nil {
					return err
				}
				a.log.WithField("path", outPath).Info("schema written")
			}

			if asJSON {
				data, err := json.MarshalIndent(schema, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), schema.Render())
			return nil
		},
	}

	df.install(cmd, "cycles")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the schema as JSON instead of a table")
	cmd.Flags().StringVar(&outPath, "out", "", "also write the schema JSON to this path")
	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/htmltable"
	"thermoclean/internal/metrics"
)

func newImportHTMLCmd(a *app) *cobra.Command {
	var (
		selector  string
		delimiter string
	)

	cmd := &cobra.Command{
		Use:   "import-html IN OUT",
		Short: "Convert an HTML table export to delimited text",
		Long: `Import-html extracts one table from a saved HTML export (vendor
portals tend to hand history out this way) and writes it as delimited
text, ready for detect and ingest. The first table in the document is
used unless --selector picks another.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			started := time.Now()
			defer func() {
				status := "ok"
				if err != nil {
					status = "error"
				}
				metrics.IncCounter("ingest_step_total", 1, metrics.Labels{"step": "import_html", "status": status})
				metrics.ObserveHistogram("ingest_step_duration_seconds", time.Since(started).Seconds(),
					metrics.Labels{"step": "import_html", "status": status})
			}()

			delim := ','
			if delimiter != "" {
				runes := []rune(delimiter)
				if len(runes) != 1 {
					return fmt.Errorf("--delimiter must be a single character, got %q", delimiter)
				}
				delim = runes[0]
			}

			rows, err := htmltable.ConvertFile(args[0], args[1], htmltable.Options{
				Selector:  selector,
				Delimiter: delim,
			})
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"in":   args[0],
				"out":  args[1],
				"rows": rows,
			}).Info("table converted")
			fmt.Fprintf(cmd.OutOrStdout(), "rows=%d\n", rows)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&selector, "selector", "", "CSS selector of the table to extract; first table when empty")
	fl.StringVar(&delimiter, "delimiter", ",", "output field delimiter")
	return cmd
}

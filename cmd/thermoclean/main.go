// Command thermoclean works with delimited thermostat export files whose
// column layout is unknown ahead of time. It infers each file's schema
// from the data, cleans the rows into keyed records, and then summarizes,
// resamples or persists them.
//
// Subcommands:
//
//	detect      infer and print the schema of one file
//	ingest      detect, clean and write records into a store backend
//	export      render stored records back to delimited text
//	summary     per-device day coverage and streaks
//	status      on/off cycling resampled onto a fixed grid
//	resample    a payload column resampled onto a fixed grid
//	series      cycling and a payload column joined on one grid
//	import-html convert an HTML table export to delimited text
//
// Configuration comes from flags, a config file and THERMOCLEAN_*
// environment variables, in that order of precedence.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"thermoclean/internal/config"
	"thermoclean/internal/logging"
	"thermoclean/internal/metrics"
	"thermoclean/internal/metrics/datadog"

	// Register every store backend so --store can select any of them.
	_ "thermoclean/internal/store/all"
)

// app is the state shared by the subcommands once the persistent setup
// has run: resolved config, the process logger and the metrics teardown
// hook.
type app struct {
	v   *viper.Viper
	cfg config.Config
	log *logrus.Logger

	cfgFile      string
	closeMetrics func()
}

func main() {
	a := &app{v: config.New(), log: logrus.New()}

	err := newRootCmd(a).Execute()
	// Teardown runs here rather than in a PostRun hook: cobra skips
	// PersistentPostRunE when RunE fails, and the final metrics flush
	// matters most on failed runs.
	a.shutdown()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) shutdown() {
	if a.closeMetrics != nil {
		a.closeMetrics()
		a.closeMetrics = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "thermoclean",
		Short: "Schema inference and cleaning for thermostat exports",
		Long: `thermoclean reads delimited thermostat exports whose column layout is
unknown: it infers the delimiter, quote, timestamp columns, cycle-mode
column and device-id column from the data itself, then cleans the rows
and summarizes, resamples or stores them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: thermoclean.{yaml,toml,json} in the working directory)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.Bool("log-caller", false, "annotate log lines with file:line")
	pf.String("job", "", "job name tag on emitted metrics")
	pf.String("metrics-backend", "", "metrics backend (nop, datadog)")
	pf.String("metrics-tags", "", "extra metric tags, comma separated k:v pairs")
	pf.Duration("metrics-flush-every", 0, "interval between metric submissions")

	bind := func(key, flag string) {
		if err := a.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	bind(config.KeyLogLevel, "log-level")
	bind(config.KeyLogFormat, "log-format")
	bind(config.KeyLogCaller, "log-caller")
	bind(config.KeyJobName, "job")
	bind(config.KeyMetricsBackend, "metrics-backend")
	bind(config.KeyMetricsTags, "metrics-tags")
	bind(config.KeyMetricsFlushEvery, "metrics-flush-every")

	root.AddCommand(
		newDetectCmd(a),
		newIngestCmd(a),
		newExportCmd(a),
		newSummaryCmd(a),
		newStatusCmd(a),
		newResampleCmd(a),
		newSeriesCmd(a),
		newImportHTMLCmd(a),
	)
	return root
}

// setup resolves config and wires logging and metrics. It runs once,
// before any subcommand body.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.log = log

	a.initMetrics(cmd)
	return nil
}

// initMetrics selects the metrics backend from config. Failures never
// abort the run; every command works the same against the nop backend.
func (a *app) initMetrics(cmd *cobra.Command) {
	switch a.cfg.MetricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(cmd.Context(), datadog.Options{
			JobName:    a.cfg.JobName,
			Tags:       a.cfg.MetricsTags,
			FlushEvery: a.cfg.MetricsFlushEvery,
		})
		if err != nil {
			a.log.WithError(err).Warn("metrics: failed to init datadog backend; using nop")
			return
		}
		metrics.SetBackend(b)
		a.closeMetrics = func() {
			if err := b.Close(); err != nil {
				a.log.WithError(err).Warn("metrics: final flush failed")
			}
		}
		a.log.WithFields(logrus.Fields{
			"backend": "datadog",
			"job":     a.cfg.JobName,
		}).Debug("metrics enabled")
	case "", "nop", "none":
		// Nop backend stays in place.
	default:
		a.log.Warnf("metrics: unknown backend %q; metrics disabled", a.cfg.MetricsBackend)
	}
}

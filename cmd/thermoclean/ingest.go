package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/clean"
	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/metrics"
	"thermoclean/internal/records"
	"thermoclean/internal/store"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		df         detectFlags
		schemaPath string
		keepIDs    []string
		storeKind  string
		storeDSN   string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Detect, clean and persist one export file",
		Long: `Ingest runs the full pipeline on one export: schema inference (or a
schema written earlier by "detect --out", or a layout declared in the
config file), cleaning with per-check skip accounting, and persistence
into the configured store backend. Rows dedupe on their record key, so
re-running the same file inserts nothing new.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			started := time.Now()
			defer func() {
				status := "ok"
				if err != nil {
					status = "error"
				}
				metrics.IncCounter("ingest_files_total", 1, nil)
				metrics.IncCounter("ingest_step_total", 1, metrics.Labels{"step": "ingest", "status": status})
				metrics.ObserveHistogram("ingest_step_duration_seconds", time.Since(started).Seconds(),
					metrics.Labels{"step": "ingest", "status": status})
			}()

			opts, err := df.options(a.cfg)
			if err != nil {
				return err
			}
			copts := clean.Options{Detect: opts, KeepIDs: keepIDs, Log: a.log}

			var schema *detect.Schema
			if schemaPath != "" {
				if schema, err = detect.ReadSchemaFile(schemaPath); err != nil {
					return err
				}
			}
			kind := opts.Kind
			if schema != nil {
				kind = schema.Kind
			}

			if storeKind == "" {
				storeKind = a.cfg.StoreBackend
			}
			if storeDSN == "" {
				storeDSN = a.cfg.StoreDSN
			}

			ctx := cmd.Context()
			path := args[0]
			if kind == detect.Cycles {
				return a.ingestCycles(ctx, cmd, path, schema, copts, storeKind, storeDSN, dryRun)
			}
			return a.ingestObservations(ctx, cmd, path, schema, copts, storeKind, storeDSN, dryRun)
		},
	}

	df.install(cmd, "cycles")
	fl := cmd.Flags()
	fl.StringVar(&schemaPath, "schema", "", "replay a schema JSON file instead of inferring one")
	fl.StringSliceVar(&keepIDs, "keep-id", nil, "device id to keep; repeatable, all devices when absent")
	fl.StringVar(&storeKind, "store", "", "store backend (sqlite, postgres, mssql)")
	fl.StringVar(&storeDSN, "dsn", "", "store connection string")
	fl.BoolVar(&dryRun, "dry-run", false, "clean and report without writing to the store")
	return cmd
}

func (a *app) ingestCycles(ctx context.Context, cmd *cobra.Command, path string, schema *detect.Schema, opts clean.Options, storeKind, storeDSN string, dryRun bool) error {
	var (
		set *records.CycleSet
		rep *clean.Report
		err error
	)
	if schema != nil {
		set, rep, err = clean.CyclesWithSchema(path, schema, opts)
	} else {
		set, rep, err = a.cleanCycles(path, opts)
	}
	if err != nil {
		return err
	}

	table, err := history.NewCycleTable(set)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s devices=%d\n", rep, len(table.Devices()))
		return nil
	}

	repo, err := store.New(ctx, store.Config{Kind: storeKind, DSN: storeDSN})
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureCycleTable(ctx, set.Schema); err != nil {
		return err
	}
	inserted, err := repo.InsertCycles(ctx, table)
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"path":     path,
		"store":    storeKind,
		"rows":     table.Len(),
		"inserted": inserted,
	}).Info("cycles persisted")
	fmt.Fprintf(cmd.OutOrStdout(), "%s inserted=%d\n", rep, inserted)
	return nil
}

func (a *app) ingestObservations(ctx context.Context, cmd *cobra.Command, path string, schema *detect.Schema, opts clean.Options, storeKind, storeDSN string, dryRun bool) error {
	var (
		set *records.ObsSet
		rep *clean.Report
		err error
	)
	if schema != nil {
		set, rep, err = clean.ObservationsWithSchema(path, schema, opts)
	} else {
		set, rep, err = a.cleanObservations(path, opts)
	}
	if err != nil {
		return err
	}

	table, err := history.NewObsTable(set)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s devices=%d\n", rep, len(table.Devices()))
		return nil
	}

	repo, err := store.New(ctx, store.Config{Kind: storeKind, DSN: storeDSN})
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureObsTable(ctx, set.Schema); err != nil {
		return err
	}
	inserted, err := repo.InsertObservations(ctx, table)
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"path":     path,
		"store":    storeKind,
		"rows":     table.Len(),
		"inserted": inserted,
	}).Info("observations persisted")
	fmt.Fprintf(cmd.OutOrStdout(), "%s inserted=%d\n", rep, inserted)
	return nil
}

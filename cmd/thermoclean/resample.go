package main

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/clean"
	"thermoclean/internal/history"
	"thermoclean/internal/timeseries"
)

func newResampleCmd(a *app) *cobra.Command {
	var (
		df       detectFlags
		deviceID string
		column   string
		freq     string
		fromFlag string
		toFlag   string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "resample OBSFILE",
		Short: "Resample one device's payload column onto a fixed grid",
		Long: `Resample cleans an observation export (sensor or geospatial) and
writes one payload column for one device on a fixed time grid. Each
observation lands on its nearest tick, the latest observation wins a
tick, and ticks with no observation come out empty. The window defaults
to the device's first and last observation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			step, err := timeseries.ParseFreq(freq)
			if err != nil {
				return err
			}
			opts, err := df.options(a.cfg)
			if err != nil {
				return err
			}

			set, _, err := a.cleanObservations(args[0], clean.Options{
				Detect:  opts,
				KeepIDs: []string{deviceID},
				Log:     a.log,
			})
			if err != nil {
				return err
			}
			ot, err := history.NewObsTable(set)
			if err != nil {
				return err
			}

			from, to, err := resolveWindow(fromFlag, toFlag, func() (time.Time, time.Time, bool) {
				return timeseries.ObsWindow(ot, deviceID)
			})
			if err != nil {
				return fmt.Errorf("device %s: %w", deviceID, err)
			}

			series, err := timeseries.ObsByFreq(ot, deviceID, column, from, to, step)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"device":  deviceID,
				"column":  column,
				"ticks":   series.Len(),
				"missing": series.MissingCount(),
			}).Debug("observation series built")

			out, err := openOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			fmt.Fprintf(out, "time,%s\n", column)
			for i := 0; i < series.Len(); i++ {
				v := ""
				if !math.IsNaN(series.Values[i]) {
					v = strconv.FormatFloat(series.Values[i], 'g', -1, 64)
				}
				fmt.Fprintf(out, "%s,%s\n", series.TimeAt(i).Format("2006-01-02 15:04:05"), v)
			}
			return nil
		},
	}

	df.install(cmd, "sensor")
	fl := cmd.Flags()
	fl.StringVar(&deviceID, "device", "", "device id to resample")
	fl.StringVar(&column, "column", "", "payload column heading to resample")
	fl.StringVar(&freq, "freq", "5min", "grid step, e.g. 30s, 5min, 1h, 1d")
	fl.StringVar(&fromFlag, "from", "", "window start; the device's first observation when empty")
	fl.StringVar(&toFlag, "to", "", "window end; the device's last observation when empty")
	fl.StringVar(&outPath, "out", "", "output path; stdout when empty")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

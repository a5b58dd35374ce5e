package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/clean"
	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/timeseries"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		df       detectFlags
		deviceID string
		freq     string
		fromFlag string
		toFlag   string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "status CYCLEFILE",
		Short: "Resample one device's cycling onto an on/off grid",
		Long: `Status cleans a cycle export and writes one device's equipment state
on a fixed time grid: one line per tick, 1 while any cycle interval
covers the tick and 0 otherwise. The window defaults to the device's
first and last cycle.`,
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
			opts.Kind = detect.Cycles

			set, _, err := a.cleanCycles(args[0], clean.Options{
				Detect:  opts,
				KeepIDs: []string{deviceID},
				Log:     a.log,
			})
			if err != nil {
				return err
			}
			ct, err := history.NewCycleTable(set)
			if err != nil {
				return err
			}

			from, to, err := resolveWindow(fromFlag, toFlag, func() (time.Time, time.Time, bool) {
				return timeseries.CycleWindow(ct, deviceID)
			})
			if err != nil {
				return fmt.Errorf("device %s: %w", deviceID, err)
			}

			series, err := timeseries.OnOffStatus(ct, deviceID, from, to, step)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"device": deviceID,
				"ticks":  series.Len(),
				"on":     series.OnCount(),
			}).Debug("status series built")

			out, err := openOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			fmt.Fprintln(out, "time,on")
			for i := 0; i < series.Len(); i++ {
				on := 0
				if series.On[i] {
					on = 1
				}
				fmt.Fprintf(out, "%s,%d\n", series.TimeAt(i).Format("2006-01-02 15:04:05"), on)
			}
			return nil
		},
	}

	df.install(cmd, "cycles")
	fl := cmd.Flags()
	fl.StringVar(&deviceID, "device", "", "device id to resample")
	fl.StringVar(&freq, "freq", "5min", "grid step, e.g. 30s, 5min, 1h, 1d")
	fl.StringVar(&fromFlag, "from", "", "window start; the device's first cycle when empty")
	fl.StringVar(&toFlag, "to", "", "window end; the device's last cycle when empty")
	fl.StringVar(&outPath, "out", "", "output path; stdout when empty")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"thermoclean/internal/clean"
	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/timeseries"
)

func newSeriesCmd(a *app) *cobra.Command {
	var (
		df       detectFlags
		obsPath  string
		obsKind  string
		deviceID string
		column   string
		freq     string
		fromFlag string
		toFlag   string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "series CYCLEFILE",
		Short: "Join one device's cycling with a payload column on one grid",
		Long: `Series cleans a cycle export and an observation export and writes one
device's equipment state next to one payload column, both on the same
time grid, so every line pairs the on/off state with the observation at
that moment. The window defaults to the range the two files share, the
later first record to the earlier last record.`,
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

			ot, err := a.obsTable(obsPath, obsKind, df.encoding, []string{deviceID})
			if err != nil {
				return err
			}

			from, to, err := resolveWindow(fromFlag, toFlag, func() (time.Time, time.Time, bool) {
				return timeseries.CommonWindow(ct, ot, deviceID)
			})
			if err != nil {
				return fmt.Errorf("device %s: %w", deviceID, err)
			}

			status, series, err := timeseries.CyclingAndObs(ct, ot, deviceID, column, from, to, step)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"device":  deviceID,
				"column":  column,
				"ticks":   status.Len(),
				"on":      status.OnCount(),
				"missing": series.MissingCount(),
			}).Debug("joint series built")

			out, err := openOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			fmt.Fprintf(out, "time,on,%s\n", column)
			for i := 0; i < status.Len(); i++ {
				on := 0
				if status.On[i] {
					on = 1
				}
				v := ""
				if !math.IsNaN(series.Values[i]) {
					v = strconv.FormatFloat(series.Values[i], 'g', -1, 64)
				}
				fmt.Fprintf(out, "%s,%d,%s\n", status.TimeAt(i).Format("2006-01-02 15:04:05"), on, v)
			}
			return nil
		},
	}

	df.install(cmd, "cycles")
	fl := cmd.Flags()
	fl.StringVar(&obsPath, "obs", "", "observations file to join")
	fl.StringVar(&obsKind, "obs-kind", "sensor", "kind of the --obs file (sensor, geospatial)")
	fl.StringVar(&deviceID, "device", "", "device id to resample")
	fl.StringVar(&column, "column", "", "payload column heading to resample")
	fl.StringVar(&freq, "freq", "5min", "grid step, e.g. 30s, 5min, 1h, 1d")
	fl.StringVar(&fromFlag, "from", "", "window start; the shared range when empty")
	fl.StringVar(&toFlag, "to", "", "window end; the shared range when empty")
	fl.StringVar(&outPath, "out", "", "output path; stdout when empty")
	_ = cmd.MarkFlagRequired("obs")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

// parseTimeFlag parses a --from/--to flag value under the same layouts
// the detector reads from export files. ok is false for an empty flag.
func parseTimeFlag(name, value string) (t time.Time, ok bool, err error) {
	if value == "" {
		return time.Time{}, false, nil
	}
	t, ok = detect.ParseTimestamp(value)
	if !ok {
		return time.Time{}, false, fmt.Errorf("--%s: %q is not a timestamp (want e.g. 2014-01-02 15:04:05)", name, value)
	}
	return t, true, nil
}

// resolveWindow fills an unset side of the requested series window from
// the device's own data extent.
func resolveWindow(flagFrom, flagTo string, window func() (time.Time, time.Time, bool)) (from, to time.Time, err error) {
	from, haveFrom, err := parseTimeFlag("from", flagFrom)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, haveTo, err := parseTimeFlag("to", flagTo)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if haveFrom && haveTo {
		return from, to, nil
	}

	first, last, ok := window()
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("no records to derive a window from")
	}
	if !haveFrom {
		from = first
	}
	if !haveTo {
		to = last
	}
	return from, to, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openOutput returns the series destination: a created file, or the
// command's stdout for an empty path or "-".
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

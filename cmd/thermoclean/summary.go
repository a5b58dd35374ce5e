package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"thermoclean/internal/clean"
	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/summarize"
)

func newSummaryCmd(a *app) *cobra.Command {
	var (
		df              detectFlags
		obsPath         string
		obsKind         string
		geoPath         string
		deviceID        string
		minDays         int
		includeEnds     bool
		devicesPath     string
		deviceHeading   string
		locationHeading string
	)

	cmd := &cobra.Command{
		Use:   "summary CYCLEFILE",
		Short: "Report per-device day coverage and streaks",
		Long: `Summary cleans a cycle export and reports, per device, how many
calendar days carry data and which stretches of days run unbroken. A day
only continues a streak when every joined file also has data for it: an
observations file joins with --obs (which also adds the count of days
covered by both tables), a geospatial file with --geo. A devices
metadata file joined with --devices annotates each device with its
location.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := df.options(a.cfg)
			if err != nil {
				return err
			}
			opts.Kind = detect.Cycles
			copts := clean.Options{Detect: opts, Log: a.log}
			if deviceID != "" {
				copts.KeepIDs = []string{deviceID}
			}

			set, rep, err := a.cleanCycles(args[0], copts)
			if err != nil {
				return err
			}
			ct, err := history.NewCycleTable(set)
			if err != nil {
				return err
			}
			if deviceID != "" && len(ct.Devices()) == 0 {
				return fmt.Errorf("device %s has no cycle records in %s", deviceID, args[0])
			}

			var ot *history.ObsTable
			if obsPath != "" {
				if ot, err = a.obsTable(obsPath, obsKind, df.encoding, copts.KeepIDs); err != nil {
					return err
				}
			}
			var gt *history.ObsTable
			if geoPath != "" {
				if gt, err = a.obsTable(geoPath, "geospatial", df.encoding, copts.KeepIDs); err != nil {
					return err
				}
			}

			var locs *summarize.DeviceLocations
			if devicesPath != "" {
				locs, err = summarize.LoadDeviceLocations(devicesPath, deviceHeading, locationHeading, 0)
				if err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n", rep)
			for _, id := range ct.Devices() {
				counts := summarize.CycleDays(ct, id)
				streakCounts := counts
				if ot != nil {
					streakCounts = summarize.DaysInAll(streakCounts, summarize.ObsDays(ot, id))
				}
				if gt != nil {
					streakCounts = summarize.DaysInAll(streakCounts, summarize.ObsDays(gt, id))
				}
				line := fmt.Sprintf("device=%s", id)
				if locs != nil {
					if loc, ok := locs.LocationOf(id); ok {
						line += " location=" + loc
					} else {
						line += " location=?"
					}
				}
				line += fmt.Sprintf(" cycles=%d days=%d", len(ct.ForDevice(id)), summarize.DaysOfData(counts))
				if ot != nil {
					both := 0
					for _, j := range summarize.DailyCyclesAndObs(ct, ot, id) {
						if j.Cycles > 0 && j.Obs > 0 {
							both++
						}
					}
					line += fmt.Sprintf(" overlap_days=%d", both)
				}
				fmt.Fprintln(w, line)
				for _, s := range summarize.Streaks(id, streakCounts, minDays, includeEnds) {
					fmt.Fprintf(w, "  streak %s\n", s)
				}
			}
			return nil
		},
	}

	df.install(cmd, "cycles")
	fl := cmd.Flags()
	fl.StringVar(&obsPath, "obs", "", "observations file to join for per-day overlap")
	fl.StringVar(&obsKind, "obs-kind", "sensor", "kind of the --obs file (sensor, geospatial)")
	fl.StringVar(&geoPath, "geo", "", "geospatial observations file to join")
	fl.StringVar(&deviceID, "device", "", "restrict the report to one device id")
	fl.IntVar(&minDays, "min-days", summarize.DefaultMinStreakDays, "shortest streak worth reporting")
	fl.BoolVar(&includeEnds, "include-ends", false, "count the partial first and last day of the export")
	fl.StringVar(&devicesPath, "devices", "", "devices metadata file mapping device ids to locations")
	fl.StringVar(&deviceHeading, "device-heading", "DeviceId", "device id heading in the devices file")
	fl.StringVar(&locationHeading, "location-heading", "LocationId", "location heading in the devices file")
	return cmd
}

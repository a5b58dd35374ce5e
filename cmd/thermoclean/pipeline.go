package main

import (
	"thermoclean/internal/clean"
	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
)

// cleanCycles cleans a cycle export. A layout declared in the config file
// takes precedence over inference.
func (a *app) cleanCycles(path string, opts clean.Options) (*records.CycleSet, *clean.Report, error) {
	if layout, ok := a.cfg.LayoutFor(detect.Cycles); ok {
		schema, err := layout.Schema(detect.Cycles)
		if err != nil {
			return nil, nil, err
		}
		return clean.CyclesWithSchema(path, schema, opts)
	}
	return clean.Cycles(path, opts)
}

// cleanObservations cleans a sensor or geospatial export, with the same
// declared-layout precedence as cleanCycles.
func (a *app) cleanObservations(path string, opts clean.Options) (*records.ObsSet, *clean.Report, error) {
	if layout, ok := a.cfg.LayoutFor(opts.Detect.Kind); ok {
		schema, err := layout.Schema(opts.Detect.Kind)
		if err != nil {
			return nil, nil, err
		}
		return clean.ObservationsWithSchema(path, schema, opts)
	}
	return clean.Observations(path, opts)
}

// obsTable cleans an observation export named by a join flag and indexes
// it, keeping only the given ids when any are named.
func (a *app) obsTable(path, kind, encoding string, keepIDs []string) (*history.ObsTable, error) {
	k, err := detect.KindFromString(kind)
	if err != nil {
		return nil, err
	}
	opts := clean.Options{
		Detect:  detect.Options{Kind: k, Encoding: encoding},
		KeepIDs: keepIDs,
		Log:     a.log,
	}
	a.cfg.ApplyDetect(&opts.Detect)
	set, _, err := a.cleanObservations(path, opts)
	if err != nil {
		return nil, err
	}
	return history.NewObsTable(set)
}

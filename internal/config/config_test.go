package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"thermoclean/internal/detect"
	"thermoclean/internal/logging"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

//
// Load
//

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantLog := logging.Config{Level: "info", Format: logging.FormatText}
	if cfg.Log != wantLog {
		t.Fatalf("Log = %+v, want %+v", cfg.Log, wantLog)
	}
	if cfg.JobName != "thermoclean" || cfg.MetricsBackend != "nop" {
		t.Fatalf("job, backend = %q, %q, want thermoclean, nop", cfg.JobName, cfg.MetricsBackend)
	}
	if cfg.MetricsFlushEvery != time.Minute {
		t.Fatalf("MetricsFlushEvery = %s, want 1m", cfg.MetricsFlushEvery)
	}
	if cfg.MetricsTags != nil {
		t.Fatalf("MetricsTags = %v, want none", cfg.MetricsTags)
	}
	if cfg.IDValueFloor != detect.DefaultIDValueFloor || cfg.SampleCap != detect.DefaultSampleCap {
		t.Fatalf("floor, cap = %v, %d, want the detect defaults", cfg.IDValueFloor, cfg.SampleCap)
	}
	if cfg.FormatScanLimit != detect.DefaultFormatScanLimit || cfg.CycleScanLimit != detect.DefaultCycleScanLimit {
		t.Fatalf("scan limits = %d, %d, want the detect defaults", cfg.FormatScanLimit, cfg.CycleScanLimit)
	}
	if cfg.StoreBackend != "sqlite" || cfg.StoreDSN != "thermoclean.db" {
		t.Fatalf("store = %q %q, want sqlite thermoclean.db", cfg.StoreBackend, cfg.StoreDSN)
	}
}

// TestLoadFromEnv verifies the THERMOCLEAN_ prefix and the dot and dash to
// underscore key mapping. Environment values beat config file values.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("THERMOCLEAN_LOG_LEVEL", "debug")
	t.Setenv("THERMOCLEAN_DETECT_SAMPLE_CAP", "25")
	t.Setenv("THERMOCLEAN_METRICS_FLUSH_EVERY", "30s")
	t.Setenv("THERMOCLEAN_METRICS_TAGS", "env:prod, team:hvac")

	v := New()
	path := writeTemp(t, "thermoclean.yaml", "log:\n  level: warn\n")
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level = %q, want the environment to beat the file", cfg.Log.Level)
	}
	if cfg.SampleCap != 25 {
		t.Fatalf("SampleCap = %d, want 25", cfg.SampleCap)
	}
	if cfg.MetricsFlushEvery != 30*time.Second {
		t.Fatalf("MetricsFlushEvery = %s, want 30s", cfg.MetricsFlushEvery)
	}
	if want := []string{"env:prod", "team:hvac"}; !reflect.DeepEqual(cfg.MetricsTags, want) {
		t.Fatalf("MetricsTags = %v, want %v", cfg.MetricsTags, want)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set  func(v *viper.Viper)
		want string
	}{
		{"bad log level", func(v *viper.Viper) { v.Set(KeyLogLevel, "chatty") }, "log level"},
		{"bad log format", func(v *viper.Viper) { v.Set(KeyLogFormat, "xml") }, "log format"},
		{"negative floor", func(v *viper.Viper) { v.Set(KeyIDValueFloor, -1) }, KeyIDValueFloor},
		{"zero sample cap", func(v *viper.Viper) { v.Set(KeySampleCap, 0) }, KeySampleCap},
		{"zero format scan limit", func(v *viper.Viper) { v.Set(KeyFormatScanLimit, 0) }, KeyFormatScanLimit},
		{"zero cycle scan limit", func(v *viper.Viper) { v.Set(KeyCycleScanLimit, 0) }, KeyCycleScanLimit},
		{"negative flush", func(v *viper.Viper) { v.Set(KeyMetricsFlushEvery, "-10s") }, KeyMetricsFlushEvery},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := New()
			tt.set(v)
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

//
// ReadFile
//

func TestReadFileExplicit(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "job.yaml", "store:\n  backend: postgres\n  dsn: postgres://localhost/x\n")
	v := New()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != "postgres" || cfg.StoreDSN != "postgres://localhost/x" {
		t.Fatalf("store = %q %q, want the file values", cfg.StoreBackend, cfg.StoreDSN)
	}
}

func TestReadFileExplicitMissing(t *testing.T) {
	t.Parallel()

	err := ReadFile(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("error = %v, want a read config failure", err)
	}
}

// TestReadFileImplicit verifies the working-directory search: finding
// nothing is fine, finding thermoclean.yaml applies it.
func TestReadFileImplicit(t *testing.T) {
	t.Chdir(t.TempDir())

	v := New()
	if err := ReadFile(v, ""); err != nil {
		t.Fatalf("ReadFile with no file present: %v", err)
	}

	if err := os.WriteFile("thermoclean.yaml", []byte("job: nightly\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v = New()
	if err := ReadFile(v, ""); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobName != "nightly" {
		t.Fatalf("JobName = %q, want nightly", cfg.JobName)
	}
}

//
// layouts
//

const layoutYAML = `layouts:
  cycles:
    delimiter: ","
    columns:
      - heading: ThermostatId
        role: id
        position: 0
      - heading: CycleType
        role: cycle
        position: 1
      - heading: StartTime
        role: start_time
        position: 2
      - heading: EndTime
        role: end_time
        position: 3
      - heading: RuntimeSeconds
        position: 4
`

// TestLoadLayouts verifies that a config-declared layout survives Load and
// assembles into a schema without touching inference.
func TestLoadLayouts(t *testing.T) {
	t.Parallel()

	v := New()
	if err := ReadFile(v, writeTemp(t, "layouts.yaml", layoutYAML)); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := cfg.LayoutFor(detect.Sensor); ok {
		t.Fatalf("LayoutFor(sensor) found a layout that was never declared")
	}
	layout, ok := cfg.LayoutFor(detect.Cycles)
	if !ok {
		t.Fatalf("LayoutFor(cycles) found nothing")
	}

	schema, err := layout.Schema(detect.Cycles)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if schema.ID().Heading != "ThermostatId" || schema.Width() != 5 {
		t.Fatalf("schema = %+v", schema)
	}
	if c, ok := schema.Cycle(); !ok || c.Position != 1 {
		t.Fatalf("cycle column = %+v ok=%v", c, ok)
	}
	if c, ok := schema.Column("RuntimeSeconds"); !ok || c.Role != detect.RoleData {
		t.Fatalf("payload column = %+v ok=%v", c, ok)
	}
}

func TestLayoutSchema_Errors(t *testing.T) {
	t.Parallel()

	idCol := LayoutColumn{Heading: "Id", Role: "id", Position: 0}
	timeCol := LayoutColumn{Heading: "Time", Role: "time", Position: 1}

	tests := []struct {
		name   string
		layout Layout
		want   string
	}{
		{
			name:   "multi character delimiter",
			layout: Layout{Delimiter: "||", Columns: []LayoutColumn{idCol, timeCol}},
			want:   "single character",
		},
		{
			name:   "missing id role",
			layout: Layout{Delimiter: ",", Columns: []LayoutColumn{timeCol, {Heading: "Temp", Position: 0}}},
			want:   "no id column",
		},
		{
			name:   "unknown role",
			layout: Layout{Delimiter: ",", Columns: []LayoutColumn{idCol, timeCol, {Heading: "X", Role: "key", Position: 2}}},
			want:   "unknown role",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.layout.Schema(detect.Sensor)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Schema error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

//
// helpers
//

func TestApplyDetect(t *testing.T) {
	t.Parallel()

	cfg := Config{IDValueFloor: 99, SampleCap: 10, FormatScanLimit: 20, CycleScanLimit: 30}
	opts := detect.Options{Kind: detect.Sensor, IDHeading: "Serial"}
	cfg.ApplyDetect(&opts)

	if opts.IDValueFloor != 99 || opts.SampleCap != 10 || opts.FormatScanLimit != 20 || opts.CycleScanLimit != 30 {
		t.Fatalf("bounds not copied: %+v", opts)
	}
	if opts.Kind != detect.Sensor || opts.IDHeading != "Serial" {
		t.Fatalf("unrelated options changed: %+v", opts)
	}
}

func TestSplitTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"env:prod", []string{"env:prod"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := splitTags(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("splitTags(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
	if got := splitTags(",,"); len(got) != 0 {
		t.Fatalf("splitTags(%q) = %#v, want no tags", ",,", got)
	}
}

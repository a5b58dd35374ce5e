// Package config centralizes runtime configuration. Values resolve with
// the usual precedence (flag over environment over config file over
// default) through viper; Load snapshots them into an immutable Config so
// the rest of the process never touches viper again.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"thermoclean/internal/detect"
	"thermoclean/internal/logging"
)

// EnvPrefix is prepended to environment variable names:
// THERMOCLEAN_LOG_LEVEL overrides log.level.
const EnvPrefix = "THERMOCLEAN"

// Configuration keys. Flags bind to these via viper.BindPFlag.
const (
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogCaller = "log.caller"

	KeyJobName           = "job"
	KeyMetricsBackend    = "metrics.backend"
	KeyMetricsFlushEvery = "metrics.flush_every"
	KeyMetricsTags       = "metrics.tags"

	KeyIDValueFloor    = "detect.id_value_floor"
	KeySampleCap       = "detect.sample_cap"
	KeyFormatScanLimit = "detect.format_scan_limit"
	KeyCycleScanLimit  = "detect.cycle_scan_limit"

	KeyStoreBackend = "store.backend"
	KeyStoreDSN     = "store.dsn"

	// KeyLayouts holds declared column layouts keyed by file kind. A
	// declared layout bypasses inference entirely; it only ever comes from
	// the config file, never from flags or environment.
	KeyLayouts = "layouts"
)

// LayoutColumn declares one column of a fixed export layout.
type LayoutColumn struct {
	Heading  string `mapstructure:"heading"`
	Role     string `mapstructure:"role"`
	Position int    `mapstructure:"position"`
	Ignored  bool   `mapstructure:"ignored"`
}

// Layout declares the full column layout of one file kind, for exports
// whose shape is known ahead of time. Schema turns it into the same
// structure inference would have produced.
type Layout struct {
	Delimiter string         `mapstructure:"delimiter"`
	Quote     string         `mapstructure:"quote"`
	Columns   []LayoutColumn `mapstructure:"columns"`
}

// Schema assembles the declared layout into a column schema for kind,
// validating the same invariants inference enforces.
func (l Layout) Schema(kind detect.FileKind) (*detect.Schema, error) {
	delim, err := layoutRune(l.Delimiter, "delimiter")
	if err != nil {
		return nil, err
	}
	quote, err := layoutRune(l.Quote, "quote")
	if err != nil {
		return nil, err
	}

	cols := make([]detect.ColumnMeta, 0, len(l.Columns))
	for _, c := range l.Columns {
		cols = append(cols, detect.ColumnMeta{
			Heading:  strings.TrimSpace(c.Heading),
			Role:     detect.ColumnRole(strings.ToLower(strings.TrimSpace(c.Role))),
			Position: c.Position,
			Ignored:  c.Ignored,
		})
	}
	s, err := detect.NewSchema(kind, detect.Format{Delimiter: delim, Quote: quote}, cols)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", kind, err)
	}
	return s, nil
}

func layoutRune(s, what string) (rune, error) {
	r := []rune(s)
	switch len(r) {
	case 0:
		return 0, nil
	case 1:
		return r[0], nil
	}
	return 0, fmt.Errorf("layout %s must be a single character, got %q", what, s)
}

// Config is the resolved runtime configuration. It is plain data; mutate a
// copy if a command needs a variation.
type Config struct {
	Log logging.Config

	JobName           string
	MetricsBackend    string
	MetricsFlushEvery time.Duration
	MetricsTags       []string

	IDValueFloor    float64
	SampleCap       int
	FormatScanLimit int
	CycleScanLimit  int

	StoreBackend string
	StoreDSN     string

	Layouts map[string]Layout
}

// LayoutFor returns the declared layout for a file kind, if the config
// file carries one.
func (c Config) LayoutFor(kind detect.FileKind) (Layout, bool) {
	l, ok := c.Layouts[kind.String()]
	return l, ok
}

// New returns a viper instance with defaults set and the environment
// wired under EnvPrefix.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, string(logging.FormatText))
	v.SetDefault(KeyLogCaller, false)

	v.SetDefault(KeyJobName, "thermoclean")
	v.SetDefault(KeyMetricsBackend, "nop")
	v.SetDefault(KeyMetricsFlushEvery, time.Minute)
	v.SetDefault(KeyMetricsTags, "")

	v.SetDefault(KeyIDValueFloor, float64(detect.DefaultIDValueFloor))
	v.SetDefault(KeySampleCap, detect.DefaultSampleCap)
	v.SetDefault(KeyFormatScanLimit, detect.DefaultFormatScanLimit)
	v.SetDefault(KeyCycleScanLimit, detect.DefaultCycleScanLimit)

	v.SetDefault(KeyStoreBackend, "sqlite")
	v.SetDefault(KeyStoreDSN, "thermoclean.db")
}

// ReadFile loads an optional config file. An explicit path must exist; the
// implicit search (thermoclean.{yaml,toml,json} in the working directory)
// is allowed to find nothing.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("thermoclean")
	v.AddConfigPath(".")
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Load snapshots and validates the resolved values.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Log: logging.Config{
			Level:  v.GetString(KeyLogLevel),
			Format: logging.Format(v.GetString(KeyLogFormat)),
			Caller: v.GetBool(KeyLogCaller),
		},
		JobName:           v.GetString(KeyJobName),
		MetricsBackend:    v.GetString(KeyMetricsBackend),
		MetricsFlushEvery: v.GetDuration(KeyMetricsFlushEvery),
		MetricsTags:       splitTags(v.GetString(KeyMetricsTags)),
		IDValueFloor:      v.GetFloat64(KeyIDValueFloor),
		SampleCap:         v.GetInt(KeySampleCap),
		FormatScanLimit:   v.GetInt(KeyFormatScanLimit),
		CycleScanLimit:    v.GetInt(KeyCycleScanLimit),
		StoreBackend:      v.GetString(KeyStoreBackend),
		StoreDSN:          v.GetString(KeyStoreDSN),
	}
	if err := v.UnmarshalKey(KeyLayouts, &c.Layouts); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", KeyLayouts, err)
	}

	if err := c.Log.Validate(); err != nil {
		return Config{}, err
	}
	if c.IDValueFloor <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %v", KeyIDValueFloor, c.IDValueFloor)
	}
	for key, n := range map[string]int{
		KeySampleCap:       c.SampleCap,
		KeyFormatScanLimit: c.FormatScanLimit,
		KeyCycleScanLimit:  c.CycleScanLimit,
	} {
		if n <= 0 {
			return Config{}, fmt.Errorf("%s must be positive, got %d", key, n)
		}
	}
	if c.MetricsFlushEvery <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %s", KeyMetricsFlushEvery, c.MetricsFlushEvery)
	}
	return c, nil
}

// ApplyDetect copies the configured inference bounds onto options.
func (c Config) ApplyDetect(o *detect.Options) {
	o.IDValueFloor = c.IDValueFloor
	o.SampleCap = c.SampleCap
	o.FormatScanLimit = c.FormatScanLimit
	o.CycleScanLimit = c.CycleScanLimit
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

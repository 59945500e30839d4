package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Input       InputConfig       `mapstructure:"input"`
	Output      OutputConfig      `mapstructure:"output"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Filters     FilterConfig      `mapstructure:"filters"`
	Buckets     BucketConfig      `mapstructure:"buckets"`
	Fill        FillConfig        `mapstructure:"fill"`
	Percentile  PercentileConfig  `mapstructure:"percentile"`
	Realized    RealizedConfig    `mapstructure:"realized"`
	Incremental IncrementalConfig `mapstructure:"incremental"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Calendar    CalendarConfig    `mapstructure:"calendar"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Server      ServerConfig      `mapstructure:"server"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type InputConfig struct {
	Directory string `mapstructure:"dir" validate:"required"`
	Pattern   string `mapstructure:"pattern" validate:"required"`
}

type OutputConfig struct {
	Directory   string `mapstructure:"dir" validate:"required"`
	SurfaceFile string `mapstructure:"surface_file" validate:"required"`
}

// SnapshotConfig selects the two intraday observation windows.
type SnapshotConfig struct {
	MidSession          string        `mapstructure:"mid_session" validate:"required"`
	MidSessionTolerance time.Duration `mapstructure:"mid_session_tolerance" validate:"gte=0"`
	Close               string        `mapstructure:"close" validate:"required"`
	CloseTolerance      time.Duration `mapstructure:"close_tolerance" validate:"gte=0"`
	PreferIVBS          bool          `mapstructure:"prefer_iv_bs"`
}

// MidSessionMs returns the mid-session target as milliseconds since midnight.
func (s SnapshotConfig) MidSessionMs() (int64, error) {
	return parseTimeOfDay(s.MidSession)
}

// CloseMs returns the close target as milliseconds since midnight.
func (s SnapshotConfig) CloseMs() (int64, error) {
	return parseTimeOfDay(s.Close)
}

type FilterConfig struct {
	RequirePositiveBid bool    `mapstructure:"require_positive_bid"`
	RequirePositiveAsk bool    `mapstructure:"require_positive_ask"`
	MaxSpreadAbs       float64 `mapstructure:"max_spread_abs" validate:"gt=0"`
	MaxSpreadPct       float64 `mapstructure:"max_spread_pct" validate:"gt=0"`
	MaxAskBidRatio     float64 `mapstructure:"max_ask_bid_ratio" validate:"gt=0"`
	MinPremium         float64 `mapstructure:"min_premium" validate:"gte=0"`
}

type BucketConfig struct {
	ExpansionEnabled         bool        `mapstructure:"expansion_enabled"`
	MinContractsForExpansion int         `mapstructure:"min_contracts_for_expansion" validate:"gte=1"`
	MinPerBucket             int         `mapstructure:"min_per_bucket" validate:"gte=1"`
	DeltaMargin              float64     `mapstructure:"delta_margin" validate:"gte=0"`
	DTEMargin                float64     `mapstructure:"dte_margin" validate:"gte=0"`
	InterpolationEnabled     bool        `mapstructure:"interpolation_enabled"`
	SkewEpsilon              float64     `mapstructure:"skew_epsilon" validate:"gte=0"`
	Delta                    []BucketDef `mapstructure:"delta" validate:"dive"`
	DTE                      []BucketDef `mapstructure:"dte" validate:"dive"`
}

type FillConfig struct {
	MaxDays       int `mapstructure:"max_days" validate:"gte=1"`
	HighMaxDays   int `mapstructure:"high_max_days" validate:"gte=1"`
	MediumMaxDays int `mapstructure:"medium_max_days" validate:"gte=1"`
}

type PercentileConfig struct {
	Windows          []int   `mapstructure:"windows" validate:"min=1,dive,gte=1"`
	MinCoverageRatio float64 `mapstructure:"min_coverage_ratio" validate:"gte=0,lte=1"`
	MinSamples       int     `mapstructure:"min_samples" validate:"gte=1"`
	WeightIV         float64 `mapstructure:"weight_iv" validate:"gte=0"`
	WeightSkew       float64 `mapstructure:"weight_skew" validate:"gte=0"`
	WeightVRP        float64 `mapstructure:"weight_vrp" validate:"gte=0"`
}

type RealizedConfig struct {
	Windows        []int `mapstructure:"windows" validate:"min=1,dive,gte=2"`
	Annualization  int   `mapstructure:"annualization" validate:"gte=1"`
	VRPWindow      int   `mapstructure:"vrp_window" validate:"gte=2"`
	ZScoreWindows  []int `mapstructure:"zscore_windows" validate:"min=1,dive,gte=2"`
	SkewZWindow    int   `mapstructure:"skew_z_window" validate:"gte=2"`
	SkewZMinPeriod int   `mapstructure:"skew_z_min_periods" validate:"gte=2"`
}

type IncrementalConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	TailDays         int  `mapstructure:"tail_days" validate:"gte=1"`
	SafetyMarginDays int  `mapstructure:"safety_margin_days" validate:"gte=0"`
}

type WorkersConfig struct {
	Count          int     `mapstructure:"count" validate:"gte=0"`
	FilesPerSecond float64 `mapstructure:"files_per_second" validate:"gte=0"`
}

type CalendarConfig struct {
	Exchange      string   `mapstructure:"exchange" validate:"oneof=XNYS"`
	ExtraHolidays []string `mapstructure:"extra_holidays" validate:"dive,datetime=2006-01-02"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type ScheduleConfig struct {
	Hour       int           `mapstructure:"hour" validate:"gte=0,lte=23"`
	Minute     int           `mapstructure:"minute" validate:"gte=0,lte=59"`
	Timezone   string        `mapstructure:"timezone" validate:"required"`
	LockFile   string        `mapstructure:"lock_file" validate:"required"`
	LockMaxAge time.Duration `mapstructure:"lock_max_age" validate:"gt=0"`
	StateFile  string        `mapstructure:"state_file" validate:"required"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("input.dir", "data")
	v.SetDefault("input.pattern", "30MINDATA_*.csv")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.surface_file", "surface.jsonl.zst")
	v.SetDefault("snapshot.mid_session", "12:00:00")
	v.SetDefault("snapshot.mid_session_tolerance", "90s")
	v.SetDefault("snapshot.close", "15:30:00")
	v.SetDefault("snapshot.close_tolerance", "60s")
	v.SetDefault("snapshot.prefer_iv_bs", true)
	v.SetDefault("filters.require_positive_bid", true)
	v.SetDefault("filters.require_positive_ask", true)
	v.SetDefault("filters.max_spread_abs", 50.0)
	v.SetDefault("filters.max_spread_pct", 50.0)
	v.SetDefault("filters.max_ask_bid_ratio", 10.0)
	v.SetDefault("filters.min_premium", 0.0)
	v.SetDefault("buckets.expansion_enabled", true)
	v.SetDefault("buckets.min_contracts_for_expansion", 8)
	v.SetDefault("buckets.min_per_bucket", 3)
	v.SetDefault("buckets.delta_margin", 5.0)
	v.SetDefault("buckets.dte_margin", 5.0)
	v.SetDefault("buckets.interpolation_enabled", true)
	v.SetDefault("buckets.skew_epsilon", 1e-4)
	v.SetDefault("fill.max_days", 30)
	v.SetDefault("fill.high_max_days", 5)
	v.SetDefault("fill.medium_max_days", 15)
	v.SetDefault("percentile.windows", []int{7, 21, 63, 252})
	v.SetDefault("percentile.min_coverage_ratio", 0.70)
	v.SetDefault("percentile.min_samples", 5)
	v.SetDefault("percentile.weight_iv", 0.60)
	v.SetDefault("percentile.weight_skew", 0.35)
	v.SetDefault("percentile.weight_vrp", 0.05)
	v.SetDefault("realized.windows", []int{7, 21, 63, 252})
	v.SetDefault("realized.annualization", 252)
	v.SetDefault("realized.vrp_window", 7)
	v.SetDefault("realized.zscore_windows", []int{20, 63, 252})
	v.SetDefault("realized.skew_z_window", 63)
	v.SetDefault("realized.skew_z_min_periods", 21)
	v.SetDefault("incremental.enabled", true)
	v.SetDefault("incremental.tail_days", 9999)
	v.SetDefault("incremental.safety_margin_days", 30)
	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.files_per_second", 0.0)
	v.SetDefault("calendar.exchange", "XNYS")
	v.SetDefault("calendar.extra_holidays", []string{})
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("schedule.hour", 18)
	v.SetDefault("schedule.minute", 30)
	v.SetDefault("schedule.timezone", "America/New_York")
	v.SetDefault("schedule.lock_file", "output/.surface.lock")
	v.SetDefault("schedule.lock_max_age", "12h")
	v.SetDefault("schedule.state_file", "output/.daemon_state.json")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")
	v.SetDefault("notify.token", "")

	// Environment variable support
	v.SetEnvPrefix("VOLSURFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Buckets.Delta) == 0 {
		cfg.Buckets.Delta = DefaultDeltaGrid()
	}
	if len(cfg.Buckets.DTE) == 0 {
		cfg.Buckets.DTE = DefaultDTEGrid()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	return &Config{
		Input:  InputConfig{Directory: "data", Pattern: "30MINDATA_*.csv"},
		Output: OutputConfig{Directory: "output", SurfaceFile: "surface.jsonl.zst"},
		Snapshot: SnapshotConfig{
			MidSession:          "12:00:00",
			MidSessionTolerance: 90 * time.Second,
			Close:               "15:30:00",
			CloseTolerance:      60 * time.Second,
			PreferIVBS:          true,
		},
		Filters: FilterConfig{
			RequirePositiveBid: true,
			RequirePositiveAsk: true,
			MaxSpreadAbs:       50,
			MaxSpreadPct:       50,
			MaxAskBidRatio:     10,
		},
		Buckets: BucketConfig{
			ExpansionEnabled:         true,
			MinContractsForExpansion: 8,
			MinPerBucket:             3,
			DeltaMargin:              5,
			DTEMargin:                5,
			InterpolationEnabled:     true,
			SkewEpsilon:              1e-4,
			Delta:                    DefaultDeltaGrid(),
			DTE:                      DefaultDTEGrid(),
		},
		Fill: FillConfig{MaxDays: 30, HighMaxDays: 5, MediumMaxDays: 15},
		Percentile: PercentileConfig{
			Windows:          []int{7, 21, 63, 252},
			MinCoverageRatio: 0.70,
			MinSamples:       5,
			WeightIV:         0.60,
			WeightSkew:       0.35,
			WeightVRP:        0.05,
		},
		Realized: RealizedConfig{
			Windows:        []int{7, 21, 63, 252},
			Annualization:  252,
			VRPWindow:      7,
			ZScoreWindows:  []int{20, 63, 252},
			SkewZWindow:    63,
			SkewZMinPeriod: 21,
		},
		Incremental: IncrementalConfig{Enabled: true, TailDays: 9999, SafetyMarginDays: 30},
		Calendar:    CalendarConfig{Exchange: "XNYS"},
		Logging:     LoggingConfig{Enabled: true, Directory: "logs", Level: "info"},
		Schedule: ScheduleConfig{
			Hour:       18,
			Minute:     30,
			Timezone:   "America/New_York",
			LockFile:   "output/.surface.lock",
			LockMaxAge: 12 * time.Hour,
			StateFile:  "output/.daemon_state.json",
		},
		Server: ServerConfig{Port: "8080", ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
		Notify: NotifyConfig{Server: "https://ntfy.sh", Priority: "default", Tags: "chart_with_upwards_trend"},
	}
}

func parseTimeOfDay(s string) (int64, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (expected HH:MM:SS): %w", s, err)
	}
	return int64(t.Hour())*3_600_000 + int64(t.Minute())*60_000 + int64(t.Second())*1_000, nil
}

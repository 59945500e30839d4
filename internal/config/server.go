package config

import (
	"path/filepath"
	"time"
)

// ServerConfig configures the read-only surface API.
type ServerConfig struct {
	Port         string        `mapstructure:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// NotifyConfig configures ntfy run notifications.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server" validate:"omitempty,url"`
	Topic    string `mapstructure:"topic" validate:"required_if=Enabled true"`
	Priority string `mapstructure:"priority" validate:"oneof=min low default high urgent"`
	Tags     string `mapstructure:"tags"` // comma-separated emoji tags
	Token    string `mapstructure:"token"`
}

// SurfacePath returns the full path of the persisted surface.
func (c *Config) SurfacePath() string {
	return filepath.Join(c.Output.Directory, c.Output.SurfaceFile)
}

// MaxPercentileWindow returns the largest configured percentile window.
func (c *Config) MaxPercentileWindow() int {
	return maxInt(c.Percentile.Windows)
}

// MaxLookbackWindow returns the largest window of any rolling computation.
func (c *Config) MaxLookbackWindow() int {
	m := maxInt(c.Percentile.Windows)
	if r := maxInt(c.Realized.Windows); r > m {
		m = r
	}
	if z := maxInt(c.Realized.ZScoreWindows); z > m {
		m = z
	}
	if c.Realized.SkewZWindow > m {
		m = c.Realized.SkewZWindow
	}
	return m
}

func maxInt(values []int) int {
	m := 0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

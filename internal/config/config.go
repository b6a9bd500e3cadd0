// Package config loads engine settings from a YAML file with TIMELINE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

const (
	DefaultFile = "timeline.yaml"

	EnvLogLevel    = "TIMELINE_LOG_LEVEL"
	EnvWidth       = "TIMELINE_WIDTH"
	EnvHeight      = "TIMELINE_HEIGHT"
	EnvFPS         = "TIMELINE_FPS"
	EnvWorkers     = "TIMELINE_WORKERS"
	EnvCacheBudget = "TIMELINE_CACHE_BUDGET"
	EnvTier        = "TIMELINE_TIER"
	EnvPreviewAddr = "TIMELINE_PREVIEW_ADDR"
	EnvFFmpeg      = "TIMELINE_FFMPEG"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Output  OutputConfig  `yaml:"output"`
	Render  RenderConfig  `yaml:"render"`
	Cache   CacheConfig   `yaml:"cache"`
	Media   MediaConfig   `yaml:"media"`
	Export  ExportConfig  `yaml:"export"`
	Preview PreviewConfig `yaml:"preview"`
}

type OutputConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
	// Rate is ticks per second.
	Rate       int64  `yaml:"rate"`
	Background string `yaml:"background"`
}

type RenderConfig struct {
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	DecodeWorkers int    `yaml:"decode_workers"`
	DegradedAfter int    `yaml:"degraded_after"`
	MaxFrameBytes int64  `yaml:"max_frame_bytes"`
	Tier          string `yaml:"tier"`
}

type CacheConfig struct {
	// BudgetBytes 0 sizes the cache from available memory.
	BudgetBytes  int64         `yaml:"budget_bytes"`
	AutoFraction float64       `yaml:"auto_fraction"`
	ProxyGrace   time.Duration `yaml:"proxy_grace"`
}

type MediaConfig struct {
	PDFDPI        int     `yaml:"pdf_dpi"`
	PageSeconds   float64 `yaml:"page_seconds"`
	SequenceFPS   int     `yaml:"sequence_fps"`
	GeneratorSize int     `yaml:"generator_size"`
	FFmpeg        string  `yaml:"ffmpeg"`
}

type ExportConfig struct {
	// Encoder "auto" picks a hardware H.264 encoder when available.
	Encoder string `yaml:"encoder"`
	Quality int    `yaml:"quality"`
}

type PreviewConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Output: OutputConfig{
			Width: 1280, Height: 720, FPS: 30,
			Rate:       timebase.DefaultRate,
			Background: "#000000",
		},
		Render: RenderConfig{
			QueueSize:     1024,
			DegradedAfter: 3,
			MaxFrameBytes: 256 << 20,
			Tier:          "high",
		},
		Cache: CacheConfig{
			AutoFraction: 0.25,
			ProxyGrace:   2 * time.Second,
		},
		Media: MediaConfig{
			PDFDPI:        150,
			PageSeconds:   5,
			SequenceFPS:   30,
			GeneratorSize: 256,
			FFmpeg:        "ffmpeg",
		},
		Export: ExportConfig{
			Encoder: "auto",
			Quality: 23,
		},
		Preview: PreviewConfig{
			Addr: "127.0.0.1:8790",
		},
	}
}

// Load reads path over the defaults, then applies the environment.
// An empty path tries DefaultFile; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvTier); v != "" {
		c.Render.Tier = v
	}
	if v := os.Getenv(EnvPreviewAddr); v != "" {
		c.Preview.Addr = v
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.Media.FFmpeg = v
	}
	ints := []struct {
		env string
		dst *int
	}{
		{EnvWidth, &c.Output.Width},
		{EnvHeight, &c.Output.Height},
		{EnvFPS, &c.Output.FPS},
		{EnvWorkers, &c.Render.Workers},
	}
	for _, it := range ints {
		if v := os.Getenv(it.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", it.env, err)
			}
			*it.dst = n
		}
	}
	if v := os.Getenv(EnvCacheBudget); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCacheBudget, err)
		}
		c.Cache.BudgetBytes = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("output size %dx%d must be positive", c.Output.Width, c.Output.Height)
	}
	if c.Output.Width%2 != 0 || c.Output.Height%2 != 0 {
		return fmt.Errorf("output size %dx%d must be even for yuv420p", c.Output.Width, c.Output.Height)
	}
	if c.Output.FPS <= 0 {
		return fmt.Errorf("fps %d must be positive", c.Output.FPS)
	}
	if c.Output.Rate < int64(c.Output.FPS) {
		return fmt.Errorf("tick rate %d below fps %d", c.Output.Rate, c.Output.FPS)
	}
	if _, err := c.BackgroundColor(); err != nil {
		return err
	}
	if _, err := quality.ParseTier(c.Render.Tier); err != nil {
		return err
	}
	if c.Render.Workers < 0 || c.Render.DecodeWorkers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	if c.Cache.BudgetBytes < 0 {
		return fmt.Errorf("cache budget %d must not be negative", c.Cache.BudgetBytes)
	}
	if c.Cache.AutoFraction <= 0 || c.Cache.AutoFraction > 1 {
		return fmt.Errorf("cache auto_fraction %v must be in (0,1]", c.Cache.AutoFraction)
	}
	if c.Media.PageSeconds <= 0 {
		return fmt.Errorf("media page_seconds %v must be positive", c.Media.PageSeconds)
	}
	return nil
}

func (c *Config) Tier() quality.Tier {
	t, _ := quality.ParseTier(c.Render.Tier)
	return t
}

func (c *Config) BackgroundColor() (color.RGBA, error) {
	if c.Output.Background == "" {
		return color.RGBA{A: 255}, nil
	}
	return media.ParseHexColor(c.Output.Background)
}

// FrameTicks is the length of one output frame.
func (c *Config) FrameTicks() timebase.Tick {
	return timebase.FrameTicks(c.Output.FPS, c.Output.Rate)
}

// CacheBudget resolves an automatic budget from host memory.
func (c *Config) CacheBudget() int64 {
	if c.Cache.BudgetBytes > 0 {
		return c.Cache.BudgetBytes
	}
	b, err := system.MemoryBudget(c.Cache.AutoFraction, 64<<20, 4<<30)
	if err != nil {
		return framecache.DefaultBudget
	}
	return b
}

// Write saves the config as YAML.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

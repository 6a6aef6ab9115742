// Package config loads daemon configuration from a YAML file via viper, with
// environment-variable overrides, plus a companion TOML file describing the
// repeat schedule table.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every daemon-recognized option.
type Config struct {
	Port        int      `mapstructure:"port"`
	AdminSocket string   `mapstructure:"admin_socket"`
	Servers     []string `mapstructure:"servers"`

	AssociateInterval time.Duration `mapstructure:"-"`
	MaxTriggerWait    time.Duration `mapstructure:"-"`

	MinMag        float64 `mapstructure:"minmag"`
	MaxDistanceKm float64 `mapstructure:"max_distance_km"`
	SiteLon       float64 `mapstructure:"site_lon"`
	SiteLat       float64 `mapstructure:"site_lat"`
	FilterModule  string  `mapstructure:"filter_module"`

	OldEventAge    time.Duration `mapstructure:"-"`
	FutureEventAge time.Duration `mapstructure:"-"`

	DataRoot            string   `mapstructure:"data_root"`
	DBPath              string   `mapstructure:"db_path"`
	ShakeExecutable     string   `mapstructure:"shake_executable"`
	ShakeAutorunModules []string `mapstructure:"shake_autorun_modules"`

	RepeatsFile string `mapstructure:"repeats_file"`

	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`

	Attached bool `mapstructure:"attached"`

	// Raw seconds form of the four duration fields above, as read from the
	// config file; kept so we can re-derive the typed durations.
	AssociateIntervalSeconds int `mapstructure:"associate_interval"`
	MaxTriggerWaitSeconds    int `mapstructure:"max_trigger_wait"`
	OldEventAgeSeconds       int `mapstructure:"old_event_age"`
	FutureEventAgeSeconds    int `mapstructure:"future_event_age"`

	// repeats holds the live repeat table behind an atomic pointer so
	// WatchRepeatsFile can hot-swap it from a watcher goroutine while the
	// control thread reads it via RepeatsSnapshot without locking.
	repeats atomic.Pointer[RepeatTable]
}

// RepeatTable maps a magnitude threshold to its ordered post-origin offsets,
// kept sorted ascending by threshold so SelectOffsets can stop scanning at
// the first threshold that is not below the magnitude.
type RepeatTable struct {
	thresholds []float64
	offsets    [][]int64
}

// repeatsFile is the on-disk TOML shape: a table of string-keyed magnitude
// thresholds to integer-second offset arrays, e.g.
//
//	[thresholds]
//	"5.0" = [60, 600]
//	"6.5" = [60, 600, 3600]
type repeatsFile struct {
	Thresholds map[string][]int64 `toml:"thresholds"`
}

// LoadRepeatTable reads and sorts a repeat-configuration TOML file.
func LoadRepeatTable(path string) (RepeatTable, error) {
	var f repeatsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return RepeatTable{}, fmt.Errorf("decode repeats file %s: %w", path, err)
	}
	return newRepeatTable(f.Thresholds)
}

func newRepeatTable(raw map[string][]int64) (RepeatTable, error) {
	type entry struct {
		mag     float64
		offsets []int64
	}
	entries := make([]entry, 0, len(raw))
	for k, v := range raw {
		var mag float64
		if _, err := fmt.Sscanf(k, "%g", &mag); err != nil {
			return RepeatTable{}, fmt.Errorf("invalid magnitude threshold %q: %w", k, err)
		}
		entries = append(entries, entry{mag: mag, offsets: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mag < entries[j].mag })

	rt := RepeatTable{}
	for _, e := range entries {
		rt.thresholds = append(rt.thresholds, e.mag)
		rt.offsets = append(rt.offsets, e.offsets)
	}
	return rt, nil
}

// SelectOffsets returns the offsets for the highest threshold strictly below
// mag, and whether any threshold qualifies.
func (rt RepeatTable) SelectOffsets(mag float64) ([]int64, bool) {
	idx := -1
	for i, t := range rt.thresholds {
		if t < mag {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	return rt.offsets[idx], true
}

// Load reads the daemon config file (YAML by default; viper also accepts
// JSON/TOML by extension) plus environment overrides under the SHAKED_
// prefix, and the companion repeats file if configured.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("SHAKED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 19999)
	v.SetDefault("admin_socket", "/tmp/shaked.sock")
	v.SetDefault("associate_interval", 300)
	v.SetDefault("max_trigger_wait", 300)
	v.SetDefault("minmag", 0.0)
	v.SetDefault("max_distance_km", 0.0)
	v.SetDefault("site_lon", 0.0)
	v.SetDefault("site_lat", 0.0)
	v.SetDefault("old_event_age", 86400*7)
	v.SetDefault("future_event_age", 3600)
	v.SetDefault("data_root", "/var/lib/shaked/events")
	v.SetDefault("db_path", "/var/lib/shaked/shaked.db")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 30)
	v.SetDefault("attached", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	c.AssociateInterval = time.Duration(c.AssociateIntervalSeconds) * time.Second
	c.MaxTriggerWait = time.Duration(c.MaxTriggerWaitSeconds) * time.Second
	c.OldEventAge = time.Duration(c.OldEventAgeSeconds) * time.Second
	c.FutureEventAge = time.Duration(c.FutureEventAgeSeconds) * time.Second

	if c.RepeatsFile != "" {
		rt, err := LoadRepeatTable(c.RepeatsFile)
		if err != nil {
			return nil, err
		}
		c.repeats.Store(&rt)
	} else {
		c.repeats.Store(&RepeatTable{})
	}

	return &c, nil
}

// AllowsHost reports whether host is on the allow-list. Comparison is
// case-insensitive, matching the hostnames servers is normally populated
// with.
func (c *Config) AllowsHost(host string) bool {
	for _, s := range c.Servers {
		if strings.EqualFold(s, host) {
			return true
		}
	}
	return false
}

// RepeatsSnapshot returns the currently active repeat table. Safe to call
// from the control thread while WatchRepeatsFile hot-swaps it concurrently.
func (c *Config) RepeatsSnapshot() RepeatTable {
	rt := c.repeats.Load()
	if rt == nil {
		return RepeatTable{}
	}
	return *rt
}

// SetRepeats installs rt as the active repeat table directly, bypassing
// RepeatsFile. Mainly useful for tests that build a Config without a
// backing TOML file on disk.
func (c *Config) SetRepeats(rt RepeatTable) {
	c.repeats.Store(&rt)
}

// ReloadRepeatsFile re-reads RepeatsFile and swaps it in atomically. A
// decode failure leaves the previously loaded table in place.
func (c *Config) ReloadRepeatsFile() error {
	if c.RepeatsFile == "" {
		return nil
	}
	rt, err := LoadRepeatTable(c.RepeatsFile)
	if err != nil {
		return err
	}
	c.repeats.Store(&rt)
	return nil
}

// WatchRepeatsFile starts a background watcher (fsnotify) that hot-reloads
// the repeat table whenever RepeatsFile changes on disk, letting an operator
// retune magnitude tiers without restarting the daemon. It runs until ctx is
// canceled.
func (c *Config) WatchRepeatsFile(ctx context.Context, log *slog.Logger) error {
	if c.RepeatsFile == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create repeats file watcher: %w", err)
	}
	if err := w.Add(c.RepeatsFile); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch repeats file %s: %w", c.RepeatsFile, err)
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.ReloadRepeatsFile(); err != nil {
					log.Warn("repeats file reload failed, keeping previous table", "path", c.RepeatsFile, "error", err)
					continue
				}
				log.Info("repeats file reloaded", "path", c.RepeatsFile)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("repeats file watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/log"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `v6rx:` root key in YAML.
type GlobalConfig struct {
	Engine     EngineConfig      `mapstructure:"engine" yaml:"engine"`
	ICMP       ICMPConfig        `mapstructure:"icmp" yaml:"icmp"`
	Interfaces []InterfaceConfig `mapstructure:"interfaces" yaml:"interfaces"`
	Routes     []RouteConfig     `mapstructure:"routes" yaml:"routes"`
	Metrics    MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log        log.LoggerConfig  `mapstructure:"log" yaml:"log"`
}

// ─── Engine ───

// EngineConfig configures the receive engine.
type EngineConfig struct {
	MaxForwardBuffer int              `mapstructure:"max_forward_buffer" yaml:"max_forward_buffer"` // bytes
	TickInterval     string           `mapstructure:"tick_interval" yaml:"tick_interval"`           // reassembly sweep period, e.g. "1s"
	Reassembly       ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly"`
	Defer            DeferConfig      `mapstructure:"defer" yaml:"defer"`
	Transports       []int            `mapstructure:"transports" yaml:"transports"` // upper-layer protocols delivered locally
}

// ReassemblyConfig controls IPv6 fragment reassembly.
type ReassemblyConfig struct {
	Quota             int    `mapstructure:"quota" yaml:"quota"`                 // bytes across all records
	TimeoutTicks      int    `mapstructure:"timeout_ticks" yaml:"timeout_ticks"` // sweeps before expiry
	MaxFragsPerSource int    `mapstructure:"max_frags_per_source" yaml:"max_frags_per_source"`
	RateLimitWindow   string `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
}

// DeferConfig sizes the worker pool used for deferred resubmission.
type DeferConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// ─── ICMP ───

// ICMPConfig configures the ICMPv6 error sender.
type ICMPConfig struct {
	Enabled  bool    `mapstructure:"enabled" yaml:"enabled"`
	Rate     float64 `mapstructure:"rate" yaml:"rate"` // errors per second, 0 = unlimited
	Burst    int     `mapstructure:"burst" yaml:"burst"`
	HopLimit int     `mapstructure:"hop_limit" yaml:"hop_limit"`
}

// ─── Interfaces & Routes ───

// InterfaceConfig describes one local interface.
type InterfaceConfig struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	Index       int      `mapstructure:"index" yaml:"index"`
	Forwarding  bool     `mapstructure:"forwarding" yaml:"forwarding"`
	LinkReserve int      `mapstructure:"link_reserve" yaml:"link_reserve"` // headroom for the link header
	Addresses   []string `mapstructure:"addresses" yaml:"addresses"`       // "2001:db8::1/64"
	Groups      []string `mapstructure:"groups" yaml:"groups"`             // joined multicast groups
}

// RouteConfig is a static route.
type RouteConfig struct {
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Interface string `mapstructure:"interface" yaml:"interface"`
	Via       string `mapstructure:"via" yaml:"via"` // empty = on-link
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `v6rx: ...`.
type configRoot struct {
	V6rx GlobalConfig `mapstructure:"v6rx"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `v6rx:` as root key; env vars use the V6RX_ prefix
// (e.g., V6RX_ENGINE_REASSEMBLY_QUOTA).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `v6rx.` key prefix maps to `V6RX_` in env vars via the key
	// replacer (key "v6rx.log.level" → env "V6RX_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.V6rx

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "v6rx." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("v6rx.engine.max_forward_buffer", 131072)
	v.SetDefault("v6rx.engine.tick_interval", "1s")
	v.SetDefault("v6rx.engine.reassembly.quota", 262144)
	v.SetDefault("v6rx.engine.reassembly.timeout_ticks", 60)
	v.SetDefault("v6rx.engine.reassembly.max_frags_per_source", 0)
	v.SetDefault("v6rx.engine.reassembly.rate_limit_window", "10s")
	v.SetDefault("v6rx.engine.defer.workers", 2)
	v.SetDefault("v6rx.engine.defer.queue_size", 1024)
	v.SetDefault("v6rx.engine.transports", []int{6, 17, 58})

	// ICMP defaults
	v.SetDefault("v6rx.icmp.enabled", true)
	v.SetDefault("v6rx.icmp.rate", 100)
	v.SetDefault("v6rx.icmp.burst", 50)
	v.SetDefault("v6rx.icmp.hop_limit", 64)

	// Metrics defaults
	v.SetDefault("v6rx.metrics.enabled", false)
	v.SetDefault("v6rx.metrics.listen", ":9091")
	v.SetDefault("v6rx.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("v6rx.log.level", "info")
	v.SetDefault("v6rx.log.pattern", log.DefaultPattern)
	v.SetDefault("v6rx.log.time", log.DefaultTime)
	v.SetDefault("v6rx.log.file.filename", "")
	v.SetDefault("v6rx.log.file.max_size", 100)
	v.SetDefault("v6rx.log.file.max_backups", 5)
	v.SetDefault("v6rx.log.file.max_age", 30)
	v.SetDefault("v6rx.log.file.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. Errors wrap core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	// ── Engine ──
	if cfg.Engine.MaxForwardBuffer <= 0 {
		return invalid("engine.max_forward_buffer must be positive, got %d", cfg.Engine.MaxForwardBuffer)
	}
	if _, err := parsePositiveDuration("engine.tick_interval", cfg.Engine.TickInterval); err != nil {
		return err
	}
	if cfg.Engine.Reassembly.Quota <= 0 {
		return invalid("engine.reassembly.quota must be positive, got %d", cfg.Engine.Reassembly.Quota)
	}
	if cfg.Engine.Reassembly.TimeoutTicks <= 0 {
		return invalid("engine.reassembly.timeout_ticks must be positive, got %d", cfg.Engine.Reassembly.TimeoutTicks)
	}
	if cfg.Engine.Reassembly.MaxFragsPerSource < 0 {
		return invalid("engine.reassembly.max_frags_per_source must not be negative")
	}
	if _, err := parsePositiveDuration("engine.reassembly.rate_limit_window", cfg.Engine.Reassembly.RateLimitWindow); err != nil {
		return err
	}
	if cfg.Engine.Defer.Workers <= 0 {
		cfg.Engine.Defer.Workers = 1
	}
	if cfg.Engine.Defer.QueueSize <= 0 {
		return invalid("engine.defer.queue_size must be positive, got %d", cfg.Engine.Defer.QueueSize)
	}
	for _, p := range cfg.Engine.Transports {
		if p < 0 || p > 255 || extensionHeaders[p] {
			return invalid("engine.transports: %d is not an upper-layer protocol", p)
		}
	}

	// ── ICMP ──
	if cfg.ICMP.Rate < 0 {
		return invalid("icmp.rate must not be negative")
	}
	if cfg.ICMP.HopLimit <= 0 || cfg.ICMP.HopLimit > 255 {
		return invalid("icmp.hop_limit must be in 1..255, got %d", cfg.ICMP.HopLimit)
	}
	if cfg.ICMP.Burst <= 0 {
		cfg.ICMP.Burst = 1
	}

	// ── Interfaces ──
	names := make(map[string]bool, len(cfg.Interfaces))
	for i := range cfg.Interfaces {
		iface := &cfg.Interfaces[i]
		if iface.Name == "" {
			return invalid("interfaces[%d].name is required", i)
		}
		if names[iface.Name] {
			return invalid("duplicate interface %q", iface.Name)
		}
		names[iface.Name] = true
		if iface.Index == 0 {
			iface.Index = i + 1
		}
		if iface.LinkReserve < 0 {
			return invalid("interface %s: link_reserve must not be negative", iface.Name)
		}
		for _, a := range iface.Addresses {
			if _, err := ParseAddress(a); err != nil {
				return invalid("interface %s: address %q: %v", iface.Name, a, err)
			}
		}
		for _, g := range iface.Groups {
			addr, err := netip.ParseAddr(g)
			if err != nil || !addr.Is6() || !addr.IsMulticast() {
				return invalid("interface %s: group %q is not an IPv6 multicast address", iface.Name, g)
			}
		}
	}

	// ── Routes ──
	for i, r := range cfg.Routes {
		p, err := netip.ParsePrefix(r.Prefix)
		if err != nil || !p.Addr().Is6() {
			return invalid("routes[%d]: prefix %q is not an IPv6 prefix", i, r.Prefix)
		}
		if !names[r.Interface] {
			return invalid("routes[%d]: unknown interface %q", i, r.Interface)
		}
		if r.Via != "" {
			if _, err := netip.ParseAddr(r.Via); err != nil {
				return invalid("routes[%d]: via %q: %v", i, r.Via, err)
			}
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

// TickDuration returns the parsed engine tick interval.
func (c *EngineConfig) TickDuration() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

// RateLimitDuration returns the parsed rate limit window.
func (c *ReassemblyConfig) RateLimitDuration() time.Duration {
	d, _ := time.ParseDuration(c.RateLimitWindow)
	return d
}

// ParseAddress parses an interface address given as a prefix or a bare
// address (treated as /128).
func ParseAddress(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if !p.Addr().Is6() {
			return netip.Prefix{}, fmt.Errorf("not an IPv6 address")
		}
		return p, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !a.Is6() {
		return netip.Prefix{}, fmt.Errorf("not an IPv6 address")
	}
	return netip.PrefixFrom(a, 128), nil
}

// extensionHeaders are next header values the engine handles itself.
var extensionHeaders = map[int]bool{0: true, 43: true, 44: true, 59: true, 60: true}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, invalid("%s: %v", key, err)
	}
	if d <= 0 {
		return 0, invalid("%s must be positive, got %s", key, s)
	}
	return d, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// CalendarConfig describes the school's ICS feed.
type CalendarConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// CacheDir holds the last good copy of the feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// HorizonDays bounds recurrence expansion either side of today.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// ScheduleConfig holds the cron specs (standard 5-field syntax).
type ScheduleConfig struct {
	// Refresh re-resolves the term dates. Default: 03:00 on the 1st.
	Refresh string `yaml:"refresh" json:"refresh"`
	// Lights starts the morning sequence when it is a school day.
	Lights string `yaml:"lights" json:"lights"`
	// Biweekly restricts the lights to school days in even ISO weeks.
	Biweekly bool `yaml:"biweekly" json:"biweekly"`
}

// MQTTConfig describes the broker and the Tasmota-style device.
type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"client_id"`
	// Device is the topic segment, e.g. cmnd/<device>/COLOR.
	Device         string        `yaml:"device" json:"device"`
	Username       string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string        `yaml:"password,omitempty" json:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// Step types.
const (
	StepSolid  = "solid"
	StepRandom = "random"
	StepWhite  = "white"
)

// StepConfig is one step of the morning light sequence.
type StepConfig struct {
	Type     string        `yaml:"type" json:"type"`
	Colour   string        `yaml:"colour,omitempty" json:"colour,omitempty"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	// Interval is how often a random step changes colour.
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that decides what "today" is.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Sequence []StepConfig   `yaml:"sequence" json:"sequence"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/London"
	defaultCacheDir    = "./var/ics-cache"
	defaultHorizonDays = 730
	defaultRefresh     = "0 3 1 * *"
	defaultLights      = "40 7 * * *"
	defaultBroker      = "tcp://homebridge.local:1883"
	defaultClientID    = "school-lights"
	defaultDevice      = "kitchen-mood-light"
)

// DefaultSequence is the morning routine: green, amber, red, a short
// random-colour finale, then white.
func DefaultSequence() []StepConfig {
	return []StepConfig{
		{Type: StepSolid, Colour: "#00ff00", Duration: 30 * time.Minute},
		{Type: StepSolid, Colour: "#e24c00", Duration: 20 * time.Minute},
		{Type: StepSolid, Colour: "#f02600", Duration: 20 * time.Minute},
		{Type: StepSolid, Colour: "#ff0000", Duration: 2 * time.Minute},
		{Type: StepRandom, Duration: 3 * time.Minute, Interval: 100 * time.Millisecond},
		{Type: StepWhite},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: "info",
		Calendar: CalendarConfig{
			CacheDir:    defaultCacheDir,
			HorizonDays: defaultHorizonDays,
		},
		Schedule: ScheduleConfig{
			Refresh: defaultRefresh,
			Lights:  defaultLights,
		},
		MQTT: MQTTConfig{
			Broker:         defaultBroker,
			ClientID:       defaultClientID,
			Device:         defaultDevice,
			ConnectTimeout: 10 * time.Second,
		},
		Sequence: DefaultSequence(),
	}
}

// Normalize fills in missing/zero values so partially-filled files still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = defaultCacheDir
	}
	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = defaultHorizonDays
	}
	if c.Schedule.Refresh == "" {
		c.Schedule.Refresh = defaultRefresh
	}
	if c.Schedule.Lights == "" {
		c.Schedule.Lights = defaultLights
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = defaultBroker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultClientID
	}
	if c.MQTT.Device == "" {
		c.MQTT.Device = defaultDevice
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if len(c.Sequence) == 0 {
		c.Sequence = DefaultSequence()
	}
	for i := range c.Sequence {
		if c.Sequence[i].Type == StepRandom && c.Sequence[i].Interval <= 0 {
			c.Sequence[i].Interval = 100 * time.Millisecond
		}
	}
}

var hexColour = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate reports the first problem that would stop the service from
// doing its job. It expects a normalized config.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.Schedule.Refresh); err != nil {
		return fmt.Errorf("schedule.refresh %q: %w", c.Schedule.Refresh, err)
	}
	if _, err := cron.ParseStandard(c.Schedule.Lights); err != nil {
		return fmt.Errorf("schedule.lights %q: %w", c.Schedule.Lights, err)
	}
	for i, s := range c.Sequence {
		switch s.Type {
		case StepSolid:
			if !hexColour.MatchString(s.Colour) {
				return fmt.Errorf("sequence[%d]: colour %q is not #rrggbb", i, s.Colour)
			}
			if s.Duration <= 0 {
				return fmt.Errorf("sequence[%d]: duration must be positive", i)
			}
		case StepRandom:
			if s.Duration <= 0 {
				return fmt.Errorf("sequence[%d]: duration must be positive", i)
			}
		case StepWhite:
		default:
			return fmt.Errorf("sequence[%d]: unknown step type %q", i, s.Type)
		}
	}
	return nil
}

// Location returns the configured zone, or time.Local if it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, write a default config with 0600 perms
//     and return it.
//   - Otherwise read YAML, normalize defaults and validate.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether a read-only location is fatal.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schoollights-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
